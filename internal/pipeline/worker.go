package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/capture"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/queue"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EngineLoader produces the engine the worker will own for its lifetime.
type EngineLoader func(ctx context.Context) (stt.Engine, error)

// Worker is the single consumer of the work queue. It owns the engine and
// turns every artifact into exactly one Result, in dequeue order.
type Worker struct {
	work        *queue.Queue[capture.Artifact]
	results     *queue.Queue[Result]
	load        EngineLoader
	opts        stt.Options
	poll        time.Duration
	itemTimeout time.Duration
	maxRetries  int
	backoff     time.Duration
	deleteOK    bool
	metrics     *Metrics
	tracer      trace.Tracer
	logger      *slog.Logger

	probe  func(path string) (audio.Info, error)
	remove func(path string) error
}

func NewWorker(cfg config.PipelineConfig, sttCfg config.STTConfig, work *queue.Queue[capture.Artifact], results *queue.Queue[Result], load EngineLoader, metrics *Metrics, logger *slog.Logger) *Worker {
	return &Worker{
		work:        work,
		results:     results,
		load:        load,
		opts:        stt.OptionsFromConfig(sttCfg),
		poll:        time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		itemTimeout: time.Duration(sttCfg.TimeoutMS) * time.Millisecond,
		maxRetries:  cfg.MaxRetries,
		backoff:     time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
		deleteOK:    cfg.DeleteOnSuccess,
		metrics:     metrics,
		tracer:      otel.Tracer(instrumentationName),
		logger:      logger.With(slog.String("component", "transcription-worker")),
		probe:       audio.Probe,
		remove:      os.Remove,
	}
}

// Run loads the engine and consumes the work queue until the stop sentinel
// arrives, then stops the result queue so the delivery side can finish.
// ctx is the abort signal: once it is cancelled the in-flight item and every
// item pushed afterwards fail without reaching the engine. Run still waits for
// the sentinel so late pushes get a result too, and then returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	defer w.results.Stop()

	loadStart := time.Now()
	engine, loadErr := w.load(ctx)
	if loadErr != nil {
		w.logger.Error("engine load failed, recordings will fail until restart", slogError(loadErr))
	} else {
		w.logger.Info("engine ready", slog.Duration("load_time", time.Since(loadStart)))
		defer func() {
			if err := engine.Close(); err != nil {
				w.logger.Warn("engine close failed", slogError(err))
			}
		}()
	}

	aborting := false
	for {
		artifact, err := w.work.Pop(w.poll)
		switch {
		case errors.Is(err, queue.ErrStopped):
			w.logger.Info("work queue drained, worker exiting")
			return ctx.Err()
		case errors.Is(err, queue.ErrTimeout):
			continue
		case err != nil:
			return err
		}

		if ctx.Err() != nil {
			if !aborting {
				aborting = true
				w.logger.Warn("aborting, remaining recordings fail", slogError(ctx.Err()))
			}
			w.emit(ctx, aborted(ctx, artifact))
			continue
		}
		result := w.process(ctx, engine, loadErr, artifact)
		w.emit(ctx, result)
	}
}

func aborted(ctx context.Context, artifact capture.Artifact) Result {
	return Result{
		ArtifactID:  artifact.ID,
		Path:        artifact.Path,
		CompletedAt: time.Now(),
		Err:         fmt.Errorf("%w: %w", ErrTranscriptionFailed, ctx.Err()),
	}
}

func (w *Worker) emit(ctx context.Context, result Result) {
	w.metrics.RecordResult(context.WithoutCancel(ctx), result)
	if err := w.results.Push(result); err != nil {
		w.logger.Error("result dropped, result queue closed",
			slog.String("artifact_id", result.ArtifactID), slogError(err))
	}
}

func (w *Worker) process(ctx context.Context, engine stt.Engine, loadErr error, artifact capture.Artifact) Result {
	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "transcribe", trace.WithAttributes(
		attribute.String("artifact.id", artifact.ID),
		attribute.String("artifact.path", artifact.Path),
	))
	defer span.End()

	result := Result{ArtifactID: artifact.ID, Path: artifact.Path}
	finish := func(err error) Result {
		result.Duration = time.Since(start)
		result.CompletedAt = time.Now()
		if err != nil {
			result.Err = fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			w.logger.Warn("transcription failed",
				slog.String("artifact_id", artifact.ID),
				slog.String("path", artifact.Path),
				slog.Int("attempts", result.Attempts),
				slogError(err))
			return result
		}
		span.SetAttributes(attribute.Int("segments", result.Segments))
		w.logger.Info("transcription complete",
			slog.String("artifact_id", artifact.ID),
			slog.Duration("elapsed", result.Duration),
			slog.Duration("audio", result.AudioDuration),
			slog.Int("chars", len(result.Text)))
		return result
	}

	if loadErr != nil {
		return finish(fmt.Errorf("engine unavailable: %w", loadErr))
	}
	info, err := w.probe(artifact.Path)
	if err != nil {
		return finish(fmt.Errorf("unreadable artifact: %w", err))
	}
	result.AudioDuration = info.Duration

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, w.backoff*time.Duration(attempt)); err != nil {
				lastErr = err
				break
			}
		}
		result.Attempts = attempt + 1
		segments, err := w.transcribeOnce(ctx, engine, artifact.Path)
		if err == nil {
			result.Text = stt.Join(segments)
			result.Segments = len(segments)
			lastErr = nil
			break
		}
		lastErr = err
		if attempt < w.maxRetries {
			w.logger.Warn("transcription attempt failed, retrying",
				slog.String("artifact_id", artifact.ID),
				slog.Int("attempt", result.Attempts),
				slogError(err))
		}
	}
	if lastErr != nil {
		return finish(lastErr)
	}

	if w.deleteOK {
		if err := w.remove(artifact.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("failed to delete transcribed recording", slog.String("path", artifact.Path), slogError(err))
		}
	}
	return finish(nil)
}

// transcribeOnce keeps engine panics inside the loop body.
func (w *Worker) transcribeOnce(ctx context.Context, engine stt.Engine, path string) (segments []stt.Segment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	if w.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.itemTimeout)
		defer cancel()
	}
	return engine.Transcribe(ctx, path, w.opts)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
