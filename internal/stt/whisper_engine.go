//go:build whisper_cpp

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/config"
)

type whisperEngine struct {
	model   whisperpkg.Model
	threads uint
	logger  *slog.Logger
}

// NewWhisperEngine loads a ggml model into memory. This is the slow step and
// must happen once per process.
func NewWhisperEngine(cfg config.STTConfig, logger *slog.Logger) (Engine, error) {
	threads := uint(runtime.NumCPU())
	if cfg.Threads > 0 {
		threads = uint(cfg.Threads)
	}
	model, err := whisperpkg.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	logger.Info("whisper model loaded",
		slog.String("model", cfg.ModelPath),
		slog.Int("threads", int(threads)))
	return &whisperEngine{model: model, threads: threads, logger: logger}, nil
}

func (e *whisperEngine) Transcribe(ctx context.Context, path string, opts Options) ([]Segment, error) {
	samples, rate, err := audio.DecodeFileToFloat32(path)
	if err != nil {
		return nil, err
	}
	if rate != whisperpkg.SampleRate {
		return nil, fmt.Errorf("unsupported sample rate %d, want %d", rate, whisperpkg.SampleRate)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	wctx.SetThreads(e.threads)
	if opts.Language != "" {
		if err := wctx.SetLanguage(opts.Language); err != nil {
			return nil, fmt.Errorf("set language: %w", err)
		}
	}
	if opts.BeamSize > 0 {
		wctx.SetBeamSize(opts.BeamSize)
	}

	// the encoder callback returning false aborts decoding
	proceed := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, proceed, nil, nil); err != nil {
		return nil, fmt.Errorf("process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var segments []Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return segments, fmt.Errorf("read segment: %w", err)
		}
		segments = append(segments, Segment{Text: seg.Text, Start: seg.Start, End: seg.End})
	}
	return segments, nil
}

func (e *whisperEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}
