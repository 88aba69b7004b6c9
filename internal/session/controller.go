package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/capture"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/pipeline"
	"github.com/loqalabs/loqa-scribe/internal/queue"
)

// Recorder starts capture sessions.
type Recorder interface {
	NextPath() string
	Start(path string) (*capture.Handle, error)
	Cleanup() (int, error)
}

// Printer shows operator-facing messages.
type Printer interface {
	Printf(format string, args ...any) error
}

// Copier re-copies the newest transcripts to the clipboard.
type Copier interface {
	CopyRecent(ctx context.Context, n int) (int, error)
}

// Options wires the controller to the rest of the pipeline.
type Options struct {
	Config   config.SessionConfig
	Cleanup  bool
	Recorder Recorder
	Work     *queue.Queue[capture.Artifact]
	// Drained is closed once every result has been delivered after the
	// work queue is stopped.
	Drained <-chan struct{}
	Printer Printer
	Copier  Copier
	Metrics *pipeline.Metrics
	Logger  *slog.Logger
}

// Controller owns the capture handle and the pipeline state. Run is the
// single control loop; Delivered and the read accessors may be called from
// other goroutines.
type Controller struct {
	cfg      config.SessionConfig
	cleanup  bool
	recorder Recorder
	work     *queue.Queue[capture.Artifact]
	drained  <-chan struct{}
	printer  Printer
	copier   Copier
	metrics  *pipeline.Metrics
	logger   *slog.Logger

	handle *capture.Handle

	mu        sync.Mutex
	state     State
	enqueued  int64
	delivered int64
	stopped   chan struct{}
}

func NewController(opts Options) *Controller {
	return &Controller{
		cfg:      opts.Config,
		cleanup:  opts.Cleanup,
		recorder: opts.Recorder,
		work:     opts.Work,
		drained:  opts.Drained,
		printer:  opts.Printer,
		copier:   opts.Copier,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With(slog.String("component", "session")),
		state:    StateIdle,
		stopped:  make(chan struct{}),
	}
}

// State returns the current pipeline state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending is the number of recordings enqueued but not yet delivered.
func (c *Controller) Pending() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueued - c.delivered
}

// Stopped is closed after shutdown completes.
func (c *Controller) Stopped() <-chan struct{} { return c.stopped }

// Delivered is called by the dispatcher after each result reaches the sinks.
func (c *Controller) Delivered(pipeline.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered++
	if c.state == StateTranscribing && c.enqueued == c.delivered {
		c.state = StateIdle
	}
}

func (c *Controller) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == to {
		return nil
	}
	if !isValidTransition(c.state, to) {
		return transitionError(c.state, to)
	}
	c.logger.Debug("state change", slog.String("from", string(c.state)), slog.String("to", string(to)))
	c.state = to
	return nil
}

// settle moves out of stopping to transcribing or idle depending on backlog.
// The backlog is read and the state written under one lock, so a concurrent
// Delivered always observes the settled state.
func (c *Controller) settle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := StateIdle
	if c.enqueued > c.delivered {
		next = StateTranscribing
	}
	if c.state == next || !isValidTransition(c.state, next) {
		return
	}
	c.logger.Debug("state change", slog.String("from", string(c.state)), slog.String("to", string(next)))
	c.state = next
}

// Run processes commands until quit, input-driven idle timeout, or ctx
// cancellation, then performs the orderly shutdown. A closed commands channel
// only stops listening; the controller keeps running until one of the above.
func (c *Controller) Run(ctx context.Context, commands <-chan Command) error {
	defer close(c.stopped)

	if c.cfg.Autostart {
		c.startRecording()
	}

	var idle *time.Timer
	var idleC <-chan time.Time
	if c.cfg.IdleTimeoutMS > 0 {
		idle = time.NewTimer(time.Duration(c.cfg.IdleTimeoutMS) * time.Millisecond)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		var captureDone <-chan struct{}
		if c.handle != nil {
			captureDone = c.handle.Done()
		}

		select {
		case <-ctx.Done():
			c.logger.Info("shutdown requested", slog.String("reason", "signal"))
			return c.shutdown()
		case <-idleC:
			c.logger.Info("shutdown requested", slog.String("reason", "idle timeout"))
			_ = c.printer.Printf("No input for %s, exiting\n", time.Duration(c.cfg.IdleTimeoutMS)*time.Millisecond)
			return c.shutdown()
		case <-captureDone:
			c.logger.Warn("recorder exited unexpectedly", slog.String("artifact_id", c.handle.ID()))
			_ = c.printer.Printf("Recording interrupted, transcribing what was captured\n")
			c.finishRecording(ctx)
		case cmd, ok := <-commands:
			if !ok {
				c.logger.Info("console input closed")
				commands = nil
				continue
			}
			if idle != nil {
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(time.Duration(c.cfg.IdleTimeoutMS) * time.Millisecond)
			}
			if cmd.Name == CmdQuit {
				c.logger.Info("shutdown requested", slog.String("reason", "quit"))
				return c.shutdown()
			}
			c.handleCommand(ctx, cmd)
		}
	}
}

func (c *Controller) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Name {
	case CmdStart:
		if c.handle != nil {
			_ = c.printer.Printf("Already recording\n")
			return
		}
		c.startRecording()
	case CmdStop:
		if c.handle == nil {
			_ = c.printer.Printf("Not recording\n")
			return
		}
		c.stopRecording(ctx)
	case CmdToggle:
		if c.handle == nil {
			c.startRecording()
		} else {
			c.stopRecording(ctx)
		}
	case CmdSubmit:
		if c.handle == nil {
			_ = c.printer.Printf("Not recording\n")
			return
		}
		c.finishRecording(ctx)
		c.startRecording()
	case CmdStatus:
		_ = c.printer.Printf("State: %s\nQueue: %d\n", c.State(), c.Pending())
	case CmdCopy:
		c.copyRecent(ctx, cmd.intArg(1))
	case CmdHelp:
		_ = c.printer.Printf("%s", helpText)
	default:
		_ = c.printer.Printf("Unknown command %q, type help\n", cmd.Name)
	}
}

func (c *Controller) startRecording() {
	if from := c.State(); !isValidTransition(from, StateRecording) {
		c.logger.Warn("cannot start recording", slog.String("error", transitionError(from, StateRecording).Error()))
		return
	}
	h, err := c.recorder.Start(c.recorder.NextPath())
	if err != nil {
		c.logger.Error("capture start failed", slog.String("error", err.Error()))
		_ = c.printer.Printf("Could not start recording: %v\n", err)
		return
	}
	c.handle = h
	_ = c.transition(StateRecording)
	_ = c.printer.Printf("Recording...\n")
}

// stopRecording finishes the current recording and, in continuous mode,
// immediately starts the next one.
func (c *Controller) stopRecording(ctx context.Context) {
	c.finishRecording(ctx)
	if c.cfg.Continuous {
		c.startRecording()
	}
}

// finishRecording stops capture, enqueues the artifact and settles in idle
// or transcribing.
func (c *Controller) finishRecording(ctx context.Context) {
	if err := c.transition(StateStopping); err != nil {
		c.logger.Warn("cannot stop recording", slog.String("error", err.Error()))
		return
	}
	c.captureToQueue(ctx)
	c.settle()
}

// captureToQueue stops the handle and pushes its artifact. Interrupted
// captures still yield an artifact; it is enqueued so the worker decides
// whether anything usable was recorded.
func (c *Controller) captureToQueue(ctx context.Context) {
	h := c.handle
	c.handle = nil
	artifact, err := h.Stop()
	interrupted := errors.Is(err, capture.ErrCaptureInterrupted)
	if err != nil && !interrupted {
		c.logger.Error("capture stop failed", slog.String("error", err.Error()))
	}
	if interrupted {
		c.logger.Warn("recording ended early", slog.String("artifact_id", artifact.ID), slog.String("error", err.Error()))
	}
	c.metrics.RecordRecording(context.WithoutCancel(ctx), interrupted)

	// counted before the push so a fast delivery never sees delivered > enqueued
	c.mu.Lock()
	c.enqueued++
	c.mu.Unlock()
	if err := c.work.Push(artifact); err != nil {
		c.mu.Lock()
		c.enqueued--
		c.mu.Unlock()
		c.logger.Error("artifact not enqueued", slog.String("artifact_id", artifact.ID), slog.String("error", err.Error()))
		_ = c.printer.Printf("Could not queue recording %s: %v\n", artifact.Path, err)
		return
	}
	c.logger.Info("recording queued",
		slog.String("artifact_id", artifact.ID),
		slog.String("path", artifact.Path),
		slog.Duration("length", artifact.CreatedAt.Sub(artifact.StartedAt)))
	_ = c.printer.Printf("Recording stopped, transcribing...\n")
}

func (c *Controller) copyRecent(ctx context.Context, n int) {
	if c.copier == nil {
		_ = c.printer.Printf("Clipboard history is disabled\n")
		return
	}
	copied, err := c.copier.CopyRecent(ctx, n)
	if err != nil {
		c.logger.Warn("copy failed", slog.String("error", err.Error()))
		_ = c.printer.Printf("Copy failed: %v\n", err)
		return
	}
	_ = c.printer.Printf("Copied %d transcript(s)\n", copied)
}

// shutdown keeps whatever was being recorded, lets the worker finish every
// queued item, and waits until all results have been delivered.
func (c *Controller) shutdown() error {
	if err := c.transition(StateShuttingDown); err != nil {
		return err
	}
	if c.handle != nil {
		c.captureToQueue(context.Background())
	}
	c.work.Stop()

	pending := c.Pending()
	if pending > 0 {
		_ = c.printer.Printf("Waiting for %d transcription(s) to finish...\n", pending)
	}
	if c.drained != nil {
		<-c.drained
	}

	if c.cleanup {
		removed, err := c.recorder.Cleanup()
		if err != nil {
			c.logger.Warn("recording cleanup incomplete", slog.String("error", err.Error()))
		}
		c.logger.Info("recordings cleaned up", slog.Int("removed", removed))
	}
	_ = c.transition(StateStopped)
	c.mu.Lock()
	delivered := c.delivered
	c.mu.Unlock()
	c.logger.Info("session finished", slog.Int64("delivered", delivered))
	return nil
}
