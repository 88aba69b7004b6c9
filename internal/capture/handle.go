package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Handle is one running recording session. Only the session controller
// holds it; Stop may still be called concurrently and is idempotent.
type Handle struct {
	id          string
	path        string
	startedAt   time.Time
	cmd         *exec.Cmd
	stopTimeout time.Duration
	logger      *slog.Logger

	done    chan struct{}
	waitErr error

	stopOnce sync.Once
	artifact Artifact
	stopErr  error
}

func newHandle(cmd *exec.Cmd, path string, startedAt time.Time, stopTimeout time.Duration, logger *slog.Logger) *Handle {
	h := &Handle{
		id:          uuid.NewString(),
		path:        path,
		startedAt:   startedAt,
		cmd:         cmd,
		stopTimeout: stopTimeout,
		logger:      logger,
		done:        make(chan struct{}),
	}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	return h
}

func (h *Handle) ID() string   { return h.id }
func (h *Handle) Path() string { return h.path }

// Done is closed once the recorder process has exited for any reason.
func (h *Handle) Done() <-chan struct{} { return h.done }

// IsActive reports whether the recorder process is still running.
func (h *Handle) IsActive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Stop asks the recorder to terminate gracefully so it can finalise the WAV
// header, waits for it to exit, and returns the artifact. The process is
// killed only if it ignores SIGTERM for longer than the stop timeout.
// Repeated calls return the first result.
func (h *Handle) Stop() (Artifact, error) {
	h.stopOnce.Do(func() {
		interrupted := !h.IsActive()
		if !interrupted {
			if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
				h.logger.Warn("recorder terminate failed", slog.String("error", err.Error()))
			}
			timer := time.NewTimer(h.stopTimeout)
			select {
			case <-h.done:
				timer.Stop()
			case <-timer.C:
				h.logger.Warn("recorder ignored terminate, killing", slog.String("artifact_id", h.id))
				_ = h.cmd.Process.Kill()
				<-h.done
			}
		}

		h.artifact = Artifact{
			ID:          h.id,
			Path:        h.path,
			StartedAt:   h.startedAt,
			CreatedAt:   time.Now(),
			Interrupted: interrupted,
		}
		if interrupted {
			h.stopErr = fmt.Errorf("%w: %v", ErrCaptureInterrupted, exitReason(h.waitErr))
		}
	})
	return h.artifact, h.stopErr
}

func exitReason(err error) string {
	if err == nil {
		return "recorder exited"
	}
	return err.Error()
}
