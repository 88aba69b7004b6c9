package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/procgroup"
	"github.com/mattn/go-shellwords"
)

// ErrCaptureInterrupted marks a recorder that exited before Stop was requested,
// e.g. after a device disconnect. The artifact recorded so far is still returned.
var ErrCaptureInterrupted = errors.New("capture interrupted")

// CaptureStartError reports that the recorder could not be launched.
type CaptureStartError struct {
	Path string
	Err  error
}

func (e *CaptureStartError) Error() string {
	return fmt.Sprintf("start capture %s: %v", e.Path, e.Err)
}

func (e *CaptureStartError) Unwrap() error { return e.Err }

// Artifact is a finished recording waiting for transcription.
type Artifact struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	StartedAt   time.Time `json:"started_at"`
	CreatedAt   time.Time `json:"created_at"`
	Interrupted bool      `json:"interrupted,omitempty"`
}

// Recorder launches one external capture process per recording session.
type Recorder struct {
	command     []string
	dir         string
	sampleRate  int
	channels    int
	bitDepth    int
	stopTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewRecorder(cfg config.RecorderConfig, logger *slog.Logger) (*Recorder, error) {
	r := &Recorder{
		dir:         cfg.Directory,
		sampleRate:  cfg.SampleRate,
		channels:    cfg.Channels,
		bitDepth:    cfg.BitDepth,
		stopTimeout: time.Duration(cfg.StopTimeoutMS) * time.Millisecond,
		logger:      logger.With(slog.String("component", "recorder")),
		now:         time.Now,
	}
	if cfg.Command != "" {
		args, err := shellwords.NewParser().Parse(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("parse recorder command: %w", err)
		}
		if len(args) == 0 {
			return nil, errors.New("recorder command is empty")
		}
		r.command = args
	}
	if r.stopTimeout <= 0 {
		r.stopTimeout = 5 * time.Second
	}
	return r, nil
}

// Directory returns the directory recordings are written to.
func (r *Recorder) Directory() string { return r.dir }

// NextPath returns a fresh timestamped output path inside the recordings directory.
func (r *Recorder) NextPath() string {
	now := r.now()
	path := filepath.Join(r.dir, fmt.Sprintf("recording_%s.wav", now.Format("20060102_150405")))
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(r.dir, fmt.Sprintf("recording_%s_%d.wav", now.Format("20060102_150405"), now.Nanosecond()))
	}
	return path
}

// Start launches the recorder writing to path. The process runs until Stop
// is called on the returned handle or it exits on its own.
func (r *Recorder) Start(path string) (*Handle, error) {
	if err := ensureWritable(path); err != nil {
		return nil, &CaptureStartError{Path: path, Err: err}
	}

	name, args := r.invocation(path)
	binary, err := exec.LookPath(name)
	if err != nil {
		_ = os.Remove(path)
		return nil, &CaptureStartError{Path: path, Err: err}
	}

	cmd := exec.Command(binary, args...)
	procgroup.Isolate(cmd)
	// stdout/stderr left nil so the recorder's diagnostics go to the null device
	if err := cmd.Start(); err != nil {
		_ = os.Remove(path)
		return nil, &CaptureStartError{Path: path, Err: err}
	}

	h := newHandle(cmd, path, r.now(), r.stopTimeout, r.logger)
	r.logger.Info("recording started",
		slog.String("artifact_id", h.id),
		slog.String("path", path),
		slog.Int("pid", cmd.Process.Pid))
	return h, nil
}

// Cleanup removes leftover recordings from the recordings directory.
func (r *Recorder) Cleanup() (int, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, "recording_*.wav"))
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (r *Recorder) invocation(path string) (string, []string) {
	if len(r.command) > 0 {
		args := append([]string{}, r.command[1:]...)
		return r.command[0], append(args, path)
	}
	return "sox", []string{
		"-q",
		"-d",
		"-r", strconv.Itoa(r.sampleRate),
		"-c", strconv.Itoa(r.channels),
		"-b", strconv.Itoa(r.bitDepth),
		"-e", "signed-integer",
		path,
	}
}

func ensureWritable(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
