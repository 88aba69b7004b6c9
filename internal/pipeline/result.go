package pipeline

import (
	"errors"
	"time"
)

// ErrTranscriptionFailed wraps every per-item failure: engine errors, engine
// panics, unreadable artifacts, and engine load failures.
var ErrTranscriptionFailed = errors.New("transcription failed")

// Result is the outcome of one artifact. Exactly one is produced per artifact.
type Result struct {
	ArtifactID    string
	Path          string
	Text          string
	Segments      int
	AudioDuration time.Duration
	Duration      time.Duration
	Attempts      int
	CompletedAt   time.Time
	Err           error
}

func (r Result) Failed() bool { return r.Err != nil }

// Empty reports a successful transcription that produced no text (silence).
func (r Result) Empty() bool { return r.Err == nil && r.Text == "" }

func (r Result) Status() string {
	switch {
	case r.Failed():
		return "failed"
	case r.Empty():
		return "empty"
	default:
		return "success"
	}
}
