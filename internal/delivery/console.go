package delivery

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/pipeline"
)

// ConsoleSink prints every result for the operator.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Deliver(_ context.Context, result pipeline.Result) error {
	switch result.Status() {
	case "failed":
		return s.Printf("Transcription failed: %v\n", result.Err)
	case "empty":
		return s.Printf("No speech detected (%.2f seconds)\n", result.Duration.Seconds())
	default:
		return s.Printf("Transcription time: %.2f seconds\nTranscription: %s\n", result.Duration.Seconds(), result.Text)
	}
}

// Printf serialises writes from the dispatcher and the session controller.
func (s *ConsoleSink) Printf(format string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.out, format, args...); err != nil {
		return fmt.Errorf("%w: console: %w", ErrDeliveryFailed, err)
	}
	return nil
}
