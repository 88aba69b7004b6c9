package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/pipeline"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

// Publisher is the subset of the bus client the sink needs.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// BusSink broadcasts transcripts so other processes can consume them.
type BusSink struct {
	pub       Publisher
	sessionID string
}

func NewBusSink(pub Publisher, sessionID string) *BusSink {
	return &BusSink{pub: pub, sessionID: sessionID}
}

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Deliver(_ context.Context, result pipeline.Result) error {
	var err error
	switch result.Status() {
	case "empty":
		return nil
	case "failed":
		err = s.pub.PublishJSON(protocol.SubjectTranscriptFailed, protocol.TranscriptFailure{
			SessionID:  s.sessionID,
			ArtifactID: result.ArtifactID,
			Error:      result.Err.Error(),
			Timestamp:  time.Now().UTC(),
		})
	default:
		err = s.pub.PublishJSON(protocol.SubjectTranscriptFinal, protocol.Transcript{
			SessionID:     s.sessionID,
			ArtifactID:    result.ArtifactID,
			Text:          result.Text,
			Timestamp:     result.CompletedAt.UTC(),
			AudioSeconds:  result.AudioDuration.Seconds(),
			ElapsedMillis: result.Duration.Milliseconds(),
		})
	}
	if err != nil {
		return fmt.Errorf("%w: bus: %w", ErrDeliveryFailed, err)
	}
	return nil
}
