package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/pipeline"
)

// HistorySink records every outcome so transcripts can be listed and re-copied.
type HistorySink struct {
	store     *eventstore.Store
	sessionID string
}

func NewHistorySink(store *eventstore.Store, sessionID string) *HistorySink {
	return &HistorySink{store: store, sessionID: sessionID}
}

func (s *HistorySink) Name() string { return "history" }

func (s *HistorySink) Deliver(ctx context.Context, result pipeline.Result) error {
	entry := eventstore.Entry{
		SessionID:  s.sessionID,
		ArtifactID: result.ArtifactID,
		Path:       result.Path,
		Text:       result.Text,
		Status:     result.Status(),
		Audio:      result.AudioDuration,
		Elapsed:    result.Duration,
		CreatedAt:  result.CompletedAt,
	}
	if result.Err != nil {
		entry.Error = result.Err.Error()
	}
	if err := s.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("%w: history: %w", ErrDeliveryFailed, err)
	}
	return nil
}

// Recall re-copies earlier transcripts from history.
type Recall struct {
	store *eventstore.Store
	clip  *ClipboardSink
}

func NewRecall(store *eventstore.Store, clip *ClipboardSink) *Recall {
	return &Recall{store: store, clip: clip}
}

// CopyRecent copies the newest n transcripts, oldest first, one per line.
func (r *Recall) CopyRecent(ctx context.Context, n int) (int, error) {
	entries, err := r.store.Recent(ctx, n)
	if err != nil {
		return 0, fmt.Errorf("load history: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	if err := r.clip.Copy(ctx, strings.Join(texts, "\n")); err != nil {
		return 0, err
	}
	return len(entries), nil
}
