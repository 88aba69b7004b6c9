package delivery

import (
	"context"
	"errors"

	"github.com/loqalabs/loqa-scribe/internal/pipeline"
)

// ErrDeliveryFailed wraps every sink failure.
var ErrDeliveryFailed = errors.New("delivery failed")

// Sink receives results in completion order. Deliver is only ever called
// from the dispatcher goroutine.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, result pipeline.Result) error
}
