package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/pipeline"
	"github.com/loqalabs/loqa-scribe/internal/queue"
)

const defaultPoll = 200 * time.Millisecond

// Dispatcher drains the result queue and hands each result to every sink in
// order. It exits once the worker has stopped the result queue and every
// result before the stop marker has been delivered.
type Dispatcher struct {
	results     *queue.Queue[pipeline.Result]
	sinks       []Sink
	fallback    *ConsoleSink
	onDelivered func(pipeline.Result)
	logger      *slog.Logger
	poll        time.Duration

	delivered atomic.Int64
	failures  atomic.Int64
	done      chan struct{}
}

// NewDispatcher builds a dispatcher. fallback receives the transcript text
// whenever a sink fails so it is never lost; it may be nil.
func NewDispatcher(results *queue.Queue[pipeline.Result], fallback *ConsoleSink, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		results:  results,
		sinks:    sinks,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "dispatcher")),
		poll:     defaultPoll,
		done:     make(chan struct{}),
	}
}

// OnDelivered registers fn to run after all sinks have seen a result.
// Must be called before Run.
func (d *Dispatcher) OnDelivered(fn func(pipeline.Result)) {
	d.onDelivered = fn
}

// SetPollInterval bounds each wait on the result queue. Must be called before Run.
func (d *Dispatcher) SetPollInterval(poll time.Duration) {
	if poll > 0 {
		d.poll = poll
	}
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Delivered is the number of results handed to the sinks so far.
func (d *Dispatcher) Delivered() int64 { return d.delivered.Load() }

// Failures is the number of individual sink deliveries that failed.
func (d *Dispatcher) Failures() int64 { return d.failures.Load() }

// Run blocks until the result queue is stopped and drained. Sink calls do
// not observe ctx cancellation so queued results still flush during shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	ctx = context.WithoutCancel(ctx)
	for {
		result, err := d.results.Pop(d.poll)
		switch {
		case errors.Is(err, queue.ErrStopped):
			d.logger.Info("result queue drained", slog.Int64("delivered", d.delivered.Load()))
			return nil
		case errors.Is(err, queue.ErrTimeout):
			continue
		case err != nil:
			return err
		}
		d.dispatch(ctx, result)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, result pipeline.Result) {
	for _, sink := range d.sinks {
		if err := d.deliver(ctx, sink, result); err != nil {
			d.failures.Add(1)
			d.logger.Warn("delivery failed",
				slog.String("sink", sink.Name()),
				slog.String("artifact_id", result.ArtifactID),
				slog.String("error", err.Error()))
			if d.fallback != nil && sink != Sink(d.fallback) && result.Text != "" {
				_ = d.fallback.Printf("Delivery to %s failed, transcript: %s\n", sink.Name(), result.Text)
			}
		}
	}
	d.delivered.Add(1)
	if d.onDelivered != nil {
		d.onDelivered(result)
	}
}

// deliver isolates sink panics so one bad sink cannot stop delivery.
func (d *Dispatcher) deliver(ctx context.Context, sink Sink, result pipeline.Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: sink panic: %v", ErrDeliveryFailed, r)
		}
	}()
	return sink.Deliver(ctx, result)
}
