package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-scribe/pipeline"

// Metrics records pipeline throughput. A nil *Metrics is valid and records nothing.
type Metrics struct {
	transcriptions metric.Int64Counter
	latency        metric.Float64Histogram
	audioSeconds   metric.Float64Histogram
	recordings     metric.Int64Counter
}

// NewMetrics registers instruments on the global meter provider. depths is
// polled on every collection and reports queue lengths keyed by queue name.
func NewMetrics(depths func() map[string]int64) (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	transcriptions, err := meter.Int64Counter("scribe.transcriptions",
		metric.WithDescription("Transcription results by status"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("scribe.transcription.duration",
		metric.WithDescription("Wall time spent transcribing one recording"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	audioSeconds, err := meter.Float64Histogram("scribe.audio.duration",
		metric.WithDescription("Length of transcribed recordings"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	recordings, err := meter.Int64Counter("scribe.recordings",
		metric.WithDescription("Finished recordings by outcome"))
	if err != nil {
		return nil, err
	}
	depth, err := meter.Int64ObservableGauge("scribe.queue.depth",
		metric.WithDescription("Items waiting in pipeline queues"))
	if err != nil {
		return nil, err
	}
	if depths != nil {
		_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
			for name, n := range depths() {
				obs.ObserveInt64(depth, n, metric.WithAttributes(attribute.String("queue", name)))
			}
			return nil
		}, depth)
		if err != nil {
			return nil, err
		}
	}

	return &Metrics{
		transcriptions: transcriptions,
		latency:        latency,
		audioSeconds:   audioSeconds,
		recordings:     recordings,
	}, nil
}

func (m *Metrics) RecordResult(ctx context.Context, r Result) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", r.Status()))
	m.transcriptions.Add(ctx, 1, attrs)
	m.latency.Record(ctx, r.Duration.Seconds(), attrs)
	if r.AudioDuration > 0 {
		m.audioSeconds.Record(ctx, r.AudioDuration.Seconds())
	}
}

func (m *Metrics) RecordRecording(ctx context.Context, interrupted bool) {
	if m == nil {
		return
	}
	outcome := "completed"
	if interrupted {
		outcome = "interrupted"
	}
	m.recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
