package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-scribe/internal/config"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// telemetry owns the process-wide tracer and meter providers installed for
// one runtime session.
type telemetry struct {
	traces  *sdktrace.TracerProvider
	meters  *sdkmetric.MeterProvider
	handler http.Handler
}

// startTelemetry installs tracing and metrics according to cfg.Telemetry.
// Span output for traces=stdout goes to spanOut; stdout is the console.
func startTelemetry(ctx context.Context, cfg config.Config, spanOut io.Writer, logger *slog.Logger) (*telemetry, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("scribe.stt.mode", cfg.STT.Mode),
			attribute.String("scribe.stt.model", cfg.STT.Model),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	exporter, err := traceExporter(ctx, cfg.Telemetry, spanOut)
	if err != nil {
		return nil, err
	}
	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Telemetry.SampleRatio))),
	}
	if exporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	t := &telemetry{traces: sdktrace.NewTracerProvider(traceOpts...)}
	logger.Info("tracing configured",
		slog.String("exporter", cfg.Telemetry.Traces),
		slog.Float64("sample_ratio", cfg.Telemetry.SampleRatio))

	t.meters, t.handler = meterProvider(cfg.Telemetry, res, logger)

	otel.SetTracerProvider(t.traces)
	otel.SetMeterProvider(t.meters)
	return t, nil
}

// traceExporter returns nil when spans are only recorded in-process.
func traceExporter(ctx context.Context, cfg config.TelemetryConfig, spanOut io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.Traces {
	case "", "none":
		return nil, nil
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(spanOut))
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		return exporter, nil
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(strings.TrimSpace(cfg.OTLPEndpoint))}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Traces)
	}
}

// meterProvider exports pipeline metrics through a private prometheus
// registry. The handler is nil when metrics are disabled or the exporter
// could not be built.
func meterProvider(cfg config.TelemetryConfig, res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	if !cfg.Metrics {
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		logger.Warn("prometheus exporter unavailable, metrics disabled", slogError(err))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	return provider, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// MetricsHandler serves /metrics, or nil when metrics are off.
func (t *telemetry) MetricsHandler() http.Handler { return t.handler }

// Shutdown flushes pending spans and metrics.
func (t *telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.meters.Shutdown(ctx), t.traces.Shutdown(ctx))
}
