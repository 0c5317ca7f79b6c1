package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultSampleRate = 0.1

type Config struct {
	ServiceName string
	Endpoint    string  // host:port or URL of an OTLP/HTTP collector; empty disables tracing
	SampleRate  float64 // 0..1
}

// Init configures the global OpenTelemetry trace provider.
// With no endpoint, tracing stays disabled and a noop shutdown is returned.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	endpoint, insecure := normalizeEndpoint(cfg.Endpoint)
	if endpoint == "" {
		return noop, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithTimeout(3 * time.Second),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
	}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(initCtx, opts...)
	if err != nil {
		// Non-fatal: service starts without tracing.
		logger.Warn("tracing disabled", slog.String("endpoint", endpoint), slog.String("error", err.Error()))
		return noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(SampleRate(cfg.SampleRate)))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Info("tracing enabled", slog.String("endpoint", endpoint), slog.Float64("sampleRate", SampleRate(cfg.SampleRate)))

	return tp.Shutdown, nil
}

// SampleRate clamps a configured ratio to [0,1], falling back to 10%.
func SampleRate(rate float64) float64 {
	if rate < 0 || rate > 1 {
		return defaultSampleRate
	}
	return rate
}

// normalizeEndpoint strips the scheme the exporter does not accept. Plain
// host:port and http:// endpoints are dialled without TLS.
func normalizeEndpoint(raw string) (string, bool) {
	endpoint := strings.TrimRight(strings.TrimSpace(raw), "/")
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), false
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), true
	default:
		return endpoint, true
	}
}
