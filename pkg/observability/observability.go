// Package observability provides OpenTelemetry tracing and metrics for
// the ingestion core, plus slog setup.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317"
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "discograph",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       true,
	}
}

// Provider manages the trace and metric providers and the ingestion
// metrics. The zero value (or a disabled provider) is safe to use:
// every recording method is a no-op when instruments are nil.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	eventsAccepted  metric.Int64Counter
	eventsDuplicate metric.Int64Counter
	eventsFailed    metric.Int64Counter
	projectionHist  metric.Float64Histogram
	eventsInFlight  metric.Int64UpDownCounter
}

// New creates the observability provider and installs it globally.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("discograph",
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter("discograph",
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error
	p.eventsAccepted, err = p.meter.Int64Counter("discograph.events.accepted",
		metric.WithDescription("Anchored events accepted and dispatched"),
		metric.WithUnit("{event}"))
	if err != nil {
		return err
	}
	p.eventsDuplicate, err = p.meter.Int64Counter("discograph.events.duplicate",
		metric.WithDescription("Anchored events skipped as duplicates"),
		metric.WithUnit("{event}"))
	if err != nil {
		return err
	}
	p.eventsFailed, err = p.meter.Int64Counter("discograph.events.failed",
		metric.WithDescription("Anchored events that failed permanently"),
		metric.WithUnit("{event}"))
	if err != nil {
		return err
	}
	p.projectionHist, err = p.meter.Float64Histogram("discograph.projection.duration",
		metric.WithDescription("Graph projection duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0))
	if err != nil {
		return err
	}
	p.eventsInFlight, err = p.meter.Int64UpDownCounter("discograph.events.in_flight",
		metric.WithDescription("Anchored events currently being processed"),
		metric.WithUnit("{event}"))
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer("discograph")
	}
	return p.tracer
}

// RecordAccepted counts a dispatched event.
func (p *Provider) RecordAccepted(ctx context.Context, action string) {
	if p != nil && p.eventsAccepted != nil {
		p.eventsAccepted.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	}
}

// RecordDuplicate counts a deduplicated event.
func (p *Provider) RecordDuplicate(ctx context.Context) {
	if p != nil && p.eventsDuplicate != nil {
		p.eventsDuplicate.Add(ctx, 1)
	}
}

// RecordFailed counts a permanently failed event.
func (p *Provider) RecordFailed(ctx context.Context, err error) {
	if p != nil && p.eventsFailed != nil {
		p.eventsFailed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("error.type", fmt.Sprintf("%T", err))))
	}
}

// TrackEvent opens a span for one anchored event and tracks the
// in-flight gauge and projection duration. The returned func must be
// called when handling completes.
func (p *Provider) TrackEvent(ctx context.Context, action string) (context.Context, func(error)) {
	start := time.Now()
	attrs := []attribute.KeyValue{attribute.String("action", action)}
	ctx, span := p.Tracer().Start(ctx, "intake.handle",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attrs...))

	if p != nil && p.eventsInFlight != nil {
		p.eventsInFlight.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	return ctx, func(err error) {
		if p != nil {
			if p.eventsInFlight != nil {
				p.eventsInFlight.Add(ctx, -1, metric.WithAttributes(attrs...))
			}
			if p.projectionHist != nil {
				p.projectionHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
			}
		}
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

// NewLogger builds the process-wide structured logger. Level is one of
// debug, info, warn, error; anything else means info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
