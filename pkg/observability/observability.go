// Package observability wires OpenTelemetry into the expense service.
//
// A Provider exports traces and metrics over OTLP gRPC when enabled. Every
// lifecycle call goes through TrackOperation, which opens a span, counts the
// call, records its latency and feeds the in-process SLOTracker. Two domain
// counters sit next to the RED instruments: committed report transitions and
// attestation verification outcomes.
//
// A disabled Provider is fully usable. Spans come from the global no-op
// tracer and only the SLO tracker keeps state.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
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

const instrumentationName = "logware.expenses"

// Latency buckets in seconds. Lifecycle calls are single-row updates, so the
// interesting range is a few milliseconds up to a slow database.
var latencyBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Config configures the exporters.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // host:port of the collector's gRPC receiver
	SampleRate     float64 // 0 disables tracing, 1 keeps every span
	BatchTimeout   time.Duration
	MetricInterval time.Duration
	Enabled        bool
	Insecure       bool // plaintext gRPC, local collectors only
}

func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "logware-expenses",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MetricInterval: 15 * time.Second,
		Enabled:        true,
	}
}

// instruments are nil on a disabled Provider.
type instruments struct {
	operations  metric.Int64Counter
	failures    metric.Int64Counter
	latency     metric.Float64Histogram
	inFlight    metric.Int64UpDownCounter
	transitions metric.Int64Counter
	verified    metric.Int64Counter
}

// Provider owns the trace and meter providers plus the SLO tracker.
type Provider struct {
	config *Config
	logger *slog.Logger
	slo    *SLOTracker

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	inst           *instruments
}

// New builds a Provider. With Enabled false no exporter is dialled.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
		slo:    NewSLOTracker(),
	}
	for _, target := range DefaultSLOTargets() {
		p.slo.SetTarget(target)
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	if err := p.startExporters(ctx, res); err != nil {
		return nil, err
	}

	p.tracer = p.tracerProvider.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion))
	meter := p.meterProvider.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion))
	if p.inst, err = newInstruments(meter); err != nil {
		_ = p.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

// startExporters dials the OTLP trace and metric exporters and installs the
// providers globally.
func (p *Provider) startExporters(ctx context.Context, res *resource.Resource) error {
	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	spanExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spanExporter.Shutdown(ctx)
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	interval := p.config.MetricInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spanExporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sdktrace.ParentBased(samplerFor(p.config.SampleRate))),
	)
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		inst instruments
		errs []error
		err  error
	)
	inst.operations, err = meter.Int64Counter("logware.operations.total",
		metric.WithDescription("Lifecycle and verification calls handled"),
		metric.WithUnit("{operation}"))
	errs = append(errs, err)
	inst.failures, err = meter.Int64Counter("logware.operations.failed",
		metric.WithDescription("Calls that ended in an error"),
		metric.WithUnit("{operation}"))
	errs = append(errs, err)
	inst.latency, err = meter.Float64Histogram("logware.operation.duration",
		metric.WithDescription("Call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	errs = append(errs, err)
	inst.inFlight, err = meter.Int64UpDownCounter("logware.operations.active",
		metric.WithDescription("Calls currently in progress"),
		metric.WithUnit("{operation}"))
	errs = append(errs, err)
	inst.transitions, err = meter.Int64Counter("logware.reports.transitions",
		metric.WithDescription("Committed report status changes"),
		metric.WithUnit("{transition}"))
	errs = append(errs, err)
	inst.verified, err = meter.Int64Counter("logware.attest.verifications",
		metric.WithDescription("Attestation verifications by outcome"),
		metric.WithUnit("{verification}"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Shutdown flushes and stops both providers. Errors are logged, not returned,
// so shutdown always completes.
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

// Tracer returns the provider's tracer, or the global one when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// TrackOperation starts a span for op and returns the context to run the
// call under plus a finish func. finish must be called exactly once with
// the call's error; it closes the span, records the metrics and the SLO
// observation.
func (p *Provider) TrackOperation(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.Tracer().Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))

	set := metric.WithAttributes(append([]attribute.KeyValue{attribute.String("operation", op)}, attrs...)...)
	if p.inst != nil {
		p.inst.operations.Add(ctx, 1, set)
		p.inst.inFlight.Add(ctx, 1, set)
	}

	return ctx, func(err error) {
		elapsed := time.Since(start)
		p.slo.Record(SLOObservation{Operation: op, Latency: elapsed, Success: err == nil})

		if p.inst != nil {
			p.inst.inFlight.Add(ctx, -1, set)
			p.inst.latency.Record(ctx, elapsed.Seconds(), set)
			if err != nil {
				p.inst.failures.Add(ctx, 1, set, metric.WithAttributes(
					attribute.String("error.type", fmt.Sprintf("%T", err))))
			}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// RecordTransition counts a committed status change such as "approve".
func (p *Provider) RecordTransition(ctx context.Context, transition, status string) {
	if p.inst == nil {
		return
	}
	p.inst.transitions.Add(ctx, 1, metric.WithAttributes(
		AttrTransition.String(transition),
		AttrReportStatus.String(status),
	))
}

// RecordVerification counts one verification outcome: "valid", "invalid",
// or the kind of a verification error.
func (p *Provider) RecordVerification(ctx context.Context, algorithm, outcome string) {
	if p.inst == nil {
		return
	}
	attrs := []attribute.KeyValue{AttrVerifyResult.String(outcome)}
	if algorithm != "" {
		attrs = append(attrs, AttrAlgorithm.String(algorithm))
	}
	p.inst.verified.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// SLO returns the tracker fed by TrackOperation.
func (p *Provider) SLO() *SLOTracker {
	return p.slo
}
