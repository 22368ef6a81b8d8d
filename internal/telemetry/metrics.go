package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const meterName = "phishshield"

// Metrics holds the instruments recorded by the analysis pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	analyses       metric.Int64Counter
	earlyExits     metric.Int64Counter
	sourceFailures metric.Int64Counter
	cacheLookups   metric.Int64Counter
	scanSeconds    metric.Float64Histogram
	sandboxActive  metric.Int64UpDownCounter
}

// Init installs a global OTLP meter provider when endpoint is set.
// The returned shutdown func flushes pending metrics.
func Init(ctx context.Context, service, endpoint string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if endpoint == "" {
		slog.Debug("[OTEL] metrics exporter disabled")
		return noop, nil
	}

	res, err := newResource(service)
	if err != nil {
		return noop, err
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exp, err := otlpmetricgrpc.New(initCtx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return noop, err
	}

	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("[OTEL] metrics initialized", "endpoint", endpoint)

	return mp.Shutdown, nil
}

// newResource describes this service; the semconv schema must match the SDK's default resource
func newResource(service string) (*sdkresource.Resource, error) {
	return sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
}

// NewMetrics creates the pipeline instruments on meter.
// Pass nil to use the global meter provider.
func NewMetrics(meter metric.Meter) *Metrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	m := &Metrics{}
	m.analyses, _ = meter.Int64Counter("phishshield_analyses_total",
		metric.WithDescription("Completed URL analyses by threat level"))
	m.earlyExits, _ = meter.Int64Counter("phishshield_early_exits_total",
		metric.WithDescription("Analyses short-circuited after threat intelligence"))
	m.sourceFailures, _ = meter.Int64Counter("phishshield_source_failures_total",
		metric.WithDescription("Threat source checks that produced no result"))
	m.cacheLookups, _ = meter.Int64Counter("phishshield_cache_lookups_total",
		metric.WithDescription("Aggregation cache lookups by outcome"))
	m.scanSeconds, _ = meter.Float64Histogram("phishshield_scan_seconds",
		metric.WithDescription("End to end analysis latency"),
		metric.WithUnit("s"))
	m.sandboxActive, _ = meter.Int64UpDownCounter("phishshield_sandbox_sessions",
		metric.WithDescription("Sandbox sessions currently executing"))
	return m
}

// RecordAnalysis records one finished analysis
func (m *Metrics) RecordAnalysis(ctx context.Context, level string, seconds float64, earlyExit bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("threat_level", level))
	m.analyses.Add(ctx, 1, attrs)
	m.scanSeconds.Record(ctx, seconds, attrs)
	if earlyExit {
		m.earlyExits.Add(ctx, 1)
	}
}

// RecordSourceFailure records a threat source that was absent for a reason other than configuration
func (m *Metrics) RecordSourceFailure(ctx context.Context, source, reason string) {
	if m == nil {
		return
	}
	m.sourceFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("reason", reason),
	))
}

// RecordCacheLookup records an aggregation cache hit or miss
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// SandboxStarted and SandboxFinished track executing sandbox sessions
func (m *Metrics) SandboxStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.sandboxActive.Add(ctx, 1)
}

func (m *Metrics) SandboxFinished(ctx context.Context) {
	if m == nil {
		return
	}
	m.sandboxActive.Add(ctx, -1)
}
