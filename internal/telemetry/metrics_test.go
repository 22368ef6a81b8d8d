package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestMetrics_RecordAnalysis(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewMetrics(mp.Meter("test"))
	ctx := context.Background()

	m.RecordAnalysis(ctx, "critical", 0.4, true)
	m.RecordAnalysis(ctx, "low", 2.1, false)
	m.RecordSourceFailure(ctx, "VirusTotal", "timeout")
	m.RecordCacheLookup(ctx, true)

	data := collect(t, reader)

	analyses, ok := data["phishshield_analyses_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range analyses.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)

	exits, ok := data["phishshield_early_exits_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, exits.DataPoints, 1)
	assert.Equal(t, int64(1), exits.DataPoints[0].Value)

	_, ok = data["phishshield_scan_seconds"].(metricdata.Histogram[float64])
	assert.True(t, ok)
	_, ok = data["phishshield_source_failures_total"]
	assert.True(t, ok)
}

func TestMetrics_SandboxGauge(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewMetrics(mp.Meter("test"))
	ctx := context.Background()

	m.SandboxStarted(ctx)
	m.SandboxStarted(ctx)
	m.SandboxFinished(ctx)

	data := collect(t, reader)
	active, ok := data["phishshield_sandbox_sessions"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, active.DataPoints, 1)
	assert.Equal(t, int64(1), active.DataPoints[0].Value)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordAnalysis(ctx, "low", 1, false)
		m.RecordSourceFailure(ctx, "x", "error")
		m.RecordCacheLookup(ctx, false)
		m.SandboxStarted(ctx)
		m.SandboxFinished(ctx)
	})
}

func TestInit_NoEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "phishshield", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewResource_MergesWithSDKDefaults(t *testing.T) {
	res, err := newResource("phishshield")
	require.NoError(t, err)

	name, ok := res.Set().Value(attribute.Key("service.name"))
	require.True(t, ok)
	assert.Equal(t, "phishshield", name.AsString())
}

func TestInit_WithEndpoint(t *testing.T) {
	// the gRPC client connects lazily, so no collector is needed
	shutdown, err := Init(context.Background(), "phishshield", "localhost:4317")
	require.NoError(t, err)
	_, installed := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, installed)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = shutdown(ctx)
}
