package threatintel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dscybers/phishshield/internal/entity"
)

func TestGuard_HalfOpenAfterCoolDown(t *testing.T) {
	var healthy atomic.Bool
	src := &funcSource{name: "flaky", check: func(context.Context, string) (*entity.ThreatSourceResult, error) {
		if healthy.Load() {
			return miss(0.1), nil
		}
		return nil, errors.New("503")
	}}
	g := Guarded(src, GuardConfig{RequestsPerMinute: 6000, Burst: 10, FailureThreshold: 1, CoolDown: 30 * time.Millisecond})
	ctx := context.Background()

	_, err := g.Check(ctx, testURL)
	require.Error(t, err)
	assert.Equal(t, "open", g.State())

	_, err = g.Check(ctx, testURL)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	time.Sleep(50 * time.Millisecond)
	healthy.Store(true)

	res, err := g.Check(ctx, testURL)
	require.NoError(t, err, "probe allowed after cool down")
	assert.Equal(t, 0.1, res.Confidence)
	assert.Equal(t, "closed", g.State())
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestGuard_SuccessResetsFailureCount(t *testing.T) {
	var fail atomic.Bool
	src := &funcSource{name: "flaky", check: func(context.Context, string) (*entity.ThreatSourceResult, error) {
		if fail.Load() {
			return nil, errors.New("503")
		}
		return miss(0.1), nil
	}}
	g := Guarded(src, GuardConfig{RequestsPerMinute: 6000, Burst: 10, FailureThreshold: 2, CoolDown: time.Hour})
	ctx := context.Background()

	fail.Store(true)
	_, _ = g.Check(ctx, testURL)
	fail.Store(false)
	_, _ = g.Check(ctx, testURL)
	fail.Store(true)
	_, err := g.Check(ctx, testURL)

	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "closed", g.State())
}

func TestGuard_UnknownURLsDoNotTrip(t *testing.T) {
	unknown := &funcSource{name: "VirusTotal", check: func(context.Context, string) (*entity.ThreatSourceResult, error) {
		return nil, ErrNoResult
	}}
	g := Guarded(unknown, GuardConfig{RequestsPerMinute: 6000, Burst: 20, FailureThreshold: 5, CoolDown: time.Hour})

	for i := 0; i < 10; i++ {
		_, err := g.Check(context.Background(), testURL)
		require.ErrorIs(t, err, ErrNoResult)
	}
	assert.Equal(t, int32(10), unknown.calls.Load())
	assert.Equal(t, "closed", g.State())
}

func TestGuard_CallerCancellationDoesNotTrip(t *testing.T) {
	slow := &funcSource{name: "slow", check: func(ctx context.Context, _ string) (*entity.ThreatSourceResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	g := Guarded(slow, GuardConfig{RequestsPerMinute: 6000, Burst: 10, FailureThreshold: 1, CoolDown: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	_, err := g.Check(ctx, testURL)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, "closed", g.State())
}

func TestGuard_ShortCircuitsWhenOpen(t *testing.T) {
	failing := &funcSource{name: "down", check: func(context.Context, string) (*entity.ThreatSourceResult, error) {
		return nil, errors.New("503")
	}}
	g := Guarded(failing, GuardConfig{RequestsPerMinute: 6000, Burst: 10, FailureThreshold: 2, CoolDown: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Check(ctx, testURL)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	_, err := g.Check(ctx, testURL)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), failing.calls.Load())
	assert.Equal(t, "open", g.State())
	assert.Equal(t, "down", g.Name())
}

func TestGuard_CircuitOpenIsReportedByAggregator(t *testing.T) {
	failing := &funcSource{name: "down", check: func(context.Context, string) (*entity.ThreatSourceResult, error) {
		return nil, errors.New("503")
	}}
	g := Guarded(failing, GuardConfig{RequestsPerMinute: 6000, Burst: 10, FailureThreshold: 1, CoolDown: time.Hour})
	agg := NewAggregator([]Source{g}, AggregatorConfig{})

	first := agg.Analyze(context.Background(), testURL)
	second := agg.Analyze(context.Background(), testURL)

	assert.Equal(t, entity.AbsenceError, first.Outcomes[0].Reason)
	assert.Equal(t, entity.AbsenceCircuitOpen, second.Outcomes[0].Reason)
	assert.Equal(t, "open", agg.GetProviderStatus()[0].Circuit)
}

func TestGuard_LimiterHonoursContext(t *testing.T) {
	ok := &funcSource{name: "ok", check: func(context.Context, string) (*entity.ThreatSourceResult, error) {
		return miss(0.1), nil
	}}
	// one token per minute, burst of one
	g := Guarded(ok, GuardConfig{RequestsPerMinute: 1, Burst: 1, FailureThreshold: 5, CoolDown: time.Minute})

	_, err := g.Check(context.Background(), testURL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Check(ctx, testURL)
	assert.Error(t, err)
	assert.Equal(t, int32(1), ok.calls.Load())
}
