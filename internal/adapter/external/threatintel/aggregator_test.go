package threatintel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dscybers/phishshield/internal/entity"
)

// ============================================================================
// Mock Source
// ============================================================================

type MockSource struct {
	mock.Mock
	name string
}

func newMockSource(name string, configured bool) *MockSource {
	m := &MockSource{name: name}
	m.On("IsConfigured").Return(configured).Maybe()
	return m
}

func (m *MockSource) Name() string { return m.name }

func (m *MockSource) IsConfigured() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockSource) Check(ctx context.Context, rawURL string) (*entity.ThreatSourceResult, error) {
	args := m.Called(ctx, rawURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ThreatSourceResult), args.Error(1)
}

// funcSource is a lightweight source for timing tests
type funcSource struct {
	name  string
	check func(ctx context.Context, rawURL string) (*entity.ThreatSourceResult, error)
	calls atomic.Int32
}

func (f *funcSource) Name() string       { return f.name }
func (f *funcSource) IsConfigured() bool { return true }
func (f *funcSource) Check(ctx context.Context, rawURL string) (*entity.ThreatSourceResult, error) {
	f.calls.Add(1)
	return f.check(ctx, rawURL)
}

func hit(confidence float64, category string) *entity.ThreatSourceResult {
	return &entity.ThreatSourceResult{IsMalicious: true, Confidence: confidence, Category: category}
}

func miss(confidence float64) *entity.ThreatSourceResult {
	return &entity.ThreatSourceResult{Confidence: confidence, Category: CategoryClean}
}

const testURL = "http://secure-login.example.com/verify"

// ============================================================================
// Tests
// ============================================================================

func TestAggregator_SingleConfidentSource(t *testing.T) {
	src := newMockSource("feed", true)
	src.On("Check", mock.Anything, testURL).Return(hit(0.9, "phishing"), nil)

	agg := NewAggregator([]Source{src}, AggregatorConfig{})
	result := agg.Analyze(context.Background(), testURL)

	assert.InDelta(t, 0.9, result.ThreatScore, 1e-9)
	assert.True(t, result.IsMalicious)
	assert.Equal(t, entity.ReputationMalicious, result.Reputation)
	assert.Equal(t, []string{"phishing"}, result.Categories)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "feed", result.Sources[0].SourceID)
	assert.Equal(t, 1, result.SourceCount)
	src.AssertExpectations(t)
}

func TestAggregator_DividesByRegisteredSources(t *testing.T) {
	a := newMockSource("a", true)
	a.On("Check", mock.Anything, testURL).Return(hit(0.8, "phishing"), nil)
	b := newMockSource("b", true)
	b.On("Check", mock.Anything, testURL).Return(miss(0.1), nil)
	c := newMockSource("c", false)

	agg := NewAggregator([]Source{a, b, c}, AggregatorConfig{})
	result := agg.Analyze(context.Background(), testURL)

	assert.InDelta(t, 0.8/3, result.ThreatScore, 1e-9)
	assert.False(t, result.IsMalicious)
	assert.Equal(t, entity.ReputationQuestionable, result.Reputation)
	assert.ElementsMatch(t, []string{"phishing", "clean"}, result.Categories)
	c.AssertNotCalled(t, "Check", mock.Anything, mock.Anything)
}

func TestAggregator_SumIsCappedBeforeDivision(t *testing.T) {
	var sources []Source
	for _, name := range []string{"a", "b", "c"} {
		s := newMockSource(name, true)
		s.On("Check", mock.Anything, testURL).Return(hit(0.9, "malware"), nil)
		sources = append(sources, s)
	}

	result := NewAggregator(sources, AggregatorConfig{}).Analyze(context.Background(), testURL)

	assert.InDelta(t, 1.0/3, result.ThreatScore, 1e-9)
	assert.True(t, result.IsMalicious)
	assert.Equal(t, []string{"malware"}, result.Categories)
}

func TestAggregator_ReputationThresholds(t *testing.T) {
	tests := []struct {
		confidence float64
		expected   entity.Reputation
	}{
		{0.75, entity.ReputationMalicious},
		{0.7, entity.ReputationMalicious},
		{0.5, entity.ReputationSuspicious},
		{0.25, entity.ReputationQuestionable},
		{0.1, entity.ReputationClean},
	}

	for _, tt := range tests {
		src := newMockSource("s", true)
		src.On("Check", mock.Anything, testURL).Return(hit(tt.confidence, "phishing"), nil)
		result := NewAggregator([]Source{src}, AggregatorConfig{}).Analyze(context.Background(), testURL)
		assert.Equal(t, tt.expected, result.Reputation, "confidence %.2f", tt.confidence)
	}
}

func TestAggregator_FailingSourceEqualsUnconfigured(t *testing.T) {
	good := func() *MockSource {
		s := newMockSource("good", true)
		s.On("Check", mock.Anything, testURL).Return(hit(0.6, "phishing"), nil)
		return s
	}

	failing := newMockSource("flaky", true)
	failing.On("Check", mock.Anything, testURL).Return(nil, errors.New("connection refused"))
	unconfigured := newMockSource("flaky", false)

	withFailure := NewAggregator([]Source{good(), failing}, AggregatorConfig{}).Analyze(context.Background(), testURL)
	withUnconfigured := NewAggregator([]Source{good(), unconfigured}, AggregatorConfig{}).Analyze(context.Background(), testURL)

	assert.Equal(t, withUnconfigured.ThreatScore, withFailure.ThreatScore)
	assert.Equal(t, withUnconfigured.IsMalicious, withFailure.IsMalicious)
	assert.Equal(t, withUnconfigured.Reputation, withFailure.Reputation)
	assert.Equal(t, withUnconfigured.Categories, withFailure.Categories)
	assert.Equal(t, withUnconfigured.Sources, withFailure.Sources)

	assert.Equal(t, entity.AbsenceError, withFailure.Outcomes[1].Reason)
	assert.Equal(t, entity.AbsenceUnconfigured, withUnconfigured.Outcomes[1].Reason)
}

func TestAggregator_SlowSourceTimesOutWithoutBlockingOthers(t *testing.T) {
	slow := &funcSource{name: "slow", check: func(ctx context.Context, _ string) (*entity.ThreatSourceResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	fast := &funcSource{name: "fast", check: func(context.Context, string) (*entity.ThreatSourceResult, error) {
		return hit(0.9, "phishing"), nil
	}}

	agg := NewAggregator([]Source{slow, fast}, AggregatorConfig{SourceTimeout: 50 * time.Millisecond})

	start := time.Now()
	result := agg.Analyze(context.Background(), testURL)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, entity.AbsenceTimeout, result.Outcomes[0].Reason)
	assert.True(t, result.Outcomes[1].Available())
	assert.InDelta(t, 0.45, result.ThreatScore, 1e-9)
}

func TestAggregator_NilResultIsAbsent(t *testing.T) {
	src := &funcSource{name: "empty", check: func(context.Context, string) (*entity.ThreatSourceResult, error) {
		return nil, nil
	}}

	result := NewAggregator([]Source{src}, AggregatorConfig{}).Analyze(context.Background(), testURL)

	assert.Empty(t, result.Sources)
	assert.Equal(t, 0.0, result.ThreatScore)
	assert.Equal(t, entity.AbsenceError, result.Outcomes[0].Reason)
}

func TestAggregator_ClampsConfidence(t *testing.T) {
	src := &funcSource{name: "loud", check: func(context.Context, string) (*entity.ThreatSourceResult, error) {
		return hit(4.2, "phishing"), nil
	}}

	result := NewAggregator([]Source{src}, AggregatorConfig{}).Analyze(context.Background(), testURL)

	assert.Equal(t, 1.0, result.Sources[0].Confidence)
	assert.LessOrEqual(t, result.ThreatScore, 1.0)
}

func TestAggregator_NoSources(t *testing.T) {
	result := NewAggregator(nil, AggregatorConfig{}).Analyze(context.Background(), testURL)

	assert.Equal(t, 0.0, result.ThreatScore)
	assert.False(t, result.IsMalicious)
	assert.Equal(t, entity.ReputationClean, result.Reputation)
	assert.NotNil(t, result.Categories)
}

func TestAggregator_ProviderStatus(t *testing.T) {
	agg := NewAggregator([]Source{newMockSource("a", true), newMockSource("b", false)}, AggregatorConfig{})

	assert.Equal(t, []ProviderStatus{{Name: "a", Configured: true}, {Name: "b", Configured: false}}, agg.GetProviderStatus())
	assert.Equal(t, []string{"a"}, agg.GetConfiguredProviders())
}
