package threatintel

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dscybers/phishshield/internal/entity"
)

type countingAnalyzer struct {
	calls atomic.Int32
}

func (c *countingAnalyzer) Analyze(_ context.Context, rawURL string) *entity.AggregatedThreatIntel {
	n := c.calls.Add(1)
	return &entity.AggregatedThreatIntel{
		URL:         rawURL,
		ThreatScore: 0.42,
		Reputation:  entity.ReputationSuspicious,
		Categories:  []string{"phishing"},
		ComputedAt:  time.Date(2026, 1, 1, 0, 0, int(n), 0, time.UTC),
	}
}

func TestCacheKey(t *testing.T) {
	key := CacheKey("https://example.com/login")
	assert.True(t, strings.HasPrefix(key, "threat_analysis:"))
	assert.Len(t, strings.TrimPrefix(key, CacheKeyPrefix), 32)

	assert.Equal(t, CacheKey("HTTPS://Example.COM"), CacheKey("https://example.com/"))
	assert.Equal(t, CacheKey("https://example.com/a#frag"), CacheKey("https://example.com/a"))
	assert.NotEqual(t, CacheKey("https://example.com/a"), CacheKey("https://example.com/b"))
}

func TestCachedAggregator_HitIsIdenticalAndSkipsSources(t *testing.T) {
	analyzer := &countingAnalyzer{}
	cache := NewMemoryCache(time.Hour)
	defer cache.Close()
	cached := NewCachedAggregator(analyzer, cache, nil, nil)
	ctx := context.Background()

	first, hit1 := cached.Analyze(ctx, testURL)
	second, hit2 := cached.Analyze(ctx, testURL)

	assert.False(t, hit1)
	assert.True(t, hit2)
	assert.Equal(t, int32(1), analyzer.calls.Load())
	assert.Equal(t, first, second)
	assert.True(t, first.ComputedAt.Equal(second.ComputedAt))
}

func TestCachedAggregator_InvalidateForcesRecompute(t *testing.T) {
	analyzer := &countingAnalyzer{}
	cache := NewMemoryCache(time.Hour)
	defer cache.Close()
	cached := NewCachedAggregator(analyzer, cache, nil, nil)
	ctx := context.Background()

	first, _ := cached.Analyze(ctx, testURL)
	cached.Invalidate(ctx, testURL)
	second, hit := cached.Analyze(ctx, testURL)

	assert.False(t, hit)
	assert.Equal(t, int32(2), analyzer.calls.Load())
	assert.True(t, second.ComputedAt.After(first.ComputedAt))
}

func TestMemoryCache_Expiry(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	defer cache.Close()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	cache.Set(ctx, "k", &entity.AggregatedThreatIntel{URL: "u"})

	now = now.Add(59 * time.Second)
	_, found := cache.Get(ctx, "k")
	assert.True(t, found)

	now = now.Add(time.Second)
	_, found = cache.Get(ctx, "k")
	assert.False(t, found, "entry must not outlive its TTL")

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, "memory", stats.Backend)
}

func TestMemoryCache_SetResetsTTL(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	defer cache.Close()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	cache.Set(ctx, "k", &entity.AggregatedThreatIntel{ThreatScore: 0.1})
	now = now.Add(50 * time.Second)
	cache.Set(ctx, "k", &entity.AggregatedThreatIntel{ThreatScore: 0.2})
	now = now.Add(50 * time.Second)

	got, found := cache.Get(ctx, "k")
	require.True(t, found)
	assert.Equal(t, 0.2, got.ThreatScore)
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	defer cache.Close()
	ctx := context.Background()

	original := &entity.AggregatedThreatIntel{ThreatScore: 0.5}
	cache.Set(ctx, "k", original)
	original.ThreatScore = 0.9

	got, _ := cache.Get(ctx, "k")
	got.ThreatScore = 0.1

	again, _ := cache.Get(ctx, "k")
	assert.Equal(t, 0.5, again.ThreatScore)
}

func TestMemoryCache_CopiesSlices(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	defer cache.Close()
	ctx := context.Background()

	original := &entity.AggregatedThreatIntel{
		Sources:    []entity.ThreatSourceResult{{SourceID: "URLhaus", Confidence: 0.9}},
		Outcomes:   []entity.SourceOutcome{{Result: &entity.ThreatSourceResult{SourceID: "URLhaus", Confidence: 0.9}}},
		Categories: []string{"phishing"},
	}
	cache.Set(ctx, "k", original)
	original.Categories[0] = "clean"

	got, _ := cache.Get(ctx, "k")
	got.Sources[0].Confidence = 0
	got.Outcomes[0].Result.Confidence = 0
	got.Categories[0] = "malware"

	again, _ := cache.Get(ctx, "k")
	assert.Equal(t, []string{"phishing"}, again.Categories)
	assert.Equal(t, 0.9, again.Sources[0].Confidence)
	assert.Equal(t, 0.9, again.Outcomes[0].Result.Confidence)
}

func TestCachedAggregator_CancelledRequestIsNotCached(t *testing.T) {
	analyzer := &countingAnalyzer{}
	cache := NewMemoryCache(time.Hour)
	defer cache.Close()
	cached := NewCachedAggregator(analyzer, cache, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, hit := cached.Analyze(ctx, testURL)
	assert.False(t, hit)
	assert.Equal(t, 0, cache.Stats().Size)

	second, hit := cached.Analyze(context.Background(), testURL)
	assert.False(t, hit, "fresh request recomputes")
	assert.Equal(t, int32(2), analyzer.calls.Load())
	assert.Equal(t, 0.42, second.ThreatScore)

	_, hit = cached.Analyze(context.Background(), testURL)
	assert.True(t, hit)
}

func TestMemoryCache_RemoveExpired(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	defer cache.Close()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	cache.Set(ctx, "old", &entity.AggregatedThreatIntel{})
	now = now.Add(2 * time.Minute)
	cache.Set(ctx, "new", &entity.AggregatedThreatIntel{})

	cache.removeExpired()
	assert.Equal(t, 1, cache.Stats().Size)

	_, found := cache.Get(ctx, "new")
	assert.True(t, found)
}
