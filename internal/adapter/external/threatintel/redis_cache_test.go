package threatintel

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dscybers/phishshield/internal/entity"
)

func newTestRedisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, ttl, nil), mr
}

func TestRedisCache_RoundTripKeepsComputedAt(t *testing.T) {
	cache, mr := newTestRedisCache(t, time.Hour)
	ctx := context.Background()
	key := CacheKey(testURL)

	stored := &entity.AggregatedThreatIntel{
		URL:         testURL,
		ThreatScore: 0.55,
		IsMalicious: true,
		Sources:     []entity.ThreatSourceResult{{SourceID: "URLhaus", IsMalicious: true, Confidence: 0.9, Category: CategoryPhishing}},
		Categories:  []string{CategoryPhishing},
		Reputation:  entity.ReputationSuspicious,
		SourceCount: 2,
		ComputedAt:  time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.UTC),
	}
	cache.Set(ctx, key, stored)

	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	got, found := cache.Get(ctx, key)
	require.True(t, found)
	assert.True(t, got.ComputedAt.Equal(stored.ComputedAt))
	assert.Equal(t, stored.Sources, got.Sources)
	assert.Equal(t, stored.Categories, got.Categories)
	assert.Equal(t, stored.ThreatScore, got.ThreatScore)
	assert.Equal(t, stored.Reputation, got.Reputation)
}

func TestRedisCache_ExpiresWithTTL(t *testing.T) {
	cache, mr := newTestRedisCache(t, time.Minute)
	ctx := context.Background()

	cache.Set(ctx, "k", &entity.AggregatedThreatIntel{URL: "u"})

	mr.FastForward(59 * time.Second)
	_, found := cache.Get(ctx, "k")
	assert.True(t, found)

	mr.FastForward(time.Second)
	_, found = cache.Get(ctx, "k")
	assert.False(t, found, "entry must not outlive its TTL")

	stats := cache.Stats()
	assert.Equal(t, "redis", stats.Backend)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestRedisCache_DeleteAndCorruptEntries(t *testing.T) {
	cache, mr := newTestRedisCache(t, time.Minute)
	ctx := context.Background()

	cache.Set(ctx, "k", &entity.AggregatedThreatIntel{URL: "u"})
	cache.Delete(ctx, "k")
	_, found := cache.Get(ctx, "k")
	assert.False(t, found)

	require.NoError(t, mr.Set("bad", "{not json"))
	_, found = cache.Get(ctx, "bad")
	assert.False(t, found)
}

func TestRedisCache_UnreachableIsAMiss(t *testing.T) {
	cache, mr := newTestRedisCache(t, time.Minute)
	mr.Close()

	_, found := cache.Get(context.Background(), "k")
	assert.False(t, found)
	assert.NotPanics(t, func() {
		cache.Set(context.Background(), "k", &entity.AggregatedThreatIntel{})
	})
}

func TestCachedAggregator_WithRedis(t *testing.T) {
	cache, _ := newTestRedisCache(t, time.Hour)
	analyzer := &countingAnalyzer{}
	cached := NewCachedAggregator(analyzer, cache, nil, nil)
	ctx := context.Background()

	first, hit1 := cached.Analyze(ctx, testURL)
	second, hit2 := cached.Analyze(ctx, "HTTP://Secure-Login.Example.com/verify")

	assert.False(t, hit1)
	assert.True(t, hit2)
	assert.Equal(t, int32(1), analyzer.calls.Load())
	assert.True(t, first.ComputedAt.Equal(second.ComputedAt))
}
