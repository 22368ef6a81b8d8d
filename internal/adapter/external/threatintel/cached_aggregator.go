package threatintel

import (
	"context"
	"log/slog"

	"github.com/dscybers/phishshield/internal/entity"
	"github.com/dscybers/phishshield/internal/telemetry"
)

// Analyzer computes aggregated threat intel for a URL
type Analyzer interface {
	Analyze(ctx context.Context, rawURL string) *entity.AggregatedThreatIntel
}

var _ Analyzer = (*Aggregator)(nil)

// CachedAggregator is a read-through cache in front of an Analyzer.
// Concurrent misses for the same URL may both compute; the last Set wins.
type CachedAggregator struct {
	analyzer Analyzer
	cache    Cache
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// NewCachedAggregator wraps analyzer with cache
func NewCachedAggregator(analyzer Analyzer, cache Cache, logger *slog.Logger, metrics *telemetry.Metrics) *CachedAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedAggregator{
		analyzer: analyzer,
		cache:    cache,
		logger:   logger,
		metrics:  metrics,
	}
}

// Analyze returns the cached result for rawURL when fresh, otherwise computes
// and stores it. The bool reports whether the cache answered.
func (c *CachedAggregator) Analyze(ctx context.Context, rawURL string) (*entity.AggregatedThreatIntel, bool) {
	key := CacheKey(rawURL)

	if cached, found := c.cache.Get(ctx, key); found {
		c.metrics.RecordCacheLookup(ctx, true)
		c.logger.Debug("[TIP] cache hit", "url", rawURL, "key", key)
		return cached, true
	}
	c.metrics.RecordCacheLookup(ctx, false)

	result := c.analyzer.Analyze(ctx, rawURL)

	// Sources cut short by the caller report nothing; keep that out of the cache
	if err := ctx.Err(); err != nil {
		c.logger.Debug("[TIP] result not cached, request ended early", "url", rawURL, "error", err)
		return result, false
	}
	c.cache.Set(ctx, key, result)
	return result, false
}

// Invalidate drops the cached result for rawURL
func (c *CachedAggregator) Invalidate(ctx context.Context, rawURL string) {
	c.cache.Delete(ctx, CacheKey(rawURL))
	c.logger.Info("[TIP] cache invalidated", "url", rawURL)
}

// Stats returns cache statistics
func (c *CachedAggregator) Stats() CacheStats {
	return c.cache.Stats()
}
