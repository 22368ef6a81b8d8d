package threatintel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dscybers/phishshield/internal/entity"
)

// RedisCache shares aggregated results across API replicas.
// Values are JSON encoded and expire server side.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisCache creates a cache backed by client
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Get retrieves a result; any Redis failure is reported as a miss
func (c *RedisCache) Get(ctx context.Context, key string) (*entity.AggregatedThreatIntel, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("[CACHE] redis get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}

	var result entity.AggregatedThreatIntel
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("[CACHE] corrupt cache entry", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return &result, true
}

// Set stores a result with the configured TTL
func (c *RedisCache) Set(ctx context.Context, key string, result *entity.AggregatedThreatIntel) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("[CACHE] marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("[CACHE] redis set failed", "key", key, "error", err)
	}
}

// Delete removes an entry
func (c *RedisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("[CACHE] redis delete failed", "key", key, "error", err)
	}
}

// Stats returns hit/miss counters observed by this replica
func (c *RedisCache) Stats() CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return CacheStats{
		Backend: "redis",
		Size:    -1,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
		TTL:     c.ttl.String(),
	}
}
