package threatintel

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dscybers/phishshield/internal/entity"
)

// CacheKeyPrefix namespaces aggregation cache entries
const CacheKeyPrefix = "threat_analysis:"

// Cache stores aggregated threat intel for a fixed TTL
type Cache interface {
	Get(ctx context.Context, key string) (*entity.AggregatedThreatIntel, bool)
	Set(ctx context.Context, key string, result *entity.AggregatedThreatIntel)
	Delete(ctx context.Context, key string)
	Stats() CacheStats
}

// CacheStats contains cache statistics
type CacheStats struct {
	Backend string  `json:"backend"`
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	TTL     string  `json:"ttl"`
}

// NormalizeURL canonicalizes a URL for keying: lowercase scheme and host,
// no fragment, and an explicit root path
func NormalizeURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// CacheKey returns the namespaced cache key for a URL
func CacheKey(rawURL string) string {
	sum := md5.Sum([]byte(NormalizeURL(rawURL)))
	return CacheKeyPrefix + hex.EncodeToString(sum[:])
}

// MemoryCache provides in-memory caching for aggregated results
type MemoryCache struct {
	data   map[string]*cacheEntry
	ttl    time.Duration
	mu     sync.RWMutex
	hits   int64
	misses int64
	now    func() time.Time
	stopCh chan struct{}
	once   sync.Once
}

type cacheEntry struct {
	result    *entity.AggregatedThreatIntel
	expiresAt time.Time
}

// NewMemoryCache creates a new in-memory cache and starts its expiry sweep
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	cache := &MemoryCache{
		data:   make(map[string]*cacheEntry),
		ttl:    ttl,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

// Get retrieves a result from cache
func (c *MemoryCache) Get(_ context.Context, key string) (*entity.AggregatedThreatIntel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.data[key]
	if !exists {
		c.misses++
		return nil, false
	}

	if !c.now().Before(entry.expiresAt) {
		delete(c.data, key)
		c.misses++
		return nil, false
	}

	c.hits++
	return cloneIntel(entry.result), true
}

// Set stores a result, resetting its TTL
func (c *MemoryCache) Set(_ context.Context, key string, result *entity.AggregatedThreatIntel) {
	stored := cloneIntel(result)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = &cacheEntry{
		result:    stored,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Delete removes an entry from cache
func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Backend: "memory",
		Size:    len(c.data),
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: hitRate,
		TTL:     c.ttl.String(),
	}
}

// cloneIntel deep-copies a result so callers never share slices with the cache
func cloneIntel(in *entity.AggregatedThreatIntel) *entity.AggregatedThreatIntel {
	out := *in
	out.Sources = slices.Clone(in.Sources)
	out.Categories = slices.Clone(in.Categories)
	if in.Outcomes != nil {
		out.Outcomes = make([]entity.SourceOutcome, len(in.Outcomes))
		for i, o := range in.Outcomes {
			if o.Result != nil {
				r := *o.Result
				o.Result = &r
			}
			out.Outcomes[i] = o
		}
	}
	return &out
}

// Close stops the background sweep
func (c *MemoryCache) Close() {
	c.once.Do(func() { close(c.stopCh) })
}

// cleanup periodically removes expired entries
func (c *MemoryCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired removes all expired entries
func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.data {
		if !now.Before(entry.expiresAt) {
			delete(c.data, key)
		}
	}
}
