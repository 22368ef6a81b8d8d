package threatintel

import (
	"context"
	"fmt"
	"strings"

	"github.com/dscybers/phishshield/internal/adapter/external/feeds"
	"github.com/dscybers/phishshield/internal/entity"
)

// FeedLookup answers membership queries against downloaded feeds
type FeedLookup interface {
	Loaded(feed string) bool
	Contains(feed, entry string) bool
}

var _ FeedLookup = (*feeds.Ingester)(nil)

// FeedSource is a threat source backed by a locally synced feed
type FeedSource struct {
	name       string
	feed       string
	lookup     FeedLookup
	confidence float64
	category   string
	keys       func(rawURL string) []string
}

// NewOpenPhishSource matches full URLs against the OpenPhish feed
func NewOpenPhishSource(lookup FeedLookup) *FeedSource {
	return &FeedSource{
		name:       "OpenPhish",
		feed:       feeds.FeedOpenPhish,
		lookup:     lookup,
		confidence: 0.9,
		category:   CategoryPhishing,
		keys: func(rawURL string) []string {
			return []string{feeds.NormalizeURL(rawURL)}
		},
	}
}

// NewMalwareDomainsSource matches the URL host against a malware hosts list
func NewMalwareDomainsSource(lookup FeedLookup) *FeedSource {
	return &FeedSource{
		name:       "MalwareDomains",
		feed:       feeds.FeedMalwareDomains,
		lookup:     lookup,
		confidence: 0.8,
		category:   CategoryMalware,
		keys: func(rawURL string) []string {
			host := hostOf(rawURL)
			if host == "" {
				return nil
			}
			keys := []string{host}
			if bare := strings.TrimPrefix(host, "www."); bare != host {
				keys = append(keys, bare)
			}
			return keys
		},
	}
}

// Name returns the provider name
func (s *FeedSource) Name() string {
	return s.name
}

// IsConfigured is true once the feed has loaded at least once
func (s *FeedSource) IsConfigured() bool {
	return s.lookup != nil && s.lookup.Loaded(s.feed)
}

// Check looks the URL up in the feed
func (s *FeedSource) Check(_ context.Context, rawURL string) (*entity.ThreatSourceResult, error) {
	keys := s.keys(rawURL)
	if len(keys) == 0 {
		return nil, fmt.Errorf("cannot derive %s lookup key from url", s.feed)
	}

	for _, k := range keys {
		if s.lookup.Contains(s.feed, k) {
			return &entity.ThreatSourceResult{
				SourceID:    s.name,
				IsMalicious: true,
				Confidence:  s.confidence,
				Category:    s.category,
			}, nil
		}
	}

	return &entity.ThreatSourceResult{
		SourceID:   s.name,
		Confidence: 0.1,
		Category:   CategoryClean,
	}, nil
}
