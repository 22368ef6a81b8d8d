package feeds

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Ingester downloads threat feeds and keeps their entries in memory
type Ingester struct {
	httpClient *http.Client
	parser     *Parser
	feeds      []FeedSource
	schedule   string
	logger     *slog.Logger

	mu       sync.RWMutex
	entries  map[string]map[string]struct{}
	statuses map[string]FeedStatus

	cron    *cron.Cron
	running bool
}

// IngesterConfig holds configuration for the feed ingester
type IngesterConfig struct {
	HTTPTimeout time.Duration
	Schedule    string // cron spec, e.g. "@every 1h"
	Logger      *slog.Logger
}

// NewIngester creates a new feed ingester for the enabled feeds
func NewIngester(sources []FeedSource, cfg IngesterConfig) *Ingester {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var enabled []FeedSource
	statuses := make(map[string]FeedStatus)
	for _, f := range sources {
		if !f.Enabled {
			continue
		}
		enabled = append(enabled, f)
		statuses[f.Name] = FeedStatus{
			Source:      f.Name,
			DisplayName: f.DisplayName,
			URL:         f.URL,
			SyncStatus:  "pending",
		}
	}

	return &Ingester{
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		parser:   NewParser(),
		feeds:    enabled,
		schedule: cfg.Schedule,
		logger:   cfg.Logger,
		entries:  make(map[string]map[string]struct{}),
		statuses: statuses,
	}
}

// Start runs an initial sync in the background and schedules refreshes
func (fi *Ingester) Start(ctx context.Context) error {
	fi.mu.Lock()
	if fi.running {
		fi.mu.Unlock()
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(fi.schedule, func() { fi.SyncAll(ctx) }); err != nil {
		fi.mu.Unlock()
		return fmt.Errorf("invalid feed schedule %q: %w", fi.schedule, err)
	}
	fi.cron = c
	fi.running = true
	fi.mu.Unlock()

	fi.logger.Info("Feed ingester started", "feeds", len(fi.feeds), "schedule", fi.schedule)

	go fi.SyncAll(ctx)
	c.Start()
	return nil
}

// Stop stops scheduled refreshes and waits for a running sync job
func (fi *Ingester) Stop() {
	fi.mu.Lock()
	if !fi.running {
		fi.mu.Unlock()
		return
	}
	c := fi.cron
	fi.running = false
	fi.mu.Unlock()

	<-c.Stop().Done()
	fi.logger.Info("Feed ingester stopped")
}

// SyncAll syncs every enabled feed concurrently
func (fi *Ingester) SyncAll(ctx context.Context) []SyncResult {
	results := make([]SyncResult, len(fi.feeds))
	var wg sync.WaitGroup

	for i, feed := range fi.feeds {
		wg.Add(1)
		go func(i int, f FeedSource) {
			defer wg.Done()
			results[i] = fi.syncFeed(ctx, f)
			if results[i].Error != nil {
				fi.logger.Error("Feed sync failed", "feed", f.Name, "error", results[i].Error)
			} else {
				fi.logger.Info("Feed synced",
					"feed", f.Name,
					"entries", results[i].EntryCount,
					"duration", results[i].Duration,
				)
			}
		}(i, feed)
	}

	wg.Wait()
	return results
}

// SyncFeed triggers a manual sync of a specific feed
func (fi *Ingester) SyncFeed(ctx context.Context, name string) (*SyncResult, error) {
	for _, f := range fi.feeds {
		if f.Name == name {
			result := fi.syncFeed(ctx, f)
			return &result, result.Error
		}
	}
	return nil, fmt.Errorf("feed not found: %s", name)
}

// syncFeed downloads, parses and swaps in one feed
func (fi *Ingester) syncFeed(ctx context.Context, feed FeedSource) SyncResult {
	start := time.Now()
	result := SyncResult{Source: feed.Name}

	fi.updateStatus(feed.Name, func(s *FeedStatus) {
		s.LastSync = start
		s.SyncStatus = "syncing"
	})

	content, err := fi.downloadFeed(ctx, feed.URL)
	if err != nil {
		result.Error = fmt.Errorf("download failed: %w", err)
		fi.updateFeedError(feed.Name, result.Error)
		return result
	}

	parsed := fi.parser.Parse(content, feed.Format)
	if len(parsed) == 0 {
		result.Error = fmt.Errorf("no entries parsed from feed")
		fi.updateFeedError(feed.Name, result.Error)
		return result
	}

	set := make(map[string]struct{}, len(parsed))
	for _, e := range parsed {
		set[e] = struct{}{}
	}

	fi.mu.Lock()
	fi.entries[feed.Name] = set
	fi.mu.Unlock()

	result.EntryCount = len(parsed)
	result.Success = true
	result.Duration = time.Since(start)

	fi.updateStatus(feed.Name, func(s *FeedStatus) {
		s.LastSuccess = time.Now()
		s.EntryCount = result.EntryCount
		s.SyncStatus = "success"
		s.ErrorMessage = ""
	})

	return result
}

// downloadFeed downloads feed content from URL
func (fi *Ingester) downloadFeed(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", "PhishShield/1.0 FeedFetcher")
	req.Header.Set("Accept", "text/plain, */*")

	resp, err := fi.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP status %d", resp.StatusCode)
	}

	// Limit read to 50MB
	body, err := io.ReadAll(io.LimitReader(resp.Body, 50*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	return string(body), nil
}

func (fi *Ingester) updateStatus(name string, apply func(*FeedStatus)) {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	s := fi.statuses[name]
	apply(&s)
	fi.statuses[name] = s
}

// updateFeedError records a failed sync; previously loaded entries are kept
func (fi *Ingester) updateFeedError(name string, err error) {
	fi.updateStatus(name, func(s *FeedStatus) {
		s.SyncStatus = "error"
		s.ErrorMessage = err.Error()
	})
}

// Statuses returns the status of all feeds ordered by name
func (fi *Ingester) Statuses() []FeedStatus {
	fi.mu.RLock()
	defer fi.mu.RUnlock()

	out := make([]FeedStatus, 0, len(fi.statuses))
	for _, s := range fi.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Loaded reports whether feed has been downloaded successfully at least once
func (fi *Ingester) Loaded(feed string) bool {
	fi.mu.RLock()
	defer fi.mu.RUnlock()

	_, ok := fi.entries[feed]
	return ok
}

// Contains reports whether entry is listed in feed
func (fi *Ingester) Contains(feed, entry string) bool {
	fi.mu.RLock()
	defer fi.mu.RUnlock()

	set, ok := fi.entries[feed]
	if !ok {
		return false
	}
	_, found := set[entry]
	return found
}
