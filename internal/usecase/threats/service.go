package threats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dscybers/phishshield/internal/adapter/external/feeds"
	"github.com/dscybers/phishshield/internal/adapter/external/threatintel"
	"github.com/dscybers/phishshield/internal/entity"
)

var (
	ErrInvalidURL    = errors.New("invalid url")
	ErrInvalidDomain = errors.New("invalid domain")
	ErrFeedsDisabled = errors.New("threat feeds disabled")
)

// maxReports bounds the in-memory report log
const maxReports = 1000

// Intel is the cached aggregation layer
type Intel interface {
	Analyze(ctx context.Context, rawURL string) (*entity.AggregatedThreatIntel, bool)
	Invalidate(ctx context.Context, rawURL string)
	Stats() threatintel.CacheStats
}

// Providers describes the registered threat sources
type Providers interface {
	GetProviderStatus() []threatintel.ProviderStatus
	GetConfiguredProviders() []string
}

// Feeds is the feed ingester backing the list-based sources
type Feeds interface {
	Statuses() []feeds.FeedStatus
	SyncAll(ctx context.Context) []feeds.SyncResult
}

// Service handles threat intelligence business logic
type Service struct {
	intel     Intel
	providers Providers
	feeds     Feeds
	logger    *slog.Logger

	mu      sync.RWMutex
	reports []entity.ThreatReport
	now     func() time.Time
}

// NewService creates a new threats service
func NewService(intel Intel, providers Providers, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		intel:     intel,
		providers: providers,
		logger:    logger,
		now:       time.Now,
	}
}

// SetFeeds enables feed status and sync
func (s *Service) SetFeeds(f Feeds) {
	s.feeds = f
}

// AnalyzeURL returns aggregated threat intel for a URL
func (s *Service) AnalyzeURL(ctx context.Context, rawURL string) (*entity.AggregatedThreatIntel, bool, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	result, hit := s.intel.Analyze(ctx, u.String())
	return result, hit, nil
}

// AnalyzeDomain runs the aggregation against the domain's root URL
func (s *Service) AnalyzeDomain(ctx context.Context, domain string) (*entity.AggregatedThreatIntel, bool, error) {
	d, err := normalizeDomain(domain)
	if err != nil {
		return nil, false, err
	}
	result, hit := s.intel.Analyze(ctx, "http://"+d+"/")
	return result, hit, nil
}

// DomainReputation summarizes the aggregation for a domain
func (s *Service) DomainReputation(ctx context.Context, domain string) (*entity.DomainReputation, error) {
	result, _, err := s.AnalyzeDomain(ctx, domain)
	if err != nil {
		return nil, err
	}

	checkedAt := result.ComputedAt
	if checkedAt.IsZero() {
		checkedAt = s.now()
	}
	return &entity.DomainReputation{
		Domain:      strings.ToLower(strings.TrimSpace(domain)),
		Reputation:  result.Reputation,
		ThreatScore: result.ThreatScore,
		Categories:  result.Categories,
		Sources:     len(result.Sources),
		CheckedAt:   checkedAt,
	}, nil
}

func normalizeDomain(domain string) (string, error) {
	d := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if d == "" || !strings.Contains(d, ".") || strings.ContainsAny(d, "/?#@: ") {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	return d, nil
}

// Sources returns the configuration state of every threat source
func (s *Service) Sources() []threatintel.ProviderStatus {
	return s.providers.GetProviderStatus()
}

// Stats is the threat-intel overview exposed by the API
type Stats struct {
	CacheStats          threatintel.CacheStats `json:"cache_stats"`
	ConfiguredProviders []string               `json:"configured_providers"`
	ReportsReceived     int                    `json:"reports_received"`
}

// GetStats returns cache and provider statistics
func (s *Service) GetStats() *Stats {
	s.mu.RLock()
	reports := len(s.reports)
	s.mu.RUnlock()

	configured := s.providers.GetConfiguredProviders()
	if configured == nil {
		configured = []string{}
	}
	return &Stats{
		CacheStats:          s.intel.Stats(),
		ConfiguredProviders: configured,
		ReportsReceived:     reports,
	}
}

// ReportThreat records a user report and drops the URL's cached result so
// the next analysis queries the sources again
func (s *Service) ReportThreat(ctx context.Context, report entity.ThreatReport) (*entity.ThreatReport, error) {
	u, err := url.Parse(strings.TrimSpace(report.URL))
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, report.URL)
	}
	if report.ThreatType == "" {
		report.ThreatType = "phishing"
	}
	report.ReportedAt = s.now()

	s.mu.Lock()
	s.reports = append(s.reports, report)
	if len(s.reports) > maxReports {
		s.reports = s.reports[len(s.reports)-maxReports:]
	}
	s.mu.Unlock()

	s.intel.Invalidate(ctx, report.URL)
	s.logger.Info("[TIP] Threat reported", "url", report.URL, "threat_type", report.ThreatType)
	return &report, nil
}

// RecentReports returns up to limit reports, newest first
func (s *Service) RecentReports(limit int) []entity.ThreatReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.reports) {
		limit = len(s.reports)
	}
	out := make([]entity.ThreatReport, 0, limit)
	for i := len(s.reports) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.reports[i])
	}
	return out
}

// FeedStatuses returns the sync state of each feed
func (s *Service) FeedStatuses() ([]feeds.FeedStatus, error) {
	if s.feeds == nil {
		return nil, ErrFeedsDisabled
	}
	return s.feeds.Statuses(), nil
}

// SyncFeeds refreshes every enabled feed now
func (s *Service) SyncFeeds(ctx context.Context) ([]feeds.SyncResult, error) {
	if s.feeds == nil {
		return nil, ErrFeedsDisabled
	}
	results := s.feeds.SyncAll(ctx)

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	s.logger.Info("[TIP] Manual feed sync", "feeds", len(results), "failed", failed)
	return results, nil
}
