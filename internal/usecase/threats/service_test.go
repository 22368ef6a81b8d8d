package threats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dscybers/phishshield/internal/adapter/external/feeds"
	"github.com/dscybers/phishshield/internal/adapter/external/threatintel"
	"github.com/dscybers/phishshield/internal/entity"
)

type mockIntel struct{ mock.Mock }

func (m *mockIntel) Analyze(ctx context.Context, rawURL string) (*entity.AggregatedThreatIntel, bool) {
	args := m.Called(ctx, rawURL)
	return args.Get(0).(*entity.AggregatedThreatIntel), args.Bool(1)
}

func (m *mockIntel) Invalidate(ctx context.Context, rawURL string) {
	m.Called(ctx, rawURL)
}

func (m *mockIntel) Stats() threatintel.CacheStats {
	return m.Called().Get(0).(threatintel.CacheStats)
}

type staticProviders []threatintel.ProviderStatus

func (p staticProviders) GetProviderStatus() []threatintel.ProviderStatus { return p }

func (p staticProviders) GetConfiguredProviders() []string {
	var names []string
	for _, s := range p {
		if s.Configured {
			names = append(names, s.Name)
		}
	}
	return names
}

type mockFeeds struct{ mock.Mock }

func (m *mockFeeds) Statuses() []feeds.FeedStatus {
	return m.Called().Get(0).([]feeds.FeedStatus)
}

func (m *mockFeeds) SyncAll(ctx context.Context) []feeds.SyncResult {
	return m.Called(ctx).Get(0).([]feeds.SyncResult)
}

var providers = staticProviders{
	{Name: "VirusTotal", Configured: true},
	{Name: "PhishTank", Configured: false},
	{Name: "OpenPhish", Configured: true},
}

func TestAnalyzeURL(t *testing.T) {
	intel := &mockIntel{}
	svc := NewService(intel, providers, nil)

	want := &entity.AggregatedThreatIntel{URL: "https://evil.example/login", ThreatScore: 0.4}
	intel.On("Analyze", mock.Anything, "https://evil.example/login").Return(want, true)

	got, hit, err := svc.AnalyzeURL(context.Background(), " https://evil.example/login ")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Same(t, want, got)

	for _, bad := range []string{"", "evil.example", "mailto:a@b.c", "https://"} {
		_, _, err := svc.AnalyzeURL(context.Background(), bad)
		assert.ErrorIs(t, err, ErrInvalidURL, bad)
	}
}

func TestDomainReputation(t *testing.T) {
	intel := &mockIntel{}
	svc := NewService(intel, providers, nil)
	computed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	intel.On("Analyze", mock.Anything, "http://paypa1-secure.tk/").Return(&entity.AggregatedThreatIntel{
		ThreatScore: 0.45,
		IsMalicious: true,
		Reputation:  entity.ReputationSuspicious,
		Categories:  []string{"phishing"},
		Sources: []entity.ThreatSourceResult{
			{SourceID: "openphish", IsMalicious: true, Confidence: 0.9, Category: "phishing"},
			{SourceID: "virustotal", Confidence: 0},
		},
		ComputedAt: computed,
	}, false)

	rep, err := svc.DomainReputation(context.Background(), "PayPa1-Secure.tk.")
	require.NoError(t, err)
	assert.Equal(t, entity.ReputationSuspicious, rep.Reputation)
	assert.Equal(t, 0.45, rep.ThreatScore)
	assert.Equal(t, []string{"phishing"}, rep.Categories)
	assert.Equal(t, 2, rep.Sources)
	assert.Equal(t, computed, rep.CheckedAt)

	for _, bad := range []string{"", "localhost", "evil.example/path", "user@evil.example"} {
		_, err := svc.DomainReputation(context.Background(), bad)
		assert.ErrorIs(t, err, ErrInvalidDomain, bad)
	}
}

func TestReportThreat_InvalidatesCache(t *testing.T) {
	intel := &mockIntel{}
	svc := NewService(intel, providers, nil)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	intel.On("Invalidate", mock.Anything, "http://evil.example/a").Return()
	intel.On("Invalidate", mock.Anything, "http://evil.example/b").Return()

	rep, err := svc.ReportThreat(context.Background(), entity.ThreatReport{URL: "http://evil.example/a"})
	require.NoError(t, err)
	assert.Equal(t, "phishing", rep.ThreatType)
	assert.Equal(t, 2024, rep.ReportedAt.Year())

	_, err = svc.ReportThreat(context.Background(), entity.ThreatReport{URL: "http://evil.example/b", ThreatType: "malware"})
	require.NoError(t, err)

	intel.AssertExpectations(t)

	recent := svc.RecentReports(10)
	require.Len(t, recent, 2)
	assert.Equal(t, "http://evil.example/b", recent[0].URL)
	assert.Len(t, svc.RecentReports(1), 1)

	_, err = svc.ReportThreat(context.Background(), entity.ThreatReport{URL: "::"})
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestReportThreat_LogIsBounded(t *testing.T) {
	intel := &mockIntel{}
	intel.On("Invalidate", mock.Anything, mock.Anything).Return()
	svc := NewService(intel, providers, nil)

	for i := 0; i < maxReports+5; i++ {
		_, err := svc.ReportThreat(context.Background(), entity.ThreatReport{URL: "http://evil.example/"})
		require.NoError(t, err)
	}
	assert.Len(t, svc.RecentReports(0), maxReports)
}

func TestGetStats(t *testing.T) {
	intel := &mockIntel{}
	intel.On("Stats").Return(threatintel.CacheStats{Backend: "memory", Size: 3, Hits: 7})
	svc := NewService(intel, providers, nil)

	stats := svc.GetStats()
	assert.Equal(t, "memory", stats.CacheStats.Backend)
	assert.Equal(t, []string{"VirusTotal", "OpenPhish"}, stats.ConfiguredProviders)
	assert.Equal(t, 0, stats.ReportsReceived)
	assert.Len(t, svc.Sources(), 3)
}

func TestFeeds(t *testing.T) {
	svc := NewService(&mockIntel{}, providers, nil)

	_, err := svc.FeedStatuses()
	assert.ErrorIs(t, err, ErrFeedsDisabled)
	_, err = svc.SyncFeeds(context.Background())
	assert.ErrorIs(t, err, ErrFeedsDisabled)

	f := &mockFeeds{}
	f.On("Statuses").Return([]feeds.FeedStatus{{Source: "openphish", SyncStatus: "success", EntryCount: 10}})
	f.On("SyncAll", mock.Anything).Return([]feeds.SyncResult{
		{Source: "openphish", Success: true, EntryCount: 10},
		{Source: "malware_domains", Success: false},
	})
	svc.SetFeeds(f)

	statuses, err := svc.FeedStatuses()
	require.NoError(t, err)
	assert.Equal(t, 10, statuses[0].EntryCount)

	results, err := svc.SyncFeeds(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
