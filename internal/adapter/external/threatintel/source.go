package threatintel

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/dscybers/phishshield/internal/entity"
)

// Source is a pluggable threat intelligence connector for URLs.
// Check is only called when IsConfigured reports true.
type Source interface {
	Name() string
	IsConfigured() bool
	Check(ctx context.Context, rawURL string) (*entity.ThreatSourceResult, error)
}

// ErrNoResult is returned by sources that have no opinion about a URL
var ErrNoResult = errors.New("source returned no result")

// Category labels shared by the connectors
const (
	CategoryPhishing   = "phishing"
	CategoryMalware    = "malware"
	CategoryMalicious  = "malicious"
	CategorySuspicious = "suspicious"
	CategoryClean      = "clean"
)

// hostOf extracts the lowercased hostname of a URL without port
func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SourcesConfig holds credentials for the built-in sources
type SourcesConfig struct {
	VirusTotalKey   string
	SafeBrowsingKey string
	PhishTankKey    string
	URLVoidKey      string
	URLhausKey      string
	Guard           GuardConfig
}

// BuildSources returns every built-in source. Remote API sources are wrapped
// in a Guard; feed-backed and DNS sources are not.
func BuildSources(cfg SourcesConfig, feedLookup FeedLookup, resolver HostResolver) []Source {
	return []Source{
		Guarded(NewVirusTotalClient(VirusTotalConfig{APIKey: cfg.VirusTotalKey}), cfg.Guard),
		Guarded(NewSafeBrowsingClient(SafeBrowsingConfig{APIKey: cfg.SafeBrowsingKey}), cfg.Guard),
		Guarded(NewPhishTankClient(PhishTankConfig{AppKey: cfg.PhishTankKey}), cfg.Guard),
		NewOpenPhishSource(feedLookup),
		Guarded(NewURLVoidClient(URLVoidConfig{APIKey: cfg.URLVoidKey}), cfg.Guard),
		NewMalwareDomainsSource(feedLookup),
		NewIPReputationSource(resolver),
		Guarded(NewURLhausClient(URLhausConfig{APIKey: cfg.URLhausKey}), cfg.Guard),
	}
}
