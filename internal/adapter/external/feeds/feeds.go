package feeds

import "time"

// FeedSource represents a downloadable threat feed
type FeedSource struct {
	Name        string     // Unique identifier
	DisplayName string     // Human-readable name
	URL         string     // Download URL
	Category    string     // Primary threat category
	Confidence  float64    // Confidence of a hit (0-1)
	Format      FeedFormat // Parsing format
	Enabled     bool       // Whether to use this feed
}

// FeedFormat defines how to parse the feed
type FeedFormat string

const (
	FormatURLList    FeedFormat = "url_list"    // One URL per line
	FormatHostsFile  FeedFormat = "hosts_file"  // "127.0.0.1 domain" lines
	FormatDomainList FeedFormat = "domain_list" // One domain per line
)

// Feed names used by the feed-backed threat sources
const (
	FeedOpenPhish      = "openphish"
	FeedMalwareDomains = "malware_domains"
)

// DefaultFeeds returns the built-in feeds pointed at the given URLs
func DefaultFeeds(openPhishURL, malwareDomainsURL string) []FeedSource {
	return []FeedSource{
		{
			Name:        FeedOpenPhish,
			DisplayName: "OpenPhish Community Feed",
			URL:         openPhishURL,
			Category:    "phishing",
			Confidence:  0.9,
			Format:      FormatURLList,
			Enabled:     openPhishURL != "",
		},
		{
			Name:        FeedMalwareDomains,
			DisplayName: "Malware Domain Hosts List",
			URL:         malwareDomainsURL,
			Category:    "malware",
			Confidence:  0.8,
			Format:      FormatHostsFile,
			Enabled:     malwareDomainsURL != "",
		},
	}
}

// FeedStatus represents the sync status of a feed
type FeedStatus struct {
	Source       string    `json:"source"`
	DisplayName  string    `json:"display_name"`
	URL          string    `json:"url"`
	LastSync     time.Time `json:"last_sync"`
	LastSuccess  time.Time `json:"last_success"`
	EntryCount   int       `json:"entry_count"`
	SyncStatus   string    `json:"sync_status"` // success, error, pending, syncing
	ErrorMessage string    `json:"error_message,omitempty"`
}

// SyncResult represents the result of a feed sync
type SyncResult struct {
	Source     string        `json:"source"`
	Success    bool          `json:"success"`
	EntryCount int           `json:"entry_count"`
	Duration   time.Duration `json:"duration_ns"`
	Error      error         `json:"-"`
}
