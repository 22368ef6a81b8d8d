package threatintel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dscybers/phishshield/internal/entity"
)

// SafeBrowsingConfig holds Google Safe Browsing configuration
type SafeBrowsingConfig struct {
	APIKey  string
	BaseURL string
}

// SafeBrowsingClient queries the Safe Browsing v4 Lookup API
type SafeBrowsingClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type safeBrowsingRequest struct {
	Client struct {
		ClientID      string `json:"clientId"`
		ClientVersion string `json:"clientVersion"`
	} `json:"client"`
	ThreatInfo struct {
		ThreatTypes      []string            `json:"threatTypes"`
		PlatformTypes    []string            `json:"platformTypes"`
		ThreatEntryTypes []string            `json:"threatEntryTypes"`
		ThreatEntries    []map[string]string `json:"threatEntries"`
	} `json:"threatInfo"`
}

// SafeBrowsingResponse is the threatMatches:find response
type SafeBrowsingResponse struct {
	Matches []struct {
		ThreatType   string `json:"threatType"`
		PlatformType string `json:"platformType"`
	} `json:"matches"`
}

// NewSafeBrowsingClient creates a new Safe Browsing client
func NewSafeBrowsingClient(cfg SafeBrowsingConfig) *SafeBrowsingClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://safebrowsing.googleapis.com/v4"
	}
	return &SafeBrowsingClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// Name returns the provider name
func (c *SafeBrowsingClient) Name() string {
	return "SafeBrowsing"
}

// IsConfigured returns true if an API key is set
func (c *SafeBrowsingClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Check looks rawURL up against the malware and social engineering lists
func (c *SafeBrowsingClient) Check(ctx context.Context, rawURL string) (*entity.ThreatSourceResult, error) {
	var payload safeBrowsingRequest
	payload.Client.ClientID = "PhishShield"
	payload.Client.ClientVersion = "1.0"
	payload.ThreatInfo.ThreatTypes = []string{"MALWARE", "SOCIAL_ENGINEERING", "UNWANTED_SOFTWARE"}
	payload.ThreatInfo.PlatformTypes = []string{"ANY_PLATFORM"}
	payload.ThreatInfo.ThreatEntryTypes = []string{"URL"}
	payload.ThreatInfo.ThreatEntries = []map[string]string{{"url": rawURL}}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/threatMatches:find?key=%s", c.baseURL, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var sbResp SafeBrowsingResponse
	if err := json.NewDecoder(resp.Body).Decode(&sbResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(sbResp.Matches) == 0 {
		return &entity.ThreatSourceResult{
			SourceID:   c.Name(),
			Confidence: 0.1,
			Category:   CategoryClean,
		}, nil
	}

	category := CategoryMalware
	if sbResp.Matches[0].ThreatType == "SOCIAL_ENGINEERING" {
		category = CategoryPhishing
	}

	return &entity.ThreatSourceResult{
		SourceID:    c.Name(),
		IsMalicious: true,
		Confidence:  0.9,
		Category:    category,
	}, nil
}
