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

// URLhausConfig holds configuration for URLhaus client
type URLhausConfig struct {
	APIKey  string // Auth-Key from auth.abuse.ch
	BaseURL string
}

// URLhausClient queries abuse.ch URLhaus for known malware distribution URLs
type URLhausClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// URLhausURLResponse represents the url lookup response
type URLhausURLResponse struct {
	QueryStatus string   `json:"query_status"`
	URL         string   `json:"url"`
	URLStatus   string   `json:"url_status"`
	Threat      string   `json:"threat"`
	Tags        []string `json:"tags"`
	Blacklists  struct {
		SpamhausDbl string `json:"spamhaus_dbl"`
		SurblMulti  string `json:"surbl"`
	} `json:"blacklists"`
}

// NewURLhausClient creates a new URLhaus client
func NewURLhausClient(cfg URLhausConfig) *URLhausClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://urlhaus-api.abuse.ch/v1/"
	}
	return &URLhausClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// IsConfigured returns true if Auth-Key is configured
func (c *URLhausClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Name returns the provider name
func (c *URLhausClient) Name() string {
	return "URLhaus"
}

// Check queries URLhaus for rawURL
func (c *URLhausClient) Check(ctx context.Context, rawURL string) (*entity.ThreatSourceResult, error) {
	data := url.Values{}
	data.Set("url", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"url/", bytes.NewBufferString(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Auth-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var uhResp URLhausURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&uhResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return c.processResponse(&uhResp)
}

// processResponse converts a URLhaus response to a source result
func (c *URLhausClient) processResponse(resp *URLhausURLResponse) (*entity.ThreatSourceResult, error) {
	switch resp.QueryStatus {
	case "no_results":
		return &entity.ThreatSourceResult{
			SourceID:   c.Name(),
			Confidence: 0.1,
			Category:   CategoryClean,
		}, nil
	case "ok":
	default:
		return nil, fmt.Errorf("query status %q", resp.QueryStatus)
	}

	confidence := 0.8
	if resp.URLStatus == "online" {
		confidence = 0.9
	}
	if resp.Blacklists.SpamhausDbl == "listed" || resp.Blacklists.SurblMulti == "listed" {
		confidence = min(1.0, confidence+0.05)
	}

	category := CategoryMalware
	if resp.Threat == "phishing" {
		category = CategoryPhishing
	}

	return &entity.ThreatSourceResult{
		SourceID:    c.Name(),
		IsMalicious: true,
		Confidence:  confidence,
		Category:    category,
	}, nil
}
