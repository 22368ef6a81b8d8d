package threatintel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dscybers/phishshield/internal/entity"
)

// PhishTankConfig holds PhishTank configuration. The app key is optional
// and only raises the rate limit.
type PhishTankConfig struct {
	AppKey  string
	BaseURL string
}

// PhishTankClient checks URLs against the PhishTank database
type PhishTankClient struct {
	httpClient *http.Client
	baseURL    string
	appKey     string
}

// PhishTankResponse is the checkurl response
type PhishTankResponse struct {
	Results struct {
		URL        string `json:"url"`
		InDatabase bool   `json:"in_database"`
		Verified   bool   `json:"verified"`
		Valid      bool   `json:"valid"`
	} `json:"results"`
}

// NewPhishTankClient creates a new PhishTank client
func NewPhishTankClient(cfg PhishTankConfig) *PhishTankClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://checkurl.phishtank.com/checkurl/"
	}
	return &PhishTankClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: cfg.BaseURL,
		appKey:  cfg.AppKey,
	}
}

// Name returns the provider name
func (c *PhishTankClient) Name() string {
	return "PhishTank"
}

// IsConfigured is always true; PhishTank accepts anonymous lookups
func (c *PhishTankClient) IsConfigured() bool {
	return true
}

// Check asks PhishTank whether rawURL is a known phish
func (c *PhishTankClient) Check(ctx context.Context, rawURL string) (*entity.ThreatSourceResult, error) {
	form := url.Values{}
	form.Set("url", rawURL)
	form.Set("format", "json")
	if c.appKey != "" {
		form.Set("app_key", c.appKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "phishtank/phishshield")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var ptResp PhishTankResponse
	if err := json.NewDecoder(resp.Body).Decode(&ptResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if ptResp.Results.InDatabase {
		return &entity.ThreatSourceResult{
			SourceID:    c.Name(),
			IsMalicious: true,
			Confidence:  0.95,
			Category:    CategoryPhishing,
		}, nil
	}

	return &entity.ThreatSourceResult{
		SourceID:   c.Name(),
		Confidence: 0.1,
		Category:   CategoryClean,
	}, nil
}
