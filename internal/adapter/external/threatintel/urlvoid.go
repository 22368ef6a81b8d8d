package threatintel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dscybers/phishshield/internal/entity"
)

// URLVoidConfig holds URLVoid configuration
type URLVoidConfig struct {
	APIKey  string
	BaseURL string
}

// URLVoidClient scans a host against URLVoid's blacklist engines
type URLVoidClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// URLVoidResponse is the host report
type URLVoidResponse struct {
	Data struct {
		Report struct {
			Blacklists struct {
				Detections int `json:"detections"`
				Engines    int `json:"engines_count"`
			} `json:"blacklists"`
		} `json:"report"`
	} `json:"data"`
	Error string `json:"error"`
}

// NewURLVoidClient creates a new URLVoid client
func NewURLVoidClient(cfg URLVoidConfig) *URLVoidClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://endpoint.apivoid.com/urlrep/v1/pay-as-you-go/"
	}
	return &URLVoidClient{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// Name returns the provider name
func (c *URLVoidClient) Name() string {
	return "URLVoid"
}

// IsConfigured returns true if an API key is set
func (c *URLVoidClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Check scans the host of rawURL
func (c *URLVoidClient) Check(ctx context.Context, rawURL string) (*entity.ThreatSourceResult, error) {
	host := hostOf(rawURL)
	if host == "" {
		return nil, fmt.Errorf("no host in url")
	}

	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("host", host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var uvResp URLVoidResponse
	if err := json.NewDecoder(resp.Body).Decode(&uvResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if uvResp.Error != "" {
		return nil, fmt.Errorf("urlvoid: %s", uvResp.Error)
	}

	bl := uvResp.Data.Report.Blacklists
	confidence := 0.0
	if bl.Engines > 0 {
		confidence = float64(bl.Detections) / float64(bl.Engines)
	}

	category := CategoryClean
	if bl.Detections > 0 {
		category = CategoryMalicious
	}

	return &entity.ThreatSourceResult{
		SourceID:    c.Name(),
		IsMalicious: bl.Detections > 0,
		Confidence:  confidence,
		Category:    category,
	}, nil
}
