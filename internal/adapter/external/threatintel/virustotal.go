package threatintel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dscybers/phishshield/internal/entity"
)

// VirusTotalClient looks up URL analysis verdicts in VirusTotal
type VirusTotalClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// VirusTotalConfig holds VirusTotal client configuration
type VirusTotalConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewVirusTotalClient creates a new VirusTotal client
func NewVirusTotalClient(cfg VirusTotalConfig) *VirusTotalClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.virustotal.com/api/v3"
	}

	return &VirusTotalClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// VirusTotalURLResponse represents the API response for a URL object
type VirusTotalURLResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			LastAnalysisStats VirusTotalAnalysisStats `json:"last_analysis_stats"`
			Reputation        int                     `json:"reputation"`
			Categories        map[string]string       `json:"categories"`
		} `json:"attributes"`
	} `json:"data"`
}

// VirusTotalAnalysisStats contains engine verdict counts
type VirusTotalAnalysisStats struct {
	Harmless   int `json:"harmless"`
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Undetected int `json:"undetected"`
	Timeout    int `json:"timeout"`
}

// Total returns the number of engines that reported
func (s VirusTotalAnalysisStats) Total() int {
	return s.Harmless + s.Malicious + s.Suspicious + s.Undetected + s.Timeout
}

// Name returns the provider name
func (c *VirusTotalClient) Name() string {
	return "VirusTotal"
}

// IsConfigured returns true if the client has an API key
func (c *VirusTotalClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Check queries VirusTotal for the last analysis of rawURL
func (c *VirusTotalClient) Check(ctx context.Context, rawURL string) (*entity.ThreatSourceResult, error) {
	sum := sha256.Sum256([]byte(rawURL))
	reqURL := fmt.Sprintf("%s/urls/%s", c.baseURL, hex.EncodeToString(sum[:]))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limit exceeded")
	}

	if resp.StatusCode == http.StatusNotFound {
		// URL never submitted to VT
		return nil, ErrNoResult
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: status %d", resp.StatusCode)
	}

	var apiResp VirusTotalURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return c.processResponse(&apiResp)
}

// processResponse converts engine counts into a source result
func (c *VirusTotalClient) processResponse(resp *VirusTotalURLResponse) (*entity.ThreatSourceResult, error) {
	stats := resp.Data.Attributes.LastAnalysisStats
	total := stats.Total()
	if total == 0 {
		return nil, ErrNoResult
	}

	confidence := (float64(stats.Malicious) + float64(stats.Suspicious)*0.5) / float64(total)

	category := CategoryClean
	if stats.Malicious > 0 {
		category = CategoryPhishing
	}

	return &entity.ThreatSourceResult{
		SourceID:    c.Name(),
		IsMalicious: stats.Malicious > 0,
		Confidence:  confidence,
		Category:    category,
	}, nil
}
