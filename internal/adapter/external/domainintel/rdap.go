package domainintel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrNotRegistered is returned when the registry has no record of a domain
var ErrNotRegistered = errors.New("domain not found in registry")

// Registration is the subset of registration data network analysis needs
type Registration struct {
	Domain    string    `json:"domain"`
	Registrar string    `json:"registrar"`
	CreatedAt time.Time `json:"created_at"`
}

// RDAPClient looks up domain registration data over RDAP.
// Uses rdap.org by default, which redirects to the authoritative registry.
type RDAPClient struct {
	httpClient *http.Client
	cache      *regCache
	config     RDAPConfig
}

// RDAPConfig holds RDAP client configuration
type RDAPConfig struct {
	BaseURL string
	// Timeout for HTTP requests
	Timeout time.Duration
	// CacheTTL is how long registrations are cached; creation dates do not move
	CacheTTL     time.Duration
	MaxCacheSize int
}

// DefaultRDAPConfig returns sensible default configuration
func DefaultRDAPConfig() RDAPConfig {
	return RDAPConfig{
		BaseURL:      "https://rdap.org",
		Timeout:      5 * time.Second,
		CacheTTL:     24 * time.Hour,
		MaxCacheSize: 10000,
	}
}

// regCache provides thread-safe caching for registrations
type regCache struct {
	mu      sync.RWMutex
	entries map[string]*regEntry
	maxSize int
}

type regEntry struct {
	data      *Registration
	expiresAt time.Time
}

func newRegCache(maxSize int) *regCache {
	return &regCache{
		entries: make(map[string]*regEntry),
		maxSize: maxSize,
	}
}

func (c *regCache) Get(domain string) (*Registration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[domain]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.data, true
}

func (c *regCache) Set(domain string, data *Registration, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple eviction: if at max size, remove roughly 10%
	if len(c.entries) >= c.maxSize {
		count := 0
		toDelete := max(1, c.maxSize/10)
		for key := range c.entries {
			delete(c.entries, key)
			count++
			if count >= toDelete {
				break
			}
		}
	}

	c.entries[domain] = &regEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
}

// NewRDAPClient creates a new RDAP client
func NewRDAPClient(config RDAPConfig) *RDAPClient {
	defaults := DefaultRDAPConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.MaxCacheSize <= 0 {
		config.MaxCacheSize = defaults.MaxCacheSize
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")

	return &RDAPClient{
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		cache:  newRegCache(config.MaxCacheSize),
		config: config,
	}
}

// rdapDomain is the part of an RFC 9083 domain object we read
type rdapDomain struct {
	LDHName string `json:"ldhName"`
	Events  []struct {
		Action string `json:"eventAction"`
		Date   string `json:"eventDate"`
	} `json:"events"`
	Entities []struct {
		Roles      []string `json:"roles"`
		VCardArray []any    `json:"vcardArray"`
	} `json:"entities"`
}

// Lookup returns the registration record of domain
func (c *RDAPClient) Lookup(ctx context.Context, domain string) (*Registration, error) {
	domain = normalizeDomain(domain)
	if domain == "" {
		return nil, fmt.Errorf("empty domain")
	}

	if cached, ok := c.cache.Get(domain); ok {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/domain/%s", c.config.BaseURL, domain), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/rdap+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotRegistered
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var obj rdapDomain
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	reg := &Registration{Domain: domain}
	for _, ev := range obj.Events {
		if ev.Action != "registration" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, ev.Date); err == nil {
			reg.CreatedAt = t.UTC()
		}
	}
	for _, ent := range obj.Entities {
		if hasRole(ent.Roles, "registrar") {
			reg.Registrar = vcardName(ent.VCardArray)
			break
		}
	}

	if reg.CreatedAt.IsZero() {
		return nil, fmt.Errorf("no registration date for %s", domain)
	}

	c.cache.Set(domain, reg, c.config.CacheTTL)
	return reg, nil
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// vcardName extracts the "fn" property of a jCard: ["vcard", [[name, params, type, value], ...]]
func vcardName(card []any) string {
	if len(card) < 2 {
		return ""
	}
	props, ok := card[1].([]any)
	if !ok {
		return ""
	}
	for _, p := range props {
		prop, ok := p.([]any)
		if !ok || len(prop) < 4 {
			continue
		}
		if name, _ := prop[0].(string); name == "fn" {
			value, _ := prop[3].(string)
			return value
		}
	}
	return ""
}
