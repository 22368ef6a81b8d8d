package threatintel

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/dscybers/phishshield/internal/entity"
)

// HostResolver resolves a hostname to addresses; *net.Resolver satisfies it
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

var dynamicHostKeywords = []string{"dynamic", "dhcp", "dial", "dsl", "cable"}

// IPReputationSource scores the address a URL's host resolves to
type IPReputationSource struct {
	resolver HostResolver
}

// NewIPReputationSource creates the heuristic IP reputation source
func NewIPReputationSource(resolver HostResolver) *IPReputationSource {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &IPReputationSource{resolver: resolver}
}

// Name returns the provider name
func (s *IPReputationSource) Name() string {
	return "IPReputation"
}

// IsConfigured is always true; the check needs only DNS
func (s *IPReputationSource) IsConfigured() bool {
	return true
}

// Check resolves the host and applies address and naming heuristics
func (s *IPReputationSource) Check(ctx context.Context, rawURL string) (*entity.ThreatSourceResult, error) {
	host := hostOf(rawURL)
	if host == "" {
		return nil, fmt.Errorf("no host in url")
	}

	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := s.resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", host, err)
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("resolve %s: no addresses", host)
		}
		ip = net.ParseIP(addrs[0])
		if ip == nil {
			return nil, fmt.Errorf("resolve %s: bad address %q", host, addrs[0])
		}
	}

	score := 0.0
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		score += 0.3
	}
	for _, kw := range dynamicHostKeywords {
		if strings.Contains(host, kw) {
			score += 0.4
			break
		}
	}

	category := CategoryClean
	if score > 0.3 {
		category = CategorySuspicious
	}

	return &entity.ThreatSourceResult{
		SourceID:    s.Name(),
		IsMalicious: score > 0.5,
		Confidence:  score,
		Category:    category,
	}, nil
}
