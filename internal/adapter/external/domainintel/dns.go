package domainintel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"
)

// DNSResolver performs the DNS lookups used by network analysis
type DNSResolver struct {
	resolver *net.Resolver
	timeout  time.Duration
}

// NewDNSResolver creates a resolver with a per-lookup timeout
func NewDNSResolver(timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSResolver{
		resolver: net.DefaultResolver,
		timeout:  timeout,
	}
}

// LookupIPs returns the A and AAAA addresses of domain
func (r *DNSResolver) LookupIPs(ctx context.Context, domain string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	addrs, err := r.resolver.LookupIPAddr(ctx, normalizeDomain(domain))
	if err != nil {
		return nil, fmt.Errorf("ip lookup: %w", err)
	}

	ips := make([]string, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP.String())
	}
	return ips, nil
}

// LookupMX returns MX hosts of domain ordered by preference. A domain with
// no MX records yields an empty slice, not an error.
func (r *DNSResolver) LookupMX(ctx context.Context, domain string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	records, err := r.resolver.LookupMX(ctx, normalizeDomain(domain))
	if err != nil {
		if isNotFound(err) {
			slog.Debug("[DNS_CHECK] No MX records", "domain", domain)
			return []string{}, nil
		}
		return nil, fmt.Errorf("mx lookup: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Pref < records[j].Pref })
	hosts := make([]string, 0, len(records))
	for _, mx := range records {
		hosts = append(hosts, strings.TrimSuffix(mx.Host, "."))
	}
	return hosts, nil
}

// LookupNS returns the authoritative nameservers of domain
func (r *DNSResolver) LookupNS(ctx context.Context, domain string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	records, err := r.resolver.LookupNS(ctx, normalizeDomain(domain))
	if err != nil {
		if isNotFound(err) {
			slog.Debug("[DNS_CHECK] No NS records", "domain", domain)
			return []string{}, nil
		}
		return nil, fmt.Errorf("ns lookup: %w", err)
	}

	hosts := make([]string, 0, len(records))
	for _, ns := range records {
		hosts = append(hosts, strings.TrimSuffix(ns.Host, "."))
	}
	return hosts, nil
}

func normalizeDomain(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}
