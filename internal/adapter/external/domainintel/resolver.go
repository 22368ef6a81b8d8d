package domainintel

import (
	"context"
	"time"
)

// Resolver bundles DNS and registration lookups behind one collaborator
type Resolver struct {
	dns  *DNSResolver
	rdap *RDAPClient
}

// Config holds configuration for the combined resolver
type Config struct {
	LookupTimeout time.Duration
	RDAPBaseURL   string
}

// NewResolver creates a resolver backed by the system DNS and RDAP
func NewResolver(cfg Config) *Resolver {
	rdapCfg := DefaultRDAPConfig()
	if cfg.RDAPBaseURL != "" {
		rdapCfg.BaseURL = cfg.RDAPBaseURL
	}
	if cfg.LookupTimeout > 0 {
		rdapCfg.Timeout = cfg.LookupTimeout
	}

	return &Resolver{
		dns:  NewDNSResolver(cfg.LookupTimeout),
		rdap: NewRDAPClient(rdapCfg),
	}
}

// LookupIPs returns the addresses of domain
func (r *Resolver) LookupIPs(ctx context.Context, domain string) ([]string, error) {
	return r.dns.LookupIPs(ctx, domain)
}

// LookupMX returns the mail exchangers of domain
func (r *Resolver) LookupMX(ctx context.Context, domain string) ([]string, error) {
	return r.dns.LookupMX(ctx, domain)
}

// LookupNS returns the nameservers of domain
func (r *Resolver) LookupNS(ctx context.Context, domain string) ([]string, error) {
	return r.dns.LookupNS(ctx, domain)
}

// Registration returns registrar and creation date of domain
func (r *Resolver) Registration(ctx context.Context, domain string) (*Registration, error) {
	return r.rdap.Lookup(ctx, domain)
}
