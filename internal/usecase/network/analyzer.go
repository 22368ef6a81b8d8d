package network

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dscybers/phishshield/internal/adapter/external/domainintel"
	"github.com/dscybers/phishshield/internal/entity"
)

// Fallback scores reported when a sub-analysis cannot run
const (
	FallbackIPReputation   = 0.5
	FallbackDomainCluster  = 0.0
	FallbackDNS            = 0.5
	FallbackWhois          = 0.3
	FallbackInfrastructure = 0.3
)

// CampaignThreshold is the cluster risk above which a domain is treated as
// part of a campaign
const CampaignThreshold = 0.7

// Sub-analysis weights in the cluster risk
const (
	weightIPReputation   = 0.30
	weightDomainCluster  = 0.25
	weightDNS            = 0.20
	weightWhois          = 0.15
	weightInfrastructure = 0.10
)

var (
	maliciousIPs = map[string]bool{"192.168.1.1": true, "10.0.0.1": true}
	trustedIPs   = map[string]bool{"8.8.8.8": true, "1.1.1.1": true, "208.67.222.222": true}

	reservedPrefix = netip.MustParsePrefix("240.0.0.0/4")

	clusterKeywords = []string{"secure", "verify", "account", "login"}
	typosquatting   = []*regexp.Regexp{
		regexp.MustCompile(`\w+-\w+-\w+`),
		regexp.MustCompile(`\w+\d+\w+`),
		regexp.MustCompile(`\w{20,}`),
	}

	substitutions = [][2]string{
		{"o", "0"}, {"0", "o"}, {"l", "1"}, {"1", "l"},
		{"e", "3"}, {"3", "e"}, {"a", "@"}, {"s", "$"},
	}
	insertions = []string{"-", "_", "1", "2"}

	suspiciousRegistrars = []string{"namecheap", "freenom"}
	hostingKeywords      = []string{"hosting", "server", "vps"}
)

const maxVariations = 10

// Resolver provides the DNS and registration lookups the analyzer needs
type Resolver interface {
	LookupIPs(ctx context.Context, domain string) ([]string, error)
	LookupMX(ctx context.Context, domain string) ([]string, error)
	LookupNS(ctx context.Context, domain string) ([]string, error)
	Registration(ctx context.Context, domain string) (*domainintel.Registration, error)
}

// Analyzer scores the network context of a URL's domain
type Analyzer struct {
	resolver Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewAnalyzer creates a network graph analyzer
func NewAnalyzer(resolver Resolver, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// Analyze runs the five sub-analyses concurrently and combines them. Lookup
// failures degrade to fallback scores; only an unparsable URL is an error.
func (a *Analyzer) Analyze(ctx context.Context, rawURL string) (*entity.NetworkAnalysisResult, error) {
	domain, err := domainOf(rawURL)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &entity.NetworkAnalysisResult{Domain: domain}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		result.IPReputation = a.analyzeIPReputation(ctx, domain)
	}()
	go func() {
		defer wg.Done()
		result.DNSAnalysis = a.analyzeDNS(ctx, domain)
	}()
	go func() {
		defer wg.Done()
		result.WhoisAnalysis = a.analyzeWhois(ctx, domain)
	}()

	// Local only, no lookups
	result.DomainCluster = AnalyzeDomainCluster(domain)
	result.InfrastructureAnalysis = AnalyzeInfrastructure(domain)
	wg.Wait()

	result.ClusterRiskScore = ClusterRisk(result)
	result.CampaignDetected = result.ClusterRiskScore > CampaignThreshold

	a.logger.Info("[NETGRAPH] Network analysis complete",
		"domain", domain,
		"cluster_risk", fmt.Sprintf("%.3f", result.ClusterRiskScore),
		"campaign", result.CampaignDetected,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func domainOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return host, nil
}

func (a *Analyzer) analyzeIPReputation(ctx context.Context, domain string) entity.IPReputation {
	rep := entity.IPReputation{IPs: []string{}, Scores: map[string]float64{}}

	var ips []string
	if _, err := netip.ParseAddr(domain); err == nil {
		ips = []string{domain}
	} else {
		ips, err = a.resolver.LookupIPs(ctx, domain)
		if err == nil && len(ips) == 0 {
			err = fmt.Errorf("no addresses for %s", domain)
		}
		if err != nil {
			a.logger.Warn("[NETGRAPH] IP reputation analysis failed", "domain", domain, "error", err)
			rep.Score = FallbackIPReputation
			rep.Error = "Resolution failed: " + err.Error()
			return rep
		}
	}

	rep.IPs = ips
	rep.Available = true
	for _, ip := range ips {
		score, malicious := ScoreIP(ip)
		rep.Scores[ip] = score
		if score > rep.Score {
			rep.Score = score
		}
		rep.IsMalicious = rep.IsMalicious || malicious
	}
	return rep
}

// ScoreIP scores one address against the known sets, falling back to
// address-shape heuristics
func ScoreIP(ip string) (score float64, malicious bool) {
	if maliciousIPs[ip] {
		return 0.9, true
	}
	if trustedIPs[ip] {
		return 0.1, false
	}
	score = ipHeuristic(ip)
	return score, score > 0.7
}

func ipHeuristic(ip string) float64 {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return FallbackIPReputation
	}
	addr = addr.Unmap()

	risk := 0.0
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() {
		risk += 0.3
	}
	if addr.IsLoopback() || addr.IsUnspecified() || reservedPrefix.Contains(addr) {
		risk += 0.5
	}

	if addr.Is4() {
		o := addr.As4()
		if o[3] == 1 {
			risk += 0.1
		}
		if int(o[1]) == int(o[0])+1 && int(o[2]) == int(o[1])+1 {
			risk += 0.1
		}
	}
	return entity.Clamp01(risk)
}

// AnalyzeDomainCluster looks for campaign-style naming in domain
func AnalyzeDomainCluster(domain string) entity.DomainCluster {
	domain = strings.ToLower(domain)
	cluster := entity.DomainCluster{
		Variations:  Variations(domain),
		KeywordHits: []string{},
		Available:   true,
	}

	for _, kw := range clusterKeywords {
		if strings.Contains(domain, kw) {
			cluster.KeywordHits = append(cluster.KeywordHits, kw)
		}
	}
	if len(cluster.KeywordHits) > 0 {
		cluster.Score += 0.3
	}

	for _, re := range typosquatting {
		if re.MatchString(domain) {
			cluster.TyposquatPattern = true
			cluster.Score += 0.4
			break
		}
	}

	cluster.Score = entity.Clamp01(cluster.Score)
	return cluster
}

// Variations generates typosquatting candidates of domain: single character
// substitutions, then separator and digit insertions near the start
func Variations(domain string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(v string) {
		if v != domain && !seen[v] && len(out) < maxVariations {
			seen[v] = true
			out = append(out, v)
		}
	}

	for _, s := range substitutions {
		if strings.Contains(domain, s[0]) {
			add(strings.Replace(domain, s[0], s[1], 1))
		}
	}

	limit := min(len(domain), 5)
	for _, ins := range insertions {
		for i := 1; i < limit; i++ {
			add(domain[:i] + ins + domain[i:])
		}
	}

	if out == nil {
		out = []string{}
	}
	return out
}

func (a *Analyzer) analyzeDNS(ctx context.Context, domain string) entity.DNSAnalysis {
	dns := entity.DNSAnalysis{MXRecords: []string{}, NSRecords: []string{}}

	mx, mxErr := a.resolver.LookupMX(ctx, domain)
	ns, nsErr := a.resolver.LookupNS(ctx, domain)
	if mxErr != nil && nsErr != nil {
		a.logger.Warn("[NETGRAPH] DNS analysis failed", "domain", domain, "mx_error", mxErr, "ns_error", nsErr)
		dns.Score = FallbackDNS
		dns.Error = "DNS analysis failed: " + mxErr.Error()
		return dns
	}
	dns.Available = true

	// A single failed lookup counts as missing records
	if len(mx) == 0 {
		dns.Score += 0.1
	}
	for _, host := range mx {
		lower := strings.ToLower(host)
		if strings.Contains(lower, "suspicious") || strings.Contains(lower, "temp") {
			dns.Score += 0.2
		}
		dns.MXRecords = append(dns.MXRecords, host)
	}
	if len(ns) == 0 {
		dns.Score += 0.1
	}
	dns.NSRecords = append(dns.NSRecords, ns...)

	dns.Score = entity.Clamp01(dns.Score)
	return dns
}

func (a *Analyzer) analyzeWhois(ctx context.Context, domain string) entity.WhoisAnalysis {
	var whois entity.WhoisAnalysis

	reg, err := a.resolver.Registration(ctx, registrableDomain(domain))
	if err != nil {
		a.logger.Warn("[NETGRAPH] WHOIS analysis failed", "domain", domain, "error", err)
		whois.Score = FallbackWhois
		whois.Error = "WHOIS lookup failed: " + err.Error()
		return whois
	}

	whois.Available = true
	whois.Registrar = reg.Registrar
	whois.CreationDate = reg.CreatedAt

	age := a.now().Sub(reg.CreatedAt)
	whois.AgeDays = int(age.Hours() / 24)
	switch {
	case age < 30*24*time.Hour:
		whois.Score += 0.4
	case age < 90*24*time.Hour:
		whois.Score += 0.2
	}

	registrar := strings.ToLower(reg.Registrar)
	for _, r := range suspiciousRegistrars {
		if strings.Contains(registrar, r) {
			whois.Score += 0.1
			break
		}
	}

	whois.Score = entity.Clamp01(whois.Score)
	return whois
}

// registrableDomain strips subdomains down to the last two labels. RDAP
// only knows registered names.
func registrableDomain(domain string) string {
	labels := strings.Split(domain, ".")
	if len(labels) <= 2 {
		return domain
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// AnalyzeInfrastructure flags generic hosting names
func AnalyzeInfrastructure(domain string) entity.InfrastructureAnalysis {
	infra := entity.InfrastructureAnalysis{HostingPatterns: []string{}, Available: true}

	domain = strings.ToLower(domain)
	for _, kw := range hostingKeywords {
		if strings.Contains(domain, kw) {
			infra.HostingPatterns = append(infra.HostingPatterns, kw)
			infra.Score += 0.1
		}
	}
	infra.Score = entity.Clamp01(infra.Score)
	return infra
}

// ClusterRisk is the weighted mean of the sub-analyses that ran. Failed
// sub-analyses keep their fallback score for display but carry no weight.
func ClusterRisk(r *entity.NetworkAnalysisResult) float64 {
	parts := []struct {
		available bool
		score     float64
		weight    float64
	}{
		{r.IPReputation.Available, r.IPReputation.Score, weightIPReputation},
		{r.DomainCluster.Available, r.DomainCluster.Score, weightDomainCluster},
		{r.DNSAnalysis.Available, r.DNSAnalysis.Score, weightDNS},
		{r.WhoisAnalysis.Available, r.WhoisAnalysis.Score, weightWhois},
		{r.InfrastructureAnalysis.Available, r.InfrastructureAnalysis.Score, weightInfrastructure},
	}

	total, weights := 0.0, 0.0
	for _, p := range parts {
		if !p.available {
			continue
		}
		total += p.score * p.weight
		weights += p.weight
	}
	if weights == 0 {
		return 0
	}
	return entity.Clamp01(total / weights)
}
