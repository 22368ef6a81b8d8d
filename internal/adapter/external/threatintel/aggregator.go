package threatintel

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dscybers/phishshield/internal/entity"
	"github.com/dscybers/phishshield/internal/telemetry"
)

// Aggregator fans a URL out to every configured source and combines the answers
type Aggregator struct {
	sources []Source
	timeout time.Duration
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// AggregatorConfig holds configuration for the aggregator
type AggregatorConfig struct {
	SourceTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *telemetry.Metrics
}

// NewAggregator creates a new threat intel aggregator over sources
func NewAggregator(sources []Source, cfg AggregatorConfig) *Aggregator {
	if cfg.SourceTimeout == 0 {
		cfg.SourceTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Aggregator{
		sources: sources,
		timeout: cfg.SourceTimeout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// Analyze queries all configured sources concurrently and aggregates the results.
// Source failures are logged and excluded; Analyze itself never fails.
func (a *Aggregator) Analyze(ctx context.Context, rawURL string) *entity.AggregatedThreatIntel {
	outcomes := make([]entity.SourceOutcome, len(a.sources))

	var wg sync.WaitGroup
	for i, src := range a.sources {
		if !src.IsConfigured() {
			outcomes[i] = entity.SourceOutcome{
				SourceID: src.Name(),
				Reason:   entity.AbsenceUnconfigured,
			}
			continue
		}

		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			outcomes[i] = a.checkSource(ctx, src, rawURL)
		}(i, src)
	}
	wg.Wait()

	return a.aggregate(rawURL, outcomes)
}

// checkSource runs one source under its own timeout and classifies the outcome
func (a *Aggregator) checkSource(ctx context.Context, src Source, rawURL string) entity.SourceOutcome {
	sctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	res, err := src.Check(sctx, rawURL)
	outcome := entity.SourceOutcome{
		SourceID: src.Name(),
		Duration: time.Since(start),
	}

	if err == nil && res == nil {
		err = ErrNoResult
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrCircuitOpen):
			outcome.Reason = entity.AbsenceCircuitOpen
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(sctx.Err(), context.DeadlineExceeded):
			outcome.Reason = entity.AbsenceTimeout
		default:
			outcome.Reason = entity.AbsenceError
		}
		outcome.Error = err.Error()
		a.logger.Warn("[TIP] source check failed",
			"source", src.Name(),
			"reason", outcome.Reason,
			"error", err,
		)
		a.metrics.RecordSourceFailure(ctx, src.Name(), string(outcome.Reason))
		return outcome
	}

	result := *res
	result.SourceID = src.Name()
	result.Confidence = entity.Clamp01(result.Confidence)
	outcome.Result = &result
	return outcome
}

// aggregate combines source outcomes into a single score.
// The denominator is the number of registered sources, so a failing source
// weighs exactly like an unconfigured one.
func (a *Aggregator) aggregate(rawURL string, outcomes []entity.SourceOutcome) *entity.AggregatedThreatIntel {
	result := &entity.AggregatedThreatIntel{
		URL:         rawURL,
		Sources:     []entity.ThreatSourceResult{},
		Outcomes:    outcomes,
		Categories:  []string{},
		SourceCount: len(a.sources),
		ComputedAt:  a.now().UTC(),
	}

	var maliciousSum float64
	categories := make(map[string]bool)

	for _, o := range outcomes {
		if !o.Available() {
			continue
		}
		result.Sources = append(result.Sources, *o.Result)
		if o.Result.IsMalicious {
			maliciousSum += o.Result.Confidence
		}
		if o.Result.Category != "" {
			categories[o.Result.Category] = true
		}
	}

	for c := range categories {
		result.Categories = append(result.Categories, c)
	}
	sort.Strings(result.Categories)

	if len(a.sources) > 0 {
		result.ThreatScore = entity.Clamp01(min(1.0, maliciousSum) / float64(len(a.sources)))
	}
	result.IsMalicious = result.ThreatScore > 0.3
	result.Reputation = entity.ReputationFromScore(result.ThreatScore)

	return result
}

// ProviderStatus describes one registered source
type ProviderStatus struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Circuit    string `json:"circuit,omitempty"`
}

// GetProviderStatus returns the configuration state of every registered source
func (a *Aggregator) GetProviderStatus() []ProviderStatus {
	statuses := make([]ProviderStatus, 0, len(a.sources))
	for _, s := range a.sources {
		status := ProviderStatus{
			Name:       s.Name(),
			Configured: s.IsConfigured(),
		}
		if g, ok := s.(*Guard); ok {
			status.Circuit = g.State()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// GetConfiguredProviders returns the names of configured sources
func (a *Aggregator) GetConfiguredProviders() []string {
	var names []string
	for _, s := range a.sources {
		if s.IsConfigured() {
			names = append(names, s.Name())
		}
	}
	return names
}
