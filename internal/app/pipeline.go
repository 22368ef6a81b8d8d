// Package app assembles the analysis pipeline from configuration. It is
// shared by the API server and the scan CLI.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/redis/go-redis/v9"

	"github.com/dscybers/phishshield/internal/adapter/external/domainintel"
	"github.com/dscybers/phishshield/internal/adapter/external/feeds"
	sandboxbrowser "github.com/dscybers/phishshield/internal/adapter/external/sandbox"
	"github.com/dscybers/phishshield/internal/adapter/external/threatintel"
	"github.com/dscybers/phishshield/internal/config"
	"github.com/dscybers/phishshield/internal/domain/scoring"
	"github.com/dscybers/phishshield/internal/telemetry"
	"github.com/dscybers/phishshield/internal/usecase/analysis"
	"github.com/dscybers/phishshield/internal/usecase/network"
	"github.com/dscybers/phishshield/internal/usecase/sandbox"
	"github.com/dscybers/phishshield/internal/usecase/threats"
)

// Pipeline holds the wired services and the resources they own
type Pipeline struct {
	Analysis   *analysis.Service
	Threats    *threats.Service
	Aggregator *threatintel.Aggregator
	Feeds      *feeds.Ingester
	Sandbox    *sandbox.Orchestrator

	// Checks are dependency probes for readiness
	Checks map[string]func(ctx context.Context) error

	logger  *slog.Logger
	closers []func() error
}

// Build wires every enabled layer. Optional layers that fail to start are
// disabled with a warning rather than failing the whole pipeline.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *telemetry.Metrics) (*Pipeline, error) {
	p := &Pipeline{
		Checks: make(map[string]func(ctx context.Context) error),
		logger: logger,
	}

	// Feeds back the OpenPhish and malware-domain sources
	p.Feeds = feeds.NewIngester(
		feeds.DefaultFeeds(cfg.Feeds.OpenPhishURL, cfg.Feeds.MalwareDomainsURL),
		feeds.IngesterConfig{Schedule: cfg.Feeds.Schedule, Logger: logger},
	)

	guard := threatintel.DefaultGuardConfig()
	if cfg.ThreatIntel.RateLimitPerMin > 0 {
		guard.RequestsPerMinute = cfg.ThreatIntel.RateLimitPerMin
	}
	sources := threatintel.BuildSources(threatintel.SourcesConfig{
		VirusTotalKey:   cfg.ThreatIntel.VirusTotalKey,
		SafeBrowsingKey: cfg.ThreatIntel.SafeBrowsingKey,
		PhishTankKey:    cfg.ThreatIntel.PhishTankKey,
		URLVoidKey:      cfg.ThreatIntel.URLVoidKey,
		URLhausKey:      cfg.ThreatIntel.URLhausKey,
		Guard:           guard,
	}, p.Feeds, net.DefaultResolver)

	p.Aggregator = threatintel.NewAggregator(sources, threatintel.AggregatorConfig{
		SourceTimeout: cfg.ThreatIntel.SourceTimeout,
		Logger:        logger,
		Metrics:       metrics,
	})
	logger.Info("[TIP] Threat sources registered",
		"total", len(sources),
		"configured", p.Aggregator.GetConfiguredProviders(),
	)

	cached := threatintel.NewCachedAggregator(p.Aggregator, p.buildCache(ctx, cfg), logger, metrics)
	p.Threats = threats.NewService(cached, p.Aggregator, logger)
	p.Threats.SetFeeds(p.Feeds)

	layers := analysis.Layers{ThreatIntel: cached}

	if cfg.Sandbox.Enabled {
		browser := sandboxbrowser.NewChromeBrowser(sandboxbrowser.Config{
			BrowserPath:    cfg.Sandbox.BrowserPath,
			Screenshots:    cfg.Sandbox.Screenshots,
			ScreenshotsDir: cfg.Sandbox.ScreenshotsDir,
			Logger:         logger,
		})
		if err := browser.Start(ctx); err != nil {
			logger.Warn("[SANDBOX] Browser unavailable, sandbox layer disabled", "error", err)
		} else {
			p.closers = append(p.closers, browser.Close)
			p.Sandbox = sandbox.NewOrchestrator(browser, sandbox.Config{
				MaxConcurrent: cfg.Sandbox.MaxConcurrent,
				Timeout:       cfg.Sandbox.Timeout,
				Logger:        logger,
				Metrics:       metrics,
			})
			layers.Sandbox = p.Sandbox
		}
	}

	if cfg.Network.Enabled {
		resolver := domainintel.NewResolver(domainintel.Config{
			LookupTimeout: cfg.Network.LookupTimeout,
			RDAPBaseURL:   cfg.Network.RDAPBaseURL,
		})
		layers.Network = network.NewAnalyzer(resolver, logger)
	}

	if cfg.Pipeline.EnableML {
		layers.Model = scoring.NewHeuristicModel()
	}

	svc, err := analysis.NewService(analysis.Config{
		EarlyExitThreshold: cfg.Pipeline.EarlyExitThreshold,
		Timeout:            cfg.Pipeline.Timeout,
		BatchConcurrency:   cfg.Pipeline.BatchConcurrency,
		Weights: scoring.FusionWeights{
			ThreatIntel: cfg.Pipeline.WeightThreatIntel,
			Sandbox:     cfg.Pipeline.WeightSandbox,
			Network:     cfg.Pipeline.WeightNetwork,
			AuxModel:    cfg.Pipeline.WeightAuxModel,
		},
	}, layers, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	svc.SetMetrics(metrics)
	p.Analysis = svc

	logger.Info("[PIPELINE] Layers enabled", "layers", svc.EnabledLayers())
	return p, nil
}

// buildCache prefers Redis and falls back to the in-process cache when Redis
// is disabled or unreachable
func (p *Pipeline) buildCache(ctx context.Context, cfg *config.Config) threatintel.Cache {
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			p.logger.Warn("[TIP] Redis unreachable, using memory cache", "addr", cfg.Redis.Addr(), "error", err)
			client.Close()
		} else {
			p.closers = append(p.closers, client.Close)
			p.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
			p.logger.Info("[TIP] Using Redis cache", "addr", cfg.Redis.Addr(), "ttl", cfg.ThreatIntel.CacheTTL)
			return threatintel.NewRedisCache(client, cfg.ThreatIntel.CacheTTL, p.logger)
		}
	}

	mem := threatintel.NewMemoryCache(cfg.ThreatIntel.CacheTTL)
	p.closers = append(p.closers, func() error { mem.Close(); return nil })
	return mem
}

// AddCloser registers a resource released by Close
func (p *Pipeline) AddCloser(fn func() error) {
	p.closers = append(p.closers, fn)
}

// Close waits for background work and releases resources in reverse order
func (p *Pipeline) Close() error {
	if p.Analysis != nil {
		p.Analysis.Wait()
	}
	if p.Feeds != nil {
		p.Feeds.Stop()
	}

	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
