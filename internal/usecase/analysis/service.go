package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dscybers/phishshield/internal/domain/scoring"
	"github.com/dscybers/phishshield/internal/entity"
	"github.com/dscybers/phishshield/internal/telemetry"
)

// Controller failures. Layer failures never surface as errors.
var (
	ErrInvalidURL      = errors.New("invalid url")
	ErrInvalidPriority = errors.New("invalid priority")
	ErrBatchTooLarge   = errors.New("batch too large")
	ErrEmptyBatch      = errors.New("batch is empty")
	ErrNoLayers        = errors.New("threat intelligence layer is required")
	ErrLayerDisabled   = errors.New("layer disabled")
	ErrBatchNotFound   = errors.New("batch not found")
)

// persistTimeout bounds each background store or publish call
const persistTimeout = 10 * time.Second

// ThreatIntel is the cached threat-intelligence layer
type ThreatIntel interface {
	Analyze(ctx context.Context, rawURL string) (*entity.AggregatedThreatIntel, bool)
}

// Sandbox is the dynamic behavior layer
type Sandbox interface {
	Analyze(ctx context.Context, rawURL string) (*entity.SandboxResult, error)
}

// NetworkAnalyzer is the network graph layer
type NetworkAnalyzer interface {
	Analyze(ctx context.Context, rawURL string) (*entity.NetworkAnalysisResult, error)
}

// VerdictStore keeps verdict history
type VerdictStore interface {
	SaveVerdict(ctx context.Context, v *entity.Verdict) error
	History(ctx context.Context, rawURL string, limit int) ([]entity.Verdict, error)
}

// VerdictPublisher receives malicious verdicts
type VerdictPublisher interface {
	PublishVerdict(ctx context.Context, v *entity.Verdict) error
}

// BatchNotifier is told when a batch finishes
type BatchNotifier interface {
	BroadcastBatch(job *entity.BatchJob)
}

// Layers are the analysis stages. ThreatIntel is mandatory; a nil optional
// layer is disabled: skipped, not listed, and scored 0.
type Layers struct {
	ThreatIntel ThreatIntel
	Sandbox     Sandbox
	Network     NetworkAnalyzer
	Model       scoring.Model
}

// Config holds pipeline configuration
type Config struct {
	EarlyExitThreshold float64
	Timeout            time.Duration
	BatchConcurrency   int
	Weights            scoring.FusionWeights
}

// Service runs URLs through the layered pipeline
type Service struct {
	config     Config
	layers     Layers
	store      VerdictStore
	publishers []VerdictPublisher
	notifier   BatchNotifier
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	now        func() time.Time

	batches *batchStore
	bg      sync.WaitGroup
}

// NewService creates the pipeline controller
func NewService(config Config, layers Layers, logger *slog.Logger) (*Service, error) {
	if layers.ThreatIntel == nil {
		return nil, ErrNoLayers
	}
	if config.Weights == (scoring.FusionWeights{}) {
		config.Weights = scoring.DefaultFusionWeights()
	}
	if err := config.Weights.Validate(); err != nil {
		return nil, err
	}
	if config.EarlyExitThreshold <= 0 {
		config.EarlyExitThreshold = 0.8
	}
	if config.BatchConcurrency < 1 {
		config.BatchConcurrency = 5
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		config:  config,
		layers:  layers,
		logger:  logger,
		now:     time.Now,
		batches: newBatchStore(),
	}, nil
}

// SetStore enables verdict persistence
func (s *Service) SetStore(store VerdictStore) {
	s.store = store
}

// AddPublisher registers a sink for malicious verdicts
func (s *Service) AddPublisher(p VerdictPublisher) {
	s.publishers = append(s.publishers, p)
}

// SetBatchNotifier registers a listener for finished batches
func (s *Service) SetBatchNotifier(n BatchNotifier) {
	s.notifier = n
}

// SetMetrics enables pipeline metrics
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// EnabledLayers lists the layers this service will run, in order
func (s *Service) EnabledLayers() []string {
	layers := []string{entity.LayerThreatIntelligence}
	if s.layers.Sandbox != nil {
		layers = append(layers, entity.LayerSandbox)
	}
	if s.layers.Network != nil {
		layers = append(layers, entity.LayerNetworkGraph)
	}
	if s.layers.Model != nil {
		layers = append(layers, entity.LayerAdvancedML)
	}
	return layers
}

// ValidateURL accepts absolute http(s) URLs with a host
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return raw, nil
}

// Analyze runs one URL through the pipeline. A deadline on ctx (or the
// configured pipeline timeout) stops it between layers; the verdict then
// covers the layers completed so far.
func (s *Service) Analyze(ctx context.Context, req entity.AnalysisRequest) (*entity.Verdict, error) {
	rawURL, err := ValidateURL(req.URL)
	if err != nil {
		return nil, err
	}
	if !req.Priority.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, req.Priority)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	start := s.now()
	s.logger.Info("[PIPELINE] Starting analysis", "url", rawURL, "priority", req.Priority)

	verdict := &entity.Verdict{
		URL:            rawURL,
		AnalysisLayers: []string{},
	}
	var scores scoring.LayerScores

	// Threat intelligence
	ti, hit := s.layers.ThreatIntel.Analyze(ctx, rawURL)
	verdict.AnalysisLayers = append(verdict.AnalysisLayers, entity.LayerThreatIntelligence)
	verdict.Details.ThreatIntelligence = ti
	scores.ThreatIntel = ti.ThreatScore
	s.logger.Debug("[PIPELINE] Threat intelligence done", "url", rawURL, "score", ti.ThreatScore, "cache_hit", hit)

	if ti.IsMalicious && ti.ThreatScore > s.config.EarlyExitThreshold {
		verdict.IsMalicious = true
		verdict.ThreatLevel = entity.ThreatLevelCritical
		verdict.Confidence = ti.ThreatScore
		verdict.Details.EarlyExit = true
		verdict.Details.FinalScore = ti.ThreatScore
		verdict.Details.LayerScores = map[string]float64{entity.LayerThreatIntelligence: ti.ThreatScore}
		s.finish(ctx, verdict, start)
		return verdict, nil
	}

	// Sandbox
	if s.layers.Sandbox != nil && !s.stopped(ctx, verdict) {
		res, err := s.layers.Sandbox.Analyze(ctx, rawURL)
		switch {
		case err == nil:
			verdict.AnalysisLayers = append(verdict.AnalysisLayers, entity.LayerSandbox)
			verdict.Details.Sandbox = res
			scores.Sandbox = res.RiskScore
		case ctx.Err() != nil:
			verdict.Details.TimedOut = true
		default:
			verdict.AnalysisLayers = append(verdict.AnalysisLayers, entity.LayerSandbox)
			s.logger.Warn("[PIPELINE] Sandbox layer failed", "url", rawURL, "error", err)
		}
	}

	// Network graph
	if s.layers.Network != nil && !s.stopped(ctx, verdict) {
		res, err := s.layers.Network.Analyze(ctx, rawURL)
		if err != nil {
			s.logger.Warn("[PIPELINE] Network layer failed", "url", rawURL, "error", err)
		} else {
			verdict.Details.Network = res
			scores.Network = res.NetworkRisk()
		}
		verdict.AnalysisLayers = append(verdict.AnalysisLayers, entity.LayerNetworkGraph)
	}

	// Auxiliary model
	if s.layers.Model != nil && !s.stopped(ctx, verdict) {
		in := scoring.ModelInput{URL: rawURL, Prior: req.PriorLayerResults, Network: verdict.Details.Network}
		if verdict.Details.Sandbox != nil {
			in.Sandbox = verdict.Details.Sandbox.Report
		}
		res, err := s.layers.Model.Predict(ctx, in)
		if err != nil {
			s.logger.Warn("[PIPELINE] Model layer failed, using fallback", "url", rawURL, "error", err)
			res = scoring.FallbackResult()
		}
		verdict.AnalysisLayers = append(verdict.AnalysisLayers, entity.LayerAdvancedML)
		verdict.Details.MLAnalysis = res
		scores.AuxModel = res.ThreatProbability
	}

	final := s.config.Weights.Fuse(scores)
	verdict.ThreatLevel = scoring.Level(final)
	verdict.IsMalicious = scoring.IsMaliciousLevel(verdict.ThreatLevel)
	verdict.Confidence = final
	verdict.Details.FinalScore = final
	verdict.Details.LayerScores = s.ranScores(verdict.AnalysisLayers, scores)

	s.finish(ctx, verdict, start)
	return verdict, nil
}

// stopped records a pipeline timeout and reports whether to skip the rest
func (s *Service) stopped(ctx context.Context, v *entity.Verdict) bool {
	if ctx.Err() == nil {
		return false
	}
	if !v.Details.TimedOut {
		s.logger.Warn("[PIPELINE] Deadline reached, returning partial verdict",
			"url", v.URL, "completed_layers", v.AnalysisLayers)
	}
	v.Details.TimedOut = true
	return true
}

func (s *Service) ranScores(layers []string, scores scoring.LayerScores) map[string]float64 {
	all := scores.Map()
	ran := make(map[string]float64, len(layers))
	for _, l := range layers {
		ran[l] = all[l]
	}
	return ran
}

func (s *Service) finish(ctx context.Context, v *entity.Verdict, start time.Time) {
	v.Timestamp = s.now()
	v.ScanTime = v.Timestamp.Sub(start).Seconds()

	s.metrics.RecordAnalysis(ctx, string(v.ThreatLevel), v.ScanTime, v.Details.EarlyExit)
	s.logger.Info("[PIPELINE] Analysis complete",
		"url", v.URL,
		"threat_level", v.ThreatLevel,
		"score", fmt.Sprintf("%.2f", v.Details.FinalScore),
		"layers", v.AnalysisLayers,
		"early_exit", v.Details.EarlyExit,
		"timed_out", v.Details.TimedOut,
	)

	s.persist(v)
}

// persist stores the verdict and fans malicious ones out to publishers in
// the background; failures are only logged
func (s *Service) persist(v *entity.Verdict) {
	if s.store == nil && (len(s.publishers) == 0 || !v.IsMalicious) {
		return
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		if s.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := s.store.SaveVerdict(ctx, v); err != nil {
				s.logger.Error("[PIPELINE] Failed to store verdict", "url", v.URL, "error", err)
			}
			cancel()
		}

		if !v.IsMalicious {
			return
		}
		for _, p := range s.publishers {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := p.PublishVerdict(ctx, v); err != nil {
				s.logger.Error("[PIPELINE] Failed to publish verdict", "url", v.URL, "error", err)
			}
			cancel()
		}
	}()
}

// AnalyzeSandbox runs only the sandbox layer
func (s *Service) AnalyzeSandbox(ctx context.Context, rawURL string) (*entity.SandboxResult, error) {
	rawURL, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	if s.layers.Sandbox == nil {
		return nil, fmt.Errorf("%w: sandbox", ErrLayerDisabled)
	}
	return s.layers.Sandbox.Analyze(ctx, rawURL)
}

// History returns stored verdicts for a URL
func (s *Service) History(ctx context.Context, rawURL string, limit int) ([]entity.Verdict, error) {
	rawURL, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, fmt.Errorf("%w: verdict history", ErrLayerDisabled)
	}
	return s.store.History(ctx, rawURL, limit)
}

// Wait blocks until background persistence and batches have finished
func (s *Service) Wait() {
	s.bg.Wait()
}
