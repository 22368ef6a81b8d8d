package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dscybers/phishshield/internal/entity"
	"github.com/dscybers/phishshield/internal/telemetry"
)

// Messages recorded on degraded sessions
const (
	ErrorNavigationTimeout = "Navigation timeout"
	IndicatorSlowLoading   = "Slow loading page (potential stalling)"
)

// ErrNotAdmitted is returned when the caller gave up while waiting for a slot
var ErrNotAdmitted = errors.New("sandbox session not admitted")

var shortenerDomains = []string{"bit.ly", "tinyurl.com", "t.co", "ow.ly", "goo.gl", "short.link"}

// Runner executes a URL in an isolated browser session. On failure it may
// return a partial report alongside the error.
type Runner interface {
	Run(ctx context.Context, analysisID, rawURL string) (*entity.SandboxReport, error)
}

// Config holds orchestrator configuration
type Config struct {
	MaxConcurrent int
	Timeout       time.Duration
	Logger        *slog.Logger
	Metrics       *telemetry.Metrics
}

// Orchestrator admits sandbox sessions through a counting semaphore and turns
// their reports into a risk score
type Orchestrator struct {
	runner  Runner
	slots   chan struct{}
	timeout time.Duration
	logger  *slog.Logger
	metrics *telemetry.Metrics
	newID   func() string
	grace   time.Duration

	waiting   atomic.Int32
	executing atomic.Int32
}

// Stats is a point-in-time view of sandbox admission
type Stats struct {
	MaxConcurrent int `json:"max_concurrent"`
	Executing     int `json:"executing"`
	Waiting       int `json:"waiting"`
}

// NewOrchestrator creates a sandbox orchestrator in front of runner
func NewOrchestrator(runner Runner, cfg Config) *Orchestrator {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Orchestrator{
		runner:  runner,
		slots:   make(chan struct{}, cfg.MaxConcurrent),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		newID:   uuid.NewString,
		grace:   time.Second,
	}
}

type runOutcome struct {
	report *entity.SandboxReport
	err    error
}

// Analyze runs rawURL through the sandbox. Timeouts and runner failures
// degrade to a partial report; only a caller that gives up before admission
// gets an error.
func (o *Orchestrator) Analyze(ctx context.Context, rawURL string) (*entity.SandboxResult, error) {
	report := &entity.SandboxReport{
		AnalysisID:      o.newID(),
		URL:             rawURL,
		FinalURL:        rawURL,
		RedirectChain:   []string{},
		Forms:           []entity.FormDescriptor{},
		NetworkRequests: []entity.NetworkRequest{},
		RiskIndicators:  []string{},
		Errors:          []string{},
		State:           entity.SandboxIdle,
	}
	report.JSBehavior.SuspiciousFunctions = []string{}
	report.JSBehavior.ExternalScripts = []string{}

	// Blocked senders are queued in arrival order
	o.waiting.Add(1)
	select {
	case o.slots <- struct{}{}:
		o.waiting.Add(-1)
	case <-ctx.Done():
		o.waiting.Add(-1)
		return nil, fmt.Errorf("%w: %w", ErrNotAdmitted, ctx.Err())
	}
	report.State = entity.SandboxAdmitted

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	report.State = entity.SandboxExecuting
	o.executing.Add(1)
	o.metrics.SandboxStarted(ctx)
	o.logger.Info("[SANDBOX] Starting analysis", "analysis_id", report.AnalysisID, "url", rawURL)

	// The slot is held until the runner really returns, even if we stop
	// waiting for it, so the bound covers runners that ignore cancellation.
	done := make(chan runOutcome, 1)
	go func() {
		got, err := o.runner.Run(runCtx, report.AnalysisID, rawURL)
		o.executing.Add(-1)
		o.metrics.SandboxFinished(context.Background())
		<-o.slots
		done <- runOutcome{report: got, err: err}
	}()

	var outcome runOutcome
	select {
	case outcome = <-done:
	case <-runCtx.Done():
		// A runner that honours cancellation hands back its partial report
		select {
		case outcome = <-done:
		case <-time.After(o.grace):
			outcome.err = runCtx.Err()
		}
	}

	mergeReport(report, outcome.report)

	switch {
	case outcome.err == nil:
		report.State = entity.SandboxCompleted
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) || errors.Is(outcome.err, context.DeadlineExceeded):
		report.State = entity.SandboxTimedOut
		report.Errors = append(report.Errors, ErrorNavigationTimeout)
		report.RiskIndicators = append(report.RiskIndicators, IndicatorSlowLoading)
		o.logger.Warn("[SANDBOX] Timeout during analysis", "analysis_id", report.AnalysisID, "url", rawURL)
	default:
		report.State = entity.SandboxErrored
		report.Errors = append(report.Errors, "Analysis error: "+outcome.err.Error())
		o.logger.Error("[SANDBOX] Error during analysis", "analysis_id", report.AnalysisID, "error", outcome.err)
	}

	report.ExecutionSeconds = time.Since(start).Seconds()
	score := Score(report)

	o.logger.Info("[SANDBOX] Analysis completed",
		"analysis_id", report.AnalysisID,
		"state", report.State,
		"risk_score", score,
		"duration", fmt.Sprintf("%.2fs", report.ExecutionSeconds),
	)

	return &entity.SandboxResult{Report: report, RiskScore: score}, nil
}

// mergeReport copies what the runner observed into the session report
func mergeReport(dst, src *entity.SandboxReport) {
	if src == nil {
		return
	}
	dst.PageTitle = src.PageTitle
	if src.FinalURL != "" {
		dst.FinalURL = src.FinalURL
	}
	if src.RedirectChain != nil {
		dst.RedirectChain = src.RedirectChain
	}
	if src.Forms != nil {
		dst.Forms = src.Forms
	}
	if src.JSBehavior.SuspiciousFunctions != nil {
		dst.JSBehavior.SuspiciousFunctions = src.JSBehavior.SuspiciousFunctions
	}
	if src.JSBehavior.ExternalScripts != nil {
		dst.JSBehavior.ExternalScripts = src.JSBehavior.ExternalScripts
	}
	dst.JSBehavior.Obfuscated = src.JSBehavior.Obfuscated
	dst.JSBehavior.Keylogger = src.JSBehavior.Keylogger
	if src.NetworkRequests != nil {
		dst.NetworkRequests = src.NetworkRequests
	}
	dst.Screenshots = src.Screenshots
	dst.RiskIndicators = append(dst.RiskIndicators, src.RiskIndicators...)
	dst.Errors = append(dst.Errors, src.Errors...)
}

// Score converts a sandbox report into a risk score in [0,1]. Every rule
// adds independently.
func Score(r *entity.SandboxReport) float64 {
	if r == nil {
		return 0
	}

	score := 0.0
	for _, f := range r.Forms {
		if f.CollectsSensitiveData() {
			score += 0.3
			break
		}
	}
	if r.JSBehavior.Keylogger {
		score += 0.4
	}
	if r.JSBehavior.Obfuscated {
		score += 0.2
	}
	if len(r.RedirectChain) > 3 {
		score += 0.2
	}
	for _, req := range r.NetworkRequests {
		if isShortener(req.URL) {
			score += 0.1
			break
		}
	}
	return entity.Clamp01(score)
}

func isShortener(rawURL string) bool {
	host := hostOf(rawURL)
	for _, d := range shortenerDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Stats returns the current admission state
func (o *Orchestrator) Stats() Stats {
	return Stats{
		MaxConcurrent: cap(o.slots),
		Executing:     int(o.executing.Load()),
		Waiting:       int(o.waiting.Load()),
	}
}
