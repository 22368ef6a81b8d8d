package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/dscybers/phishshield/internal/entity"
)

// Config holds headless browser configuration
type Config struct {
	BrowserPath    string // empty uses the chromedp lookup
	Screenshots    bool
	ScreenshotsDir string
	UserAgent      string
	IdleAfter      time.Duration // quiet period that counts as network idle
	Logger         *slog.Logger
}

// ChromeBrowser runs sandbox sessions in headless Chrome. Every session gets
// its own incognito browser context inside one shared browser process.
type ChromeBrowser struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromeBrowser creates a browser; call Start before Run
func NewChromeBrowser(cfg Config) *ChromeBrowser {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = 2 * time.Second
	}
	if cfg.ScreenshotsDir == "" {
		cfg.ScreenshotsDir = filepath.Join(os.TempDir(), "phishshield-screenshots")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ChromeBrowser{cfg: cfg, logger: cfg.Logger}
}

// Start launches the browser process
func (b *ChromeBrowser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(b.cfg.UserAgent),
		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	if b.cfg.BrowserPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.BrowserPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run on a fresh context starts the browser
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("start browser: %w", err)
	}

	if b.cfg.Screenshots {
		if err := os.MkdirAll(b.cfg.ScreenshotsDir, 0o755); err != nil {
			b.logger.Warn("[SANDBOX] Screenshots disabled", "dir", b.cfg.ScreenshotsDir, "error", err)
			b.cfg.Screenshots = false
		}
	}

	b.allocCancel = allocCancel
	b.browserCtx = browserCtx
	b.browserCancel = browserCancel
	b.logger.Info("[SANDBOX] Browser started", "screenshots", b.cfg.Screenshots)
	return nil
}

// Close shuts the browser down
func (b *ChromeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx == nil {
		return nil
	}
	b.browserCancel()
	b.allocCancel()
	b.browserCtx = nil
	b.logger.Info("[SANDBOX] Browser stopped")
	return nil
}

// pageCapture collects events emitted while the page loads
type pageCapture struct {
	mu        sync.Mutex
	requests  []entity.NetworkRequest
	redirects []string
	active    int32
}

func (c *pageCapture) snapshot() ([]entity.NetworkRequest, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqs := make([]entity.NetworkRequest, len(c.requests))
	copy(reqs, c.requests)
	redirects := make([]string, len(c.redirects))
	copy(redirects, c.redirects)
	return reqs, redirects
}

// Run loads rawURL and returns what the page did. When ctx ends early the
// returned report holds whatever was observed so far, alongside the error.
func (b *ChromeBrowser) Run(ctx context.Context, analysisID, rawURL string) (*entity.SandboxReport, error) {
	b.mu.Lock()
	browserCtx := b.browserCtx
	b.mu.Unlock()
	if browserCtx == nil {
		return nil, fmt.Errorf("browser not started")
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	capture := &pageCapture{}
	idle := b.listen(tabCtx, capture)

	report := &entity.SandboxReport{
		AnalysisID: analysisID,
		URL:        rawURL,
		FinalURL:   rawURL,
	}
	fill := func() {
		report.NetworkRequests, report.RedirectChain = capture.snapshot()
	}

	if err := chromedp.Run(tabCtx, network.Enable(), chromedp.Navigate(rawURL)); err != nil {
		fill()
		return report, fmt.Errorf("navigate: %w", err)
	}

	// Give late scripts a chance to fire before reading the DOM
	select {
	case <-idle:
	case <-time.After(4 * b.cfg.IdleAfter):
	case <-tabCtx.Done():
		fill()
		return report, tabCtx.Err()
	}

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Title(&report.PageTitle),
		chromedp.Location(&report.FinalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	fill()
	if err != nil {
		return report, fmt.Errorf("read page: %w", err)
	}

	if b.cfg.Screenshots {
		if path, err := b.screenshot(tabCtx, analysisID); err != nil {
			b.logger.Warn("[SANDBOX] Failed to take screenshot", "analysis_id", analysisID, "error", err)
		} else {
			report.Screenshots = append(report.Screenshots, path)
		}
	}

	ins, err := InspectHTML(report.FinalURL, html)
	if err != nil {
		return report, fmt.Errorf("inspect page: %w", err)
	}
	report.Forms = ins.Forms
	report.JSBehavior = ins.JSBehavior
	report.RiskIndicators = append(report.RiskIndicators, ins.RiskIndicators...)

	return report, nil
}

// listen records requests and redirects and signals once the network has
// been quiet for IdleAfter
func (b *ChromeBrowser) listen(ctx context.Context, capture *pageCapture) <-chan struct{} {
	idle := make(chan struct{}, 1)
	var once sync.Once
	var timerMu sync.Mutex
	var timer *time.Timer

	startTimer := func() {
		timerMu.Lock()
		defer timerMu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(b.cfg.IdleAfter, func() {
			if atomic.LoadInt32(&capture.active) == 0 {
				once.Do(func() { idle <- struct{}{} })
			}
		})
	}

	chromedp.ListenTarget(ctx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			// a redirect reuses the request id, so it has no extra finish event
			if e.RedirectResponse == nil {
				atomic.AddInt32(&capture.active, 1)
			}
			capture.mu.Lock()
			capture.requests = append(capture.requests, entity.NetworkRequest{
				URL:          e.Request.URL,
				Method:       e.Request.Method,
				ResourceType: string(e.Type),
			})
			if e.RedirectResponse != nil && e.Type == network.ResourceTypeDocument {
				capture.redirects = append(capture.redirects, e.RedirectResponse.URL)
			}
			capture.mu.Unlock()
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			if atomic.AddInt32(&capture.active, -1) <= 0 {
				startTimer()
			}
		}
	})

	return idle
}

func (b *ChromeBrowser) screenshot(ctx context.Context, analysisID string) (string, error) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return "", err
	}
	path := filepath.Join(b.cfg.ScreenshotsDir, analysisID+".png")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
