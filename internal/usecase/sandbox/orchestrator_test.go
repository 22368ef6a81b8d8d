package sandbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dscybers/phishshield/internal/entity"
)

// runnerFunc adapts a function to the Runner interface
type runnerFunc func(ctx context.Context, analysisID, rawURL string) (*entity.SandboxReport, error)

func (f runnerFunc) Run(ctx context.Context, analysisID, rawURL string) (*entity.SandboxReport, error) {
	return f(ctx, analysisID, rawURL)
}

func TestOrchestrator_NeverExceedsConcurrencyBound(t *testing.T) {
	const maxConcurrent = 3

	var current, peak atomic.Int32
	runner := runnerFunc(func(ctx context.Context, _, rawURL string) (*entity.SandboxReport, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return &entity.SandboxReport{FinalURL: rawURL}, nil
	})

	o := NewOrchestrator(runner, Config{MaxConcurrent: maxConcurrent, Timeout: 5 * time.Second})

	var wg sync.WaitGroup
	results := make([]*entity.SandboxResult, maxConcurrent+5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := o.Analyze(context.Background(), "https://example.com/")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(maxConcurrent))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, entity.SandboxCompleted, r.Report.State)
	}
	assert.Equal(t, Stats{MaxConcurrent: maxConcurrent}, o.Stats())
}

func TestOrchestrator_TimeoutKeepsPartialReport(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, _, rawURL string) (*entity.SandboxReport, error) {
		<-ctx.Done()
		return &entity.SandboxReport{
			RedirectChain:   []string{"http://a.example/", "http://b.example/"},
			NetworkRequests: []entity.NetworkRequest{{URL: "https://bit.ly/x", Method: "GET", ResourceType: "Document"}},
		}, ctx.Err()
	})

	o := NewOrchestrator(runner, Config{MaxConcurrent: 1, Timeout: 30 * time.Millisecond})
	res, err := o.Analyze(context.Background(), "http://a.example/")
	require.NoError(t, err)

	report := res.Report
	assert.Equal(t, entity.SandboxTimedOut, report.State)
	assert.Equal(t, []string{ErrorNavigationTimeout}, report.Errors)
	assert.Contains(t, report.RiskIndicators, IndicatorSlowLoading)
	assert.Len(t, report.RedirectChain, 2)
	assert.InDelta(t, 0.1, res.RiskScore, 1e-9, "shortener request still counts")
	assert.NotEmpty(t, report.AnalysisID)
}

func TestOrchestrator_RunnerIgnoringCancellationHoldsSlot(t *testing.T) {
	release := make(chan struct{})
	runner := runnerFunc(func(context.Context, string, string) (*entity.SandboxReport, error) {
		<-release
		return nil, nil
	})

	o := NewOrchestrator(runner, Config{MaxConcurrent: 1, Timeout: 20 * time.Millisecond})
	o.grace = 10 * time.Millisecond

	res, err := o.Analyze(context.Background(), "http://stall.example/")
	require.NoError(t, err)
	assert.Equal(t, entity.SandboxTimedOut, res.Report.State)
	assert.Equal(t, 1, o.Stats().Executing, "abandoned runner still occupies its slot")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = o.Analyze(ctx, "http://next.example/")
	assert.ErrorIs(t, err, ErrNotAdmitted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	assert.Eventually(t, func() bool { return o.Stats().Executing == 0 }, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_ErrorDegradesToPartialReport(t *testing.T) {
	runner := runnerFunc(func(context.Context, string, string) (*entity.SandboxReport, error) {
		return &entity.SandboxReport{PageTitle: "half loaded"}, errors.New("net::ERR_NAME_NOT_RESOLVED")
	})

	o := NewOrchestrator(runner, Config{MaxConcurrent: 2, Timeout: time.Second})
	res, err := o.Analyze(context.Background(), "http://nx.example/")
	require.NoError(t, err)

	assert.Equal(t, entity.SandboxErrored, res.Report.State)
	assert.Equal(t, []string{"Analysis error: net::ERR_NAME_NOT_RESOLVED"}, res.Report.Errors)
	assert.Equal(t, "half loaded", res.Report.PageTitle)
	assert.Equal(t, 0.0, res.RiskScore)
}

func TestOrchestrator_CompletedReport(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, id, rawURL string) (*entity.SandboxReport, error) {
		assert.Equal(t, "fixed-id", id)
		return &entity.SandboxReport{
			FinalURL:       "https://login.example.net/",
			Forms:          []entity.FormDescriptor{{Fields: []entity.FormField{{Type: "password", Name: "pw"}}}},
			JSBehavior:     entity.JSBehavior{Keylogger: true},
			RiskIndicators: []string{"Potential keylogger behavior detected"},
		}, nil
	})

	o := NewOrchestrator(runner, Config{})
	o.newID = func() string { return "fixed-id" }

	res, err := o.Analyze(context.Background(), "http://bit.ly/abc")
	require.NoError(t, err)

	assert.Equal(t, entity.SandboxCompleted, res.Report.State)
	assert.Equal(t, "https://login.example.net/", res.Report.FinalURL)
	assert.Equal(t, "http://bit.ly/abc", res.Report.URL)
	assert.Empty(t, res.Report.Errors)
	assert.InDelta(t, 0.7, res.RiskScore, 1e-9)
}

func TestScore(t *testing.T) {
	sensitive := []entity.FormDescriptor{{Fields: []entity.FormField{{Type: "text", Name: "credit_card"}}}}
	benign := []entity.FormDescriptor{{Fields: []entity.FormField{{Type: "text", Name: "q"}}}}

	tests := []struct {
		name     string
		report   *entity.SandboxReport
		expected float64
	}{
		{"nil", nil, 0},
		{"empty", &entity.SandboxReport{}, 0},
		{"benign form", &entity.SandboxReport{Forms: benign}, 0},
		{"sensitive form", &entity.SandboxReport{Forms: sensitive}, 0.3},
		{"two sensitive forms count once", &entity.SandboxReport{Forms: append(sensitive, sensitive...)}, 0.3},
		{"keylogger", &entity.SandboxReport{JSBehavior: entity.JSBehavior{Keylogger: true}}, 0.4},
		{"obfuscated", &entity.SandboxReport{JSBehavior: entity.JSBehavior{Obfuscated: true}}, 0.2},
		{"three redirects", &entity.SandboxReport{RedirectChain: []string{"a", "b", "c"}}, 0},
		{"four redirects", &entity.SandboxReport{RedirectChain: []string{"a", "b", "c", "d"}}, 0.2},
		{"shortener", &entity.SandboxReport{NetworkRequests: []entity.NetworkRequest{{URL: "https://tinyurl.com/x"}}}, 0.1},
		{"shortener lookalike", &entity.SandboxReport{NetworkRequests: []entity.NetworkRequest{{URL: "https://notbit.ly/x"}}}, 0},
		{"everything clamps", &entity.SandboxReport{
			Forms:           sensitive,
			JSBehavior:      entity.JSBehavior{Keylogger: true, Obfuscated: true},
			RedirectChain:   []string{"a", "b", "c", "d"},
			NetworkRequests: []entity.NetworkRequest{{URL: "https://t.co/x"}},
		}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Score(tt.report), 1e-9)
		})
	}
}
