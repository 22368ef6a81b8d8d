package threatintel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/dscybers/phishshield/internal/entity"
)

// ErrCircuitOpen is returned while a source is cooling down after repeated failures
var ErrCircuitOpen = errors.New("circuit open")

// GuardConfig configures rate limiting and failure isolation for a source
type GuardConfig struct {
	RequestsPerMinute int
	Burst             int
	FailureThreshold  int
	CoolDown          time.Duration
}

// DefaultGuardConfig returns the guard used for remote sources
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RequestsPerMinute: 240,
		Burst:             5,
		FailureThreshold:  5,
		CoolDown:          60 * time.Second,
	}
}

// Guard wraps a Source with a token bucket and a consecutive-failure breaker
type Guard struct {
	Source
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Guarded wraps src with cfg
func Guarded(src Source, cfg GuardConfig) *Guard {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultGuardConfig().RequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultGuardConfig().FailureThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultGuardConfig().CoolDown
	}

	threshold := uint32(cfg.FailureThreshold)
	logger := slog.Default()

	return &Guard{
		Source:  src,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        src.Name(),
			MaxRequests: 1,
			Timeout:     cfg.CoolDown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: isHealthyOutcome,
			OnStateChange: func(name string, from, to gobreaker.State) {
				if to == gobreaker.StateOpen {
					logger.Warn("[TIP] source circuit opened", "source", name, "from", from.String())
					return
				}
				logger.Info("[TIP] source circuit state changed", "source", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// isHealthyOutcome reports whether err says nothing about the source's health.
// No result is the normal answer for an unknown URL, and a caller that gave
// up did not see the source fail.
func isHealthyOutcome(err error) bool {
	return err == nil || errors.Is(err, ErrNoResult) || errors.Is(err, context.Canceled)
}

// Check applies the breaker and limiter before delegating
func (g *Guard) Check(ctx context.Context, rawURL string) (*entity.ThreatSourceResult, error) {
	// Open circuits must not consume rate tokens
	if g.breaker.State() == gobreaker.StateOpen {
		return nil, ErrCircuitOpen
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.Source.Check(ctx, rawURL)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	res, _ := out.(*entity.ThreatSourceResult)
	return res, err
}

// State returns the breaker state, for status reporting
func (g *Guard) State() string {
	return g.breaker.State().String()
}
