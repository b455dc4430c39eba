// Package resilience composes the ambient resilience primitives
// (pkg/resilience) and a per-source outbound rate limiter into a single
// Guard that wraps every call made to an external procurement data
// source.
package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tjsasakifln/bidiq/pkg/resilience"
)

// Config configures a per-source Guard. RateLimitRPS comes from the
// source's declared SourceMetadata.RateLimitRPS.
type Config struct {
	Name          string
	RateLimitRPS  float64
	RequestTimeout time.Duration
	MaxRetries    int
	RetryInitialDelay time.Duration
	RetryMaxDelay time.Duration
	FailureThreshold uint32
	OpenStateTimeout time.Duration
	MaxConcurrent int
}

// DefaultConfig returns sensible per-source defaults. Source adapters
// override RateLimitRPS from their own SourceMetadata.
func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		RateLimitRPS:      10,
		RequestTimeout:    30 * time.Second,
		MaxRetries:        3,
		RetryInitialDelay: 500 * time.Millisecond,
		RetryMaxDelay:     10 * time.Second,
		FailureThreshold:  5,
		OpenStateTimeout:  30 * time.Second,
		MaxConcurrent:     10,
	}
}

// Guard wraps a single upstream source with a circuit breaker, bounded
// retry with exponential backoff and jitter, a concurrency bulkhead, and
// a token-bucket outbound rate limiter.
type Guard struct {
	name    string
	cb      *resilience.CircuitBreaker
	retryer *resilience.Retryer
	bulkhead *resilience.Bulkhead
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGuard builds a Guard for one source from Config.
func NewGuard(cfg Config) *Guard {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        cfg.Name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     cfg.OpenStateTimeout,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	})

	retryer := resilience.NewRetryer(
		resilience.WithRetryMaxAttempts(cfg.MaxRetries),
		resilience.WithRetryInitialDelay(cfg.RetryInitialDelay),
		resilience.WithRetryMaxDelay(cfg.RetryMaxDelay),
		resilience.WithRetryMultiplier(2.0),
		resilience.WithRetryJitter(0.2),
	)

	bh := resilience.NewBulkhead(resilience.BulkheadConfig{
		Name:          cfg.Name,
		MaxConcurrent: cfg.MaxConcurrent,
	})

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	limiter := rate.NewLimiter(rate.Limit(rps), int(rps)+1)

	return &Guard{
		name:     cfg.Name,
		cb:       cb,
		retryer:  retryer,
		bulkhead: bh,
		limiter:  limiter,
		timeout:  cfg.RequestTimeout,
	}
}

// Do runs fn protected by rate limiting, a concurrency bulkhead, bounded
// retry and a circuit breaker, nested in that order — the limiter
// throttles before a request is attempted at all, the bulkhead bounds how
// many requests to this source are in flight concurrently, and each retry
// attempt goes through the breaker, which short-circuits a source known
// to be failing.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	return g.bulkhead.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return g.retryer.Do(ctx, func(ctx context.Context) error {
			return g.cb.ExecuteWithContext(ctx, fn)
		})
	})
}

// State returns the current circuit breaker state. The source adapters'
// HealthCheck methods do not consult it; they probe the upstream directly.
func (g *Guard) State() resilience.State {
	return g.cb.State()
}

// Name returns the guarded source's name.
func (g *Guard) Name() string {
	return g.name
}
