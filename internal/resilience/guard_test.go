package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_SucceedsOnFirstAttempt(t *testing.T) {
	cfg := DefaultConfig("pncp")
	cfg.RateLimitRPS = 1000
	cfg.RequestTimeout = time.Second
	g := NewGuard(cfg)

	calls := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGuard_RetriesTransientFailures(t *testing.T) {
	cfg := DefaultConfig("portal_compras")
	cfg.RateLimitRPS = 1000
	cfg.RetryInitialDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	cfg.MaxRetries = 3
	cfg.RequestTimeout = time.Second
	g := NewGuard(cfg)

	attempts := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient upstream error")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestGuard_OpensCircuitAfterRepeatedFailures(t *testing.T) {
	cfg := DefaultConfig("compras_gov")
	cfg.RateLimitRPS = 1000
	cfg.RetryInitialDelay = time.Millisecond
	cfg.RetryMaxDelay = time.Millisecond
	cfg.MaxRetries = 1
	cfg.FailureThreshold = 2
	cfg.OpenStateTimeout = time.Minute
	cfg.RequestTimeout = time.Second
	g := NewGuard(cfg)

	failing := func(ctx context.Context) error {
		return errors.New("source down")
	}

	for i := 0; i < 2; i++ {
		_ = g.Do(context.Background(), failing)
	}

	err := g.Do(context.Background(), func(ctx context.Context) error {
		t.Fatal("fn should not run while circuit is open")
		return nil
	})

	require.Error(t, err)
}
