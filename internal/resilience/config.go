package resilience

import (
	"context"
	"time"
)

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// Guard applies a timeout, retries and a per-name circuit breaker to calls.
type Guard struct {
	Retry    RetryConfig
	Timeout  time.Duration
	Breakers *Breakers
}

// NewGuard builds a Guard. A zero timeout disables the deadline.
func NewGuard(retry RetryConfig, circuit CircuitBreakerConfig, timeout time.Duration) *Guard {
	return &Guard{Retry: retry, Timeout: timeout, Breakers: NewBreakers(circuit)}
}

// Call runs fn for name under the guard. Each attempt passes through the
// breaker; an open circuit ends retrying. It returns the attempt count.
func Call[T any](ctx context.Context, g *Guard, name string, fn func(ctx context.Context) (T, error)) (T, int, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	cfg := g.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = RetryLogger(name)
	}
	cb := g.Breakers.Get(name)

	return Retry(ctx, cfg, func(ctx context.Context) (T, error) {
		return ExecuteVal(ctx, cb, fn)
	})
}
