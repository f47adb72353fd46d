package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls exponential backoff with jitter.
type RetryConfig struct {
	// MaxAttempts counts the first try too; 1 disables retries.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the computed delay.
	MaxBackoff time.Duration

	// Multiplier scales the delay after each failed attempt.
	Multiplier float64

	// JitterFraction randomizes the delay by up to this fraction in either
	// direction. 0 disables jitter.
	JitterFraction float64

	// ShouldRetry overrides IsTransient when set.
	ShouldRetry func(err error) bool

	// OnRetry runs before each retry sleep. When nil, the retry is logged
	// at warn level.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig suits outbound provider API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts
// run out. Context cancellation stops the loop immediately.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that return a value alongside the error.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !shouldRetry(lastErr) {
			return zero, lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		} else {
			zap.L().Warn("retrying after transient error",
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr),
			)
		}

		timer := time.NewTimer(cfg.delay(attempt, lastErr))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

// delay picks the sleep before the next attempt. A provider-supplied
// Retry-After wins over the exponential schedule.
func (cfg RetryConfig) delay(attempt int, err error) time.Duration {
	if ra := retryAfterOf(err); ra > 0 {
		if ra > cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
		return ra
	}

	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	if cfg.JitterFraction > 0 {
		d += (rand.Float64()*2 - 1) * d * cfg.JitterFraction
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
