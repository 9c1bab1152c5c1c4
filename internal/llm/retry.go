package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behaviour for provider calls.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries"`
	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration `yaml:"base_delay"`
	// MaxDelay caps every backoff delay.
	MaxDelay time.Duration `yaml:"max_delay"`
	// JitterFactor randomizes delays by ±factor.
	JitterFactor float64 `yaml:"jitter_factor"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// retry runs fn until it succeeds, returns a non-transient error, the
// budget is spent or ctx is done. It returns the number of attempts made.
func retry[T any](ctx context.Context, cfg RetryConfig, logger *slog.Logger, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("llm retry succeeded", "attempts", attempt+1)
			}
			return result, attempt + 1, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return zero, attempt + 1, err
		}
		if attempt == cfg.MaxRetries {
			logger.Warn("llm retries exhausted", "attempts", attempt+1, "error", err)
			break
		}

		delay := backoff(attempt, cfg)
		logger.Debug("llm attempt failed, backing off", "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, attempt + 1, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}
	return zero, cfg.MaxRetries + 1, lastErr
}

// backoff computes BaseDelay * 2^attempt with jitter, capped at MaxDelay.
func backoff(attempt int, cfg RetryConfig) time.Duration {
	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.JitterFactor > 0 {
		jitter := float64(delay) * cfg.JitterFactor
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
		if delay < 0 {
			delay = cfg.BaseDelay
		}
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return delay
}
