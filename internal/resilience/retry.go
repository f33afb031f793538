// Package resilience provides the retry policy and circuit breaker used
// around the remote inference upstreams.
//
// Retries are encoded as a small [RetryPolicy] value rather than ad-hoc
// sleeps in each caller: the STT client owns one policy, the warm-keeper
// owns none (it never retries), and tests construct policies with
// microsecond delays.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryPolicy describes how a transient upstream failure is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 behave as 1 (no retry).
	MaxAttempts int

	// BaseDelay is the sleep before the first retry. Each subsequent retry
	// doubles the delay up to MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Zero means no cap.
	MaxDelay time.Duration

	// Retryable reports whether err is worth retrying. A nil predicate
	// retries every error.
	Retryable func(error) bool
}

// Do runs fn until it succeeds, until the attempt budget is exhausted, or
// until ctx is cancelled. The last error is returned; context errors are
// returned as-is so callers can distinguish cancellation from upstream
// failure.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		slog.Warn("upstream call failed, backing off",
			"attempt", attempt, "max_attempts", attempts, "delay", delay, "error", lastErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return lastErr
}
