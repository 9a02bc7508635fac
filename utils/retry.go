package utils

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay randomised on each attempt, 0..1
	Logger      *Logger

	// RetryIf decides whether an error is worth another attempt.
	// A nil RetryIf retries every error.
	RetryIf func(error) bool
}

// Do executes fn with exponential back-off retry logic. The context is
// checked between attempts; cancellation wins over the remaining budget.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func() error) error {
	var lastErr error
	delay := r.BaseDelay

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if r.RetryIf != nil && !r.RetryIf(lastErr) {
			return lastErr
		}

		if attempt < r.MaxAttempts {
			wait := r.withJitter(delay)
			r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v — retrying in %v",
				operationName, attempt, r.MaxAttempts, lastErr, wait.Round(time.Millisecond))

			select {
			case <-ctx.Done():
				return fmt.Errorf("%s cancelled after %d attempts: %w", operationName, attempt, ctx.Err())
			case <-time.After(wait):
			}

			delay *= 2
			if r.MaxDelay > 0 && delay > r.MaxDelay {
				delay = r.MaxDelay
			}
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, r.MaxAttempts, lastErr)
}

// withJitter spreads the delay by ±Jitter/2 so concurrent workers do not
// hammer a marketplace in lockstep.
func (r *RetryConfig) withJitter(d time.Duration) time.Duration {
	if r.Jitter <= 0 {
		return d
	}
	span := float64(d) * r.Jitter
	return time.Duration(float64(d) - span/2 + rand.Float64()*span)
}
