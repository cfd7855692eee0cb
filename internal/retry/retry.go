// Package retry runs outbound calls under a bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted marks a retryable failure that used up every attempt.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy configures the wrapper. The delay before retry n (counting from 0) is
// min(BaseDelay * Multiplier^n, MaxDelay).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// AttemptTimeout bounds each individual call when positive.
	AttemptTimeout time.Duration
}

// DefaultPolicy makes three attempts waiting 1s then 2s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    10 * time.Second,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = p.BaseDelay
	}

	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.BaseDelay),
		backoff.WithMultiplier(multiplier),
		backoff.WithMaxInterval(maxDelay),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Do calls fn until it succeeds, fails permanently, or runs out of attempts. The name
// only appears in logs and errors.
func Do[T any](ctx context.Context, p Policy, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, backoff.Permanent(err)
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		defer cancel()

		v, err := fn(attemptCtx)
		if err == nil {
			return v, nil
		}
		if Classify(err) != Retryable {
			return v, backoff.Permanent(Tag(err))
		}
		return v, err
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("Call failed, will retry.",
			"operation", name,
			"attempt", attempt,
			"maxAttempts", p.MaxAttempts,
			"backoff", wait.String(),
			"error", err,
		)
	}

	v, err := backoff.RetryNotifyWithData(operation, p.backOff(ctx), notify)
	if err == nil {
		return v, nil
	}
	if Classify(err) == Retryable && ctx.Err() == nil {
		slog.Error("Call failed after all retries.", "operation", name, "attempts", attempt, "error", err)
		return v, fmt.Errorf("%s: %w after %d attempts: %w", name, ErrExhausted, attempt, Tag(err))
	}
	return v, fmt.Errorf("%s: %w", name, err)
}

// Run is Do for calls without a result.
func Run(ctx context.Context, p Policy, name string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
