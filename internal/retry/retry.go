// Package retry implements the two backoff regimes used against the
// persistence boundary: a bounded budget for request/response calls and
// an unbounded, capped schedule for the long-lived stream reconnect.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/roomly/matchtalk/internal/domain"
)

type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Default matches the budget used for all caller-visible store operations.
var Default = Policy{
	Attempts:  3,
	BaseDelay: 100 * time.Millisecond,
	MaxDelay:  2 * time.Second,
}

// Do runs fn, retrying only transient backend failures. Validation and
// authorization errors pass through on the first attempt since retrying
// a bad request cannot succeed. When the budget is spent the last error
// is wrapped in domain.ErrRetryExhausted.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Backoff(i-1, p.BaseDelay, p.MaxDelay)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !domain.IsTransient(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", domain.ErrRetryExhausted, attempts, lastErr)
}

// Backoff returns the exponential delay for the given zero-based attempt,
// capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
