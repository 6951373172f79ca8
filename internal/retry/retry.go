// Package retry provides a reusable retry policy with exponential backoff.
//
// Components that talk to unreliable collaborators (the swarm channel in
// particular) share this policy instead of hand-rolling retry loops, which
// keeps their failure paths testable in isolation.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded retry strategy: how many attempts to make and
// how the delay between them grows.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay after the first failed attempt. Each
	// subsequent delay doubles.
	BaseDelay time.Duration

	// MaxDelay caps the backoff curve (0 = uncapped).
	MaxDelay time.Duration
}

// DefaultPolicy returns the policy used for transient channel failures.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    time.Second,
	}
}

// Delay returns the backoff delay after the given zero-based failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(1<<attempt)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs op until it succeeds, returns a non-retryable error, the attempt
// budget is exhausted, or ctx is cancelled. The retryable predicate decides
// which errors are worth another attempt; a nil predicate retries every
// error. The last error seen is returned when retries exhaust.
func (p Policy) Do(ctx context.Context, op func() error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
