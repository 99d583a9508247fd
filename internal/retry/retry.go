// Package retry implements the backoff policy applied around generation
// collaborator calls and normalization fetches.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Policy defines retry behavior. The zero value performs no retries: the
// operation runs exactly once.
type Policy struct {
	// MaxAttempts is the number of retries after the first attempt.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// Multiplier is the backoff growth factor.
	Multiplier float64
	// Jitter randomizes each delay by ±50% to avoid synchronized retries.
	Jitter bool
	// Retryable decides whether an error is worth retrying. Nil retries
	// everything.
	Retryable func(error) bool
}

// Transient returns a policy suited to flaky network calls: a few attempts
// with exponential backoff and jitter.
func Transient(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(maxAttempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1.0,
	}
}

// Do executes fn under the policy. Context cancellation interrupts the
// backoff sleep and is returned as-is.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	if p.MaxAttempts <= 0 {
		return fn()
	}

	delay := p.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.next(delay)):
			}
			delay = time.Duration(float64(delay) * p.Multiplier)
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts+1, lastErr)
}

// next applies jitter to a delay.
func (p Policy) next(delay time.Duration) time.Duration {
	if !p.Jitter || delay <= 0 {
		return delay
	}
	half := float64(delay) / 2
	return time.Duration(half + rand.Float64()*half*2) // #nosec G404 - jitter only
}
