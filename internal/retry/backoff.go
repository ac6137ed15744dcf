// Package retry provides the exponential backoff used to re-establish
// a chat session after the peer goes away.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"tcpchat/config"
	ncerr "tcpchat/internal/errors"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that retrying will not help.
// Return [Permanent](err) from the operation function to stop retrying
// immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err should stop a retry loop: it was
// marked with [Permanent], or it is a failure no amount of waiting
// fixes (bad endpoint, rejected SSH credentials, closed session).
func IsPermanent(err error) bool {
	var pe *PermanentError
	if ncerr.As(err, &pe) {
		return true
	}
	return ncerr.Is(err, ncerr.ErrInvalidEndpoint) ||
		ncerr.Is(err, ncerr.ErrAuthFailed) ||
		ncerr.Is(err, ncerr.ErrAlreadyConnected)
}

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff implements exponential backoff with optional jitter.
type Backoff struct {
	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration
	// Multiplier grows the delay each attempt (default 2.0).
	Multiplier float64
	// MaxAttempts is the total number of tries including the first.
	// 0 means unlimited (until the context is cancelled).
	MaxAttempts int
	// Jitter adds ±25% randomisation.
	Jitter bool
	// OnRetry, if set, is called before each wait with the attempt that
	// just failed.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// ReconnectBackoff returns the policy used by --reconnect.
func ReconnectBackoff(maxAttempts int) *Backoff {
	return &Backoff{
		InitialDelay: config.DefaultReconnectBackoff,
		MaxDelay:     config.DefaultMaxReconnectBackoff,
		Multiplier:   2.0,
		MaxAttempts:  maxAttempts,
		Jitter:       true,
	}
}

// Delay returns the un-jittered wait after the given failed attempt
// (1-based).
func (b *Backoff) Delay(attempt int) time.Duration {
	initial := b.InitialDelay
	if initial <= 0 {
		initial = config.DefaultReconnectBackoff
	}
	maxDelay := b.MaxDelay
	if maxDelay <= 0 {
		maxDelay = config.DefaultMaxReconnectBackoff
	}
	multiplier := b.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	d := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if d > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}

// Do executes fn repeatedly until it succeeds, returns a permanent
// error, or the retry budget (attempts / context) is exhausted.
//
// The attempt parameter passed to fn is 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}

		if IsPermanent(err) {
			var pe *PermanentError
			if ncerr.As(err, &pe) {
				return pe.Err
			}
			return err
		}

		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		wait := b.Delay(attempt)
		if b.Jitter {
			wait = addJitter(wait)
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// addJitter adds ±25% randomisation to a duration.
func addJitter(d time.Duration) time.Duration {
	quarter := float64(d) * 0.25
	delta := (rand.Float64() * 2 * quarter) - quarter
	result := float64(d) + delta
	return time.Duration(math.Max(result, float64(time.Millisecond)))
}
