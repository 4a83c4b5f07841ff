// Package retry runs an operation with bounded attempts and jittered
// exponential backoff. Order creation uses it to regenerate a payment
// reference after a uniqueness conflict; delivery uses it for transient
// channel failures.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Policy bounds a retry loop.
type Policy struct {
	Attempts  int           // total calls, values <= 0 mean 1
	BaseDelay time.Duration // first backoff; doubled after each failure
	MaxDelay  time.Duration // cap on a single backoff, 0 means uncapped
}

// OnRetry is called after a failed attempt that will be retried.
type OnRetry func(attempt int, err error)

// Do calls fn up to maxAttempts times. It stops on success, on a
// PermanentError (returning the wrapped error) or when ctx is done.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return Policy{Attempts: maxAttempts, BaseDelay: baseDelay}.Run(ctx, func(int) error { return fn() }, nil)
}

// Run executes fn under the policy. fn receives the 1-based attempt number.
func (p Policy) Run(ctx context.Context, fn func(attempt int) error, onRetry OnRetry) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	delay := p.BaseDelay
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == attempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(delay)):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}

// jitter spreads d by +-25%.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := int64(d / 4)
	return d - time.Duration(spread) + time.Duration(randInt63n(2*spread+1))
}

func randInt63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n)) //nolint:gosec // n > 0
}
