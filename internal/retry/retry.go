// Package retry runs calls against unreliable remote endpoints with a
// bounded number of attempts and a fixed pause between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default policy values used by the embedding provider.
const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 2 * time.Second
)

// SleepFunc pauses between attempts. It returns early with the context
// error when ctx is cancelled.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes how often and how patiently a call is retried.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int

	// Backoff is the constant pause between two consecutive attempts.
	Backoff time.Duration

	// Sleep replaces the real clock, mostly in tests.
	Sleep SleepFunc

	// OnRetry is invoked after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy returns 3 attempts with a 2 second constant backoff.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Backoff: DefaultBackoff}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as final: Do returns it immediately without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return true
	}
	var m *MalformedResponseError
	return errors.As(err, &m)
}

// Do calls action until it succeeds, returns a permanent error, or
// MaxAttempts calls have failed. The pause between attempts is constant.
func Do[T any](ctx context.Context, p Policy, action func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := action(ctx)
		if err == nil {
			return v, nil
		}
		if IsPermanent(err) {
			var perm *permanentError
			if errors.As(err, &perm) {
				return zero, perm.err
			}
			return zero, err
		}
		last = err
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if serr := sleep(ctx, p.Backoff); serr != nil {
			return zero, fmt.Errorf("retry interrupted after %d attempts: %w", attempt, serr)
		}
	}
	return zero, &ExhaustedError{Attempts: attempts, Last: last}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
