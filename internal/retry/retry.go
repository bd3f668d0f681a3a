// Package retry runs an operation up to a bounded number of times with an
// optional exponential wait between attempts.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

// Policy bounds a retried operation. MaxRetries counts attempts after the
// first, so a policy with MaxRetries 2 runs at most three times.
type Policy struct {
	MaxRetries int
	Backoff    time.Duration
	Multiplier float64
}

// Attempts is the maximum number of times the operation runs.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Delay returns the wait before retry n, counting from 1. A zero Backoff
// means retries follow each other immediately.
func (p Policy) Delay(n int) time.Duration {
	if p.Backoff <= 0 || n < 1 {
		return 0
	}
	m := p.Multiplier
	if m <= 0 {
		m = 2
	}
	return time.Duration(float64(p.Backoff) * math.Pow(m, float64(n-1)))
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a permanent error, or the policy is
// exhausted. onErr, when set, sees every failed attempt. The returned count
// is the number of attempts made; the error is the last one observed.
func Do(ctx context.Context, clock clockwork.Clock, p Policy,
	fn func(ctx context.Context, attempt int) error,
	onErr func(attempt int, err error),
) (int, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var last error
	total := p.Attempts()
	for attempt := 1; attempt <= total; attempt++ {
		if attempt > 1 {
			if d := p.Delay(attempt - 1); d > 0 {
				select {
				case <-ctx.Done():
					return attempt - 1, ctx.Err()
				case <-clock.After(d):
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			if onErr != nil {
				onErr(attempt, perm.err)
			}
			return attempt, perm.err
		}

		last = err
		if onErr != nil {
			onErr(attempt, err)
		}
	}
	return total, last
}
