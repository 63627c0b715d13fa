// Package retry applies one configurable retry policy to backend calls
// instead of per call site attempt loops.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/fjod/go_cart/storefront/internal/apperr"
)

// Policy describes how a call is retried. Attempts are numbered from 1;
// Backoff receives the number of the attempt that just failed.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(error) bool
	OnRetry     func(attempt int, err error, wait time.Duration)
}

// None performs a single attempt.
var None = Policy{MaxAttempts: 1}

func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Exponential grows the delay by factor per attempt, capped at max.
func Exponential(initial, max time.Duration, factor float64) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}

// DefaultRetryable retries transport failures and server errors only.
func DefaultRetryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindNetworkError, apperr.KindServerError:
		return true
	default:
		return false
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff == nil {
		p.Backoff = Constant(0)
	}
	if p.Retryable == nil {
		p.Retryable = DefaultRetryable
	}
	return p
}

type attemptBackOff struct {
	fn      func(int) time.Duration
	attempt int
}

func (b *attemptBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.fn(b.attempt)
}

func (b *attemptBackOff) Reset() {
	b.attempt = 0
}

// Value runs fn until it succeeds, returns a non-retryable error, the
// attempts are used up or ctx ends. The last error is returned unchanged.
func Value[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	p = p.normalized()
	bo := &attemptBackOff{fn: p.Backoff}

	op := func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			p.OnRetry(bo.attempt, err, wait)
		}))
	}
	v, err := backoff.Retry(ctx, op, opts...)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return v, err
}

func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
