// Package resilient wraps outbound model calls with a shared concurrency
// bound, per-attempt timeouts and exponential-backoff retries.
package resilient

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"paperqa/internal/apperr"
)

type Limiter struct {
	sem             *semaphore.Weighted
	timeout         time.Duration
	maxRetries      int
	initialInterval time.Duration
	permanent       []error
}

type Option func(*Limiter)

// WithPermanent marks errors that must not be retried.
func WithPermanent(errs ...error) Option {
	return func(l *Limiter) { l.permanent = append(l.permanent, errs...) }
}

func WithInitialInterval(d time.Duration) Option {
	return func(l *Limiter) { l.initialInterval = d }
}

// NewLimiter allows at most concurrency calls in flight across every
// decorator sharing it. A timeout of zero disables the per-attempt deadline.
func NewLimiter(concurrency int, timeout time.Duration, maxRetries int, opts ...Option) *Limiter {
	if concurrency <= 0 {
		concurrency = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	l := &Limiter{
		sem:             semaphore.NewWeighted(int64(concurrency)),
		timeout:         timeout,
		maxRetries:      maxRetries,
		initialInterval: 500 * time.Millisecond,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Do runs fn until it succeeds, fails permanently or retries run out. The
// final failure is reported as an external service error for op; context
// cancellation of ctx is returned unchanged.
func (l *Limiter) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.initialInterval
	b.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := l.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || l.isPermanent(err) {
			return backoff.Permanent(err)
		}
		slog.WarnContext(ctx, "external call failed", "op", op, "attempt", attempt, "error", err)
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(l.maxRetries)), ctx))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return apperr.External(op, err)
}

func (l *Limiter) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)

	callCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	return fn(callCtx)
}

func (l *Limiter) isPermanent(err error) bool {
	if errors.Is(err, apperr.ErrValidation) {
		return true
	}
	for _, p := range l.permanent {
		if errors.Is(err, p) {
			return true
		}
	}
	return false
}
