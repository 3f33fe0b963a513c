package invoke

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

// RetryPolicy bounds how a transient failure is retried.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxElapsed:      10 * time.Second,
	}
}

// IsTransient reports whether err is worth retrying: the endpoint was busy or
// timed out.
func IsTransient(err error) bool {
	switch core.CategoryOf(err) {
	case core.CategoryResourceBusy, core.CategoryOperationTimeout:
		return true
	}
	return false
}

// WithRetry retries transient invocation failures with exponential backoff.
// Any other error is returned after the first attempt. A policy without
// retries leaves the invoker unchanged.
func WithRetry[T any](policy RetryPolicy, logger core.Logger) Middleware[T] {
	if logger == nil {
		logger = core.Discard()
	}
	return func(next Invoker[T]) Invoker[T] {
		if policy.MaxRetries <= 0 {
			return next
		}
		return InvokerFunc[T](func(ctx context.Context, operand T, change Change) (Outcome, error) {
			var out Outcome
			operation := func() error {
				var err error
				out, err = next.Invoke(ctx, operand, change)
				if err != nil && !IsTransient(err) {
					return backoff.Permanent(err)
				}
				return err
			}

			expBackoff := backoff.NewExponentialBackOff()
			expBackoff.InitialInterval = policy.InitialInterval
			expBackoff.MaxElapsedTime = policy.MaxElapsed
			b := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(policy.MaxRetries)), ctx)

			notify := func(err error, wait time.Duration) {
				logger.Debug().
					Str("action", change.Action).
					Str("category", string(core.CategoryOf(err))).
					Dur("retry_in", wait).
					Err(err).
					Msg("transient invocation failure, will retry")
			}
			if err := backoff.RetryNotify(operation, b, notify); err != nil {
				return Outcome{}, err
			}
			return out, nil
		})
	}
}

// NewLimiter returns a token bucket allowing rps invocations per second. A
// non-positive rps means unlimited.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, max(burst, 1))
	}
	return rate.NewLimiter(rate.Limit(rps), max(burst, 1))
}

// WithRateLimit makes every invocation wait for a token from limiter.
func WithRateLimit[T any](limiter *rate.Limiter) Middleware[T] {
	return func(next Invoker[T]) Invoker[T] {
		if limiter == nil {
			return next
		}
		return InvokerFunc[T](func(ctx context.Context, operand T, change Change) (Outcome, error) {
			if err := limiter.Wait(ctx); err != nil {
				return Outcome{}, core.Wrap(err, core.CategoryOperationStopped, "rate limit wait interrupted")
			}
			return next.Invoke(ctx, operand, change)
		})
	}
}
