package docstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls how failed database operations are retried.
//
// The n-th retry waits BaseDelay * 2^n, scaled by a random factor in
// [1-Jitter, 1+Jitter] and capped at MaxDelay when MaxDelay is positive.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64

	// Retryable classifies errors. Nil means IsRetryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns 3 retries starting at 100ms with 10% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Jitter:     DefaultJitter,
	}
}

// NoRetry runs an operation exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// Validate checks if the RetryPolicy is valid
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MaxRetries",
			"value":  p.MaxRetries,
			"reason": "must be non-negative",
		})
	}
	if p.BaseDelay < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "BaseDelay",
			"value":  p.BaseDelay,
			"reason": "must be non-negative",
		})
	}
	if p.MaxDelay < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MaxDelay",
			"value":  p.MaxDelay,
			"reason": "must be non-negative",
		})
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Jitter",
			"value":  p.Jitter,
			"reason": "must be in [0, 1)",
		})
	}
	return nil
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

// backOff builds the delay sequence for one retry loop.
func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.Reset()
	return b
}

// RetryOn returns a classifier that retries only errors matching one of errs.
//
//	policy.Retryable = RetryOn(ErrBackendUnavailable, ErrTimeout)
func RetryOn(errs ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range errs {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// Retry runs fn until it succeeds, fails with a non-retryable error, or
// policy.MaxRetries retries are used up. Between attempts it sleeps with
// backoff and, when m is not nil, pings the database and reconnects if the
// ping fails. The last error is returned unchanged on exhaustion.
//
// Example:
//
//	count, err := Retry(ctx, manager, DefaultRetryPolicy(), "count_tasks",
//	    func(ctx context.Context) (int64, error) {
//	        coll, err := manager.Collection(ctx, "tasks")
//	        if err != nil {
//	            return 0, err
//	        }
//	        return coll.CountDocuments(ctx, bson.M{})
//	    })
func Retry[T any](ctx context.Context, m *Manager, policy RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	logger, metrics := m.observability()
	delays := policy.backOff()

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !policy.retryable(err) {
			return zero, err
		}
		if attempt >= policy.MaxRetries {
			if policy.MaxRetries > 0 {
				metrics.Increment(MetricRetryExhausted, "operation", op)
				logger.Error("database operation failed after retries",
					"operation", op,
					"attempts", attempt+1,
					"error", err)
			}
			return zero, err
		}

		delay := delays.NextBackOff()
		metrics.Increment(MetricRetryAttempts, "operation", op)
		logger.Warn("retrying database operation",
			"operation", op,
			"attempt", attempt+1,
			"max_retries", policy.MaxRetries,
			"delay", delay,
			"error", err)

		if cerr := sleepContext(ctx, delay); cerr != nil {
			return zero, fmt.Errorf("retry aborted: %w: %w", cerr, err)
		}

		if m != nil && !m.Ping(ctx) {
			m.Reconnect(ctx)
		}
	}
}

// WithRetry wraps fn so every call is retried under policy.
func (m *Manager) WithRetry(policy RetryPolicy, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := Retry(ctx, m, policy, "call", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx)
		})
		return err
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
