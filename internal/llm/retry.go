package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// RetryPolicy controls retry behavior for provider calls. The zero
// value performs no retries; use DefaultRetryPolicy for the standard
// transient-error handling.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseWait is the backoff base. Attempt n waits BaseWait * 2^n
	// before retrying.
	BaseWait time.Duration

	// Retryable decides whether an error is worth retrying. Errors it
	// rejects propagate immediately.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries rate limits and server errors with a
// one-second backoff base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseWait:    time.Second,
		Retryable:   IsTransient,
	}
}

// IsTransient reports whether err is a provider error worth retrying:
// HTTP 429 or any 5xx.
func IsTransient(err error) bool {
	var apiErr *APIError
	if !asAPIError(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
}

func asAPIError(err error, target **APIError) bool {
	return errors.As(err, target)
}

// WithRetry runs op under the given policy. Retryable failures back off
// exponentially (BaseWait * 2^attempt) until MaxAttempts is exhausted;
// the last error is returned. Non-retryable failures and context
// cancellation propagate immediately.
func WithRetry[T any](ctx context.Context, logger *slog.Logger, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := policy.BaseWait << (attempt - 1)
			if logger != nil {
				logger.Warn("retrying provider call",
					"attempt", attempt+1,
					"max_attempts", attempts,
					"wait", wait,
					"error", lastErr,
				)
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if policy.Retryable == nil || !policy.Retryable(err) {
			return zero, err
		}
	}

	return zero, lastErr
}
