// Package retry runs operations with exponential backoff. Only errors marked
// with NewRetryableError are retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Policy defines how retries should be handled.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         bool
}

// DefaultPolicy suits short contention windows such as unique-index races.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     5,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// RetryableError wraps an error to indicate it should be retried.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if an error should trigger a retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// ErrExhausted is wrapped into the error returned once MaxRetries is reached.
var ErrExhausted = errors.New("max retries exceeded")

// Do executes fn with exponential backoff. The returned error unwraps to the
// last error from fn, with any RetryableError marker removed.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !IsRetryable(err) {
			return err
		}
		lastErr = unwrapRetryable(err)

		if attempt == policy.MaxRetries {
			break
		}

		timer := time.NewTimer(calculateBackoff(policy, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w (%d): %w", ErrExhausted, policy.MaxRetries, lastErr)
}

func unwrapRetryable(err error) error {
	var retryErr *RetryableError
	if errors.As(err, &retryErr) {
		return retryErr.Err
	}
	return err
}

// calculateBackoff computes the backoff duration for a given attempt.
func calculateBackoff(policy Policy, attempt int) time.Duration {
	backoff := float64(policy.InitialBackoff) * math.Pow(policy.BackoffFactor, float64(attempt))

	if backoff > float64(policy.MaxBackoff) {
		backoff = float64(policy.MaxBackoff)
	}

	duration := time.Duration(backoff)

	// +/-10% spread so concurrent writers do not retry in lockstep
	if policy.Jitter {
		jitter := time.Duration(float64(duration) * 0.1 * (2*rand.Float64() - 1))
		duration += jitter
	}

	return duration
}

// NewRetryableError creates a new retryable error.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
