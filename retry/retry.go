/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package retry provides retrying of failed operations with configurable backoff strategies.
package retry

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

// IsRetryable defines a func that can tell if error is retryable as opposed to persistent.
type IsRetryable func(error) bool

// Notify is a function called on each retry attempt with the attempt's error
// and the delay before the next attempt.
type Notify = backoff.Notify

// RetryableFunc is function that does some work and can be potentially retried.
type RetryableFunc[V any] func(ctx context.Context) (V, error)

// OperationError wraps a single attempt's underlying failure that was classified
// as non-retryable and therefore propagated without further attempts.
type OperationError struct {
	Err error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	return fmt.Sprintf("operation failed: %v", e.Err)
}

// Unwrap returns the underlying failure.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// RetriesExhaustedError is returned when all retry attempts are used up.
// LastErr holds the error of the final attempt, Attempts - how many attempts were made.
type RetriesExhaustedError struct {
	LastErr  error
	Attempts int
}

// Error implements the error interface.
func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap returns the error of the final attempt.
func (e *RetriesExhaustedError) Unwrap() error {
	return e.LastErr
}

// DoWithRetry executes fn with retry according to policy p and with respect to context ctx.
// The function is attempted up to maxAttempts times in total (the first try included,
// values < 1 are treated as 1), attempts are strictly sequential.
// IsRetryable defines which errors lead to retry attempt (can be nil for any error).
// Non-retryable errors are returned immediately wrapped in *OperationError.
// When attempts are exhausted, *RetriesExhaustedError is returned.
// If ctx is canceled during an attempt or a backoff delay, the context's error
// is returned as is and no further attempts are made.
// Notify can be used to receive notification on every retry with error and backoff delay
// (can be nil if no notifications required).
func DoWithRetry[V any](
	ctx context.Context, p Policy, maxAttempts int, isRetryable IsRetryable, notify Notify, fn RetryableFunc[V],
) (V, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := p.NewBackOff()
	b.Reset()
	bctx := backoff.WithContext(b, ctx)

	attempts := 0
	op := func() (V, error) {
		attempts++
		v, err := fn(bctx.Context())
		if err == nil {
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Canceled execution is neither a success nor a classified failure.
			return v, backoff.Permanent(ctxErr)
		}
		if isRetryable != nil && !isRetryable(err) {
			return v, backoff.Permanent(&OperationError{Err: err})
		}
		if attempts >= maxAttempts {
			return v, backoff.Permanent(&RetriesExhaustedError{LastErr: err, Attempts: attempts})
		}
		return v, err
	}
	return backoff.RetryNotifyWithData(op, bctx, notify)
}
