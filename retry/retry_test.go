/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

func newFastPolicy() Policy {
	return PolicyFunc(func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Millisecond)
	})
}

func TestDoWithRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	v, err := DoWithRetry(context.Background(), newFastPolicy(), 3, nil, nil,
		func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		})
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, 1, calls)
}

func TestDoWithRetrySucceedsAfterRetries(t *testing.T) {
	errTransient := errors.New("transient error")
	calls := 0
	v, err := DoWithRetry(context.Background(), newFastPolicy(), 3, nil, nil,
		func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errTransient
			}
			return 42, nil
		})
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 3, calls)
}

func TestDoWithRetryExhaustsAttempts(t *testing.T) {
	errTransient := errors.New("transient error")
	calls := 0
	_, err := DoWithRetry(context.Background(), newFastPolicy(), 3,
		func(err error) bool { return true }, nil,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errTransient
		})
	require.Equal(t, 3, calls)

	var exhaustedErr *RetriesExhaustedError
	require.ErrorAs(t, err, &exhaustedErr)
	require.Equal(t, 3, exhaustedErr.Attempts)
	require.ErrorIs(t, err, errTransient)
}

func TestDoWithRetryNonRetryableError(t *testing.T) {
	errPermanent := errors.New("validation error")
	calls := 0
	_, err := DoWithRetry(context.Background(), newFastPolicy(), 5,
		func(err error) bool { return false }, nil,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errPermanent
		})
	require.Equal(t, 1, calls, "non-retryable error must not be retried")

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	require.ErrorIs(t, err, errPermanent)
}

func TestDoWithRetryCancellation(t *testing.T) {
	t.Run("canceled during attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := DoWithRetry(ctx, newFastPolicy(), 5, nil, nil,
			func(ctx context.Context) (int, error) {
				calls++
				cancel()
				return 0, errors.New("some error")
			})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 1, calls, "canceled execution must not be retried")
	})

	t.Run("canceled during backoff delay", func(t *testing.T) {
		slowPolicy := PolicyFunc(func() backoff.BackOff {
			return backoff.NewConstantBackOff(time.Minute)
		})
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()
		start := time.Now()
		_, err := DoWithRetry(ctx, slowPolicy, 5, nil, nil,
			func(ctx context.Context) (int, error) {
				calls++
				return 0, errors.New("some error")
			})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 1, calls)
		require.Less(t, time.Since(start), time.Minute, "cancellation must interrupt the delay")
	})
}

func TestDoWithRetryNotify(t *testing.T) {
	errTransient := errors.New("transient error")
	var notifiedErrs []error
	calls := 0
	_, err := DoWithRetry(context.Background(), newFastPolicy(), 3, nil,
		func(err error, delay time.Duration) {
			notifiedErrs = append(notifiedErrs, err)
		},
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errTransient
		})
	require.Error(t, err)
	require.Equal(t, 3, calls)
	// notify is called before each of the 2 retries
	require.Len(t, notifiedErrs, 2)
	require.ErrorIs(t, notifiedErrs[0], errTransient)
}

func TestDoWithRetryMaxAttemptsBelowOne(t *testing.T) {
	calls := 0
	_, err := DoWithRetry(context.Background(), newFastPolicy(), 0, nil, nil,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("some error")
		})
	require.Equal(t, 1, calls)

	var exhaustedErr *RetriesExhaustedError
	require.ErrorAs(t, err, &exhaustedErr)
	require.Equal(t, 1, exhaustedErr.Attempts)
}
