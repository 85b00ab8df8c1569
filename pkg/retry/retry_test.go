package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "conduit/pkg/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	var retried []int
	err := RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		calls++
		return errors.New("still broken")
	}, func(attempt int, err error, nextDelay time.Duration) {
		retried = append(retried, attempt)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetry_PermanentErrorsStopImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "fatal wrapper", err: NewFatalError(errors.New("bad"))},
		{name: "saga not found", err: pkgerrors.ErrSagaNotFound.WithDetail("message", "missing")},
		{name: "validation", err: pkgerrors.ErrValidation},
		{name: "explicitly fatal", err: pkgerrors.ErrInternal.AsFatal()},
		{name: "canceled", err: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), fastPolicy(5), func() error {
				calls++
				return tt.err
			})
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestRetry_RetryableCodedErrorsAreRetried(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		return pkgerrors.ErrConcurrency.WithDetail("message", "changed")
	})

	assert.ErrorIs(t, err, pkgerrors.ErrConcurrency)
	assert.Equal(t, 3, calls)
}

func TestRetryAttempts_PassesAttemptNumber(t *testing.T) {
	var seen []int
	err := RetryAttempts(context.Background(), fastPolicy(3), func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 2 {
			return errors.New("once")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestIsPermanent(t *testing.T) {
	assert.False(t, IsPermanent(errors.New("plain")))
	assert.False(t, IsPermanent(pkgerrors.ErrTimeout))
	assert.True(t, IsPermanent(pkgerrors.ErrResolution))
	assert.False(t, IsPermanent(NewRetryableError(errors.New("x"))))
}

func TestCalculateBackoffDuration(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, CalculateBackoffDuration(1, 100*time.Millisecond, 2, time.Second))
	assert.Equal(t, time.Second, CalculateBackoffDuration(10, 100*time.Millisecond, 2, time.Second))
}
