package common

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uncovering-world/track-your-regions-sub005/internal/service"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrRateLimit))
	assert.True(t, IsRetryable(fmt.Errorf("adapter: %w", ErrRateLimit)))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(&RetryableError{Err: errors.New("flaky"), Retryable: true}))
	assert.False(t, IsRetryable(&RetryableError{Err: errors.New("bad request"), Retryable: false}))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return &RetryableError{Err: errors.New("bad request"), Retryable: false}
	}, service.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "a non-retryable error returns immediately")
}

func TestWithRetryExhaustsRateLimitedAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return ErrRateLimit
	}, service.RetryOptions{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	})

	require.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 2, calls)
}

func TestUserError(t *testing.T) {
	cause := errors.New("open tree.json: no such file")
	err := NewUserError("could not read the tree file", cause)

	assert.Equal(t, "could not read the tree file: open tree.json: no such file", err.Error())
	assert.ErrorIs(t, err, cause)

	var userErr *UserError
	require.True(t, errors.As(err, &userErr))
	assert.Equal(t, "could not read the tree file", userErr.UserMessage)

	assert.Equal(t, "tree root has no name", NewUserError("tree root has no name", nil).Error())
}
