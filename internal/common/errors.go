// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Store errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Resolver errors.
	ErrInvalidDivision   = errors.New("division is not a listed or verified candidate")
	ErrNothingToUndo     = errors.New("nothing to undo")
	ErrNotALeaf          = errors.New("node is not an effective leaf")
	ErrNotAGroup         = errors.New("node has no children to reinterpret")
	ErrGroupingConflict  = errors.New("grouping children already hold accepted matches")
	ErrNoGroupingContext = errors.New("no sibling match to infer the grouping division from")

	// Job errors.
	ErrAlreadyRunning = errors.New("another operation is already running")
	ErrNoSuchJob      = errors.New("no operation in flight")

	// Strategy errors.
	ErrStrategyUnavailable = errors.New("candidate strategy unavailable")

	// Rate limiting.
	ErrRateLimit  = errors.New("rate limit exceeded")
	ErrMaxRetries = errors.New("max retries exceeded")
)

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// UserError represents an error that should be shown to the curator.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
