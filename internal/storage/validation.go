// Package storage provides the persistent match state store backed by SQLite.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

// Validation errors.
var (
	ErrNilContext    = errors.New("context cannot be nil")
	ErrEmptyString   = errors.New("string parameter cannot be empty")
	ErrNilParameter  = errors.New("parameter cannot be nil")
	ErrInvalidStatus = errors.New("invalid match status")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateMatchRecord validates a match record before persisting it.
func validateMatchRecord(record *model.MatchRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record", ErrNilParameter)
	}
	if err := validateString(record.WorldViewID, "worldViewID"); err != nil {
		return err
	}
	switch record.Status {
	case model.StatusUnmatched, model.StatusSuggested, model.StatusAutoMatched,
		model.StatusManualMatched, model.StatusRejected, model.StatusNoCandidates:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, record.Status)
	}
	if record.Status.Accepted() != (record.AcceptedDivisionID != nil) {
		return fmt.Errorf("%w: accepted division must be set exactly for accepted statuses", ErrInvalidStatus)
	}
	return nil
}
