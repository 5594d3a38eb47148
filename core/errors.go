package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is().
// These are generic errors that can be wrapped with additional context.
var (
	// Validation and lookup errors
	ErrInvalidTask   = errors.New("invalid task")
	ErrInvalidPlan   = errors.New("invalid plan")
	ErrToolNotFound  = errors.New("tool not found")
	ErrSkillNotFound = errors.New("skill not found")

	// Transient execution errors
	ErrTimeout          = errors.New("operation timeout")
	ErrRateLimited      = errors.New("rate limited")
	ErrConnectionFailed = errors.New("connection failed")

	// Non-retryable execution errors
	ErrAuthFailed         = errors.New("authentication failed")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Planning errors
	ErrPlanningFailed = errors.New("planning failed")

	// Store errors
	ErrStoreFull  = errors.New("store capacity exhausted")
	ErrIntegrity  = errors.New("integrity check failed")
	ErrStoreWrite = errors.New("store write refused")

	// Admission and lifecycle errors
	ErrCapacity        = errors.New("capacity exceeded")
	ErrSessionCanceled = errors.New("session canceled")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")
)

// FrameworkError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type FrameworkError struct {
	Op            string // Operation that failed (e.g., "episodic.Append")
	Kind          string // Error kind (e.g., "planning", "store", "execution")
	ID            string // Optional ID of the entity involved
	CorrelationID string // Session correlation ID, when known
	Message       string // Human-readable message
	Err           error  // Underlying error for wrapping
}

// Error returns the string representation of the error.
func (e *FrameworkError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil && e.ID != "":
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s error", e.Kind)
	}
}

// Unwrap returns the underlying error for use with errors.Is/As.
func (e *FrameworkError) Unwrap() error {
	return e.Err
}

// NewFrameworkError creates a new FrameworkError.
func NewFrameworkError(op, kind string, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, Err: err}
}

// IsRetryable reports whether an error is a transient condition worth
// retrying under backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrConnectionFailed)
}

// IsNotFound reports whether an error represents a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrToolNotFound) ||
		errors.Is(err, ErrSkillNotFound)
}

// IsStoreError reports whether an error originated in the memory substrate.
func IsStoreError(err error) bool {
	return errors.Is(err, ErrStoreFull) ||
		errors.Is(err, ErrIntegrity) ||
		errors.Is(err, ErrStoreWrite)
}

// IsConfigurationError reports whether an error is configuration-related.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}
