// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/engageline/series/pkg/readiness"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidSortField   = errors.New("invalid sort field")
	ErrInvalidSortOrder   = errors.New("invalid sort order")
	ErrInvalidStatus      = errors.New("invalid series status")
	ErrEmptyWorkspaceID   = errors.New("workspace ID cannot be empty")
	ErrSeriesNameRequired = errors.New("series name is required")
	ErrSeriesNil          = errors.New("series cannot be nil")

	// Graph validation errors.
	ErrInvalidBlockConfig     = errors.New("invalid block configuration")
	ErrInvalidConnectionData  = errors.New("invalid connection data")
	ErrBranchRequiresRule     = errors.New("yes/no conditions require a rule block source")
	ErrInvalidBranchCondition = errors.New("invalid branch condition")

	// Business Logic Conflicts (409 Conflict).
	ErrSeriesArchived               = errors.New("series is archived and cannot be modified")
	ErrSeriesNotDraftOrPaused       = errors.New("series must be draft or paused to activate")
	ErrSeriesNotActive              = errors.New("series is not active")
	ErrOrchestrationDisabledByGuard = errors.New("orchestration is disabled by guard")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// ReadinessBlockedError rejects activation of a series whose graph has
// blocking readiness issues. The report travels with the error so API
// responses can surface the individual blockers.
type ReadinessBlockedError struct {
	SeriesID string
	Report   *readiness.Report
}

func (e *ReadinessBlockedError) Error() string {
	return fmt.Sprintf("series %s is not ready: %d blocking issue(s)", e.SeriesID, len(e.Report.Blockers))
}

// IsReadinessBlocked reports whether err carries a readiness report, and
// returns it when so.
func IsReadinessBlocked(err error) (*ReadinessBlockedError, bool) {
	var blocked *ReadinessBlockedError
	if errors.As(err, &blocked) {
		return blocked, true
	}

	return nil, false
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrEmptyWorkspaceID) ||
		errors.Is(err, ErrSeriesNameRequired) ||
		errors.Is(err, ErrSeriesNil) ||
		errors.Is(err, ErrInvalidBlockConfig) ||
		errors.Is(err, ErrInvalidConnectionData) ||
		errors.Is(err, ErrBranchRequiresRule) ||
		errors.Is(err, ErrInvalidBranchCondition)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrSeriesArchived) ||
		errors.Is(err, ErrSeriesNotDraftOrPaused) ||
		errors.Is(err, ErrSeriesNotActive) ||
		errors.Is(err, ErrOrchestrationDisabledByGuard)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
