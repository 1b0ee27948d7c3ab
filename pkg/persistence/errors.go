// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrSeriesNotFound indicates a series was not found by the given identifier.
	ErrSeriesNotFound = errors.New("series not found")

	// ErrBlockNotFound indicates a block was not found by the given identifier.
	ErrBlockNotFound = errors.New("block not found")

	// ErrConnectionNotFound indicates a connection was not found by the given identifier.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrProgressNotFound indicates a progress row was not found.
	ErrProgressNotFound = errors.New("progress not found")

	// ErrVisitorNotFound indicates a visitor record was not found.
	ErrVisitorNotFound = errors.New("visitor not found")
)

// SeriesError wraps series-related errors with operation context.
type SeriesError struct {
	Op       string // Operation being performed (e.g. "GetByID", "Save", "Delete")
	SeriesID string
	Err      error
}

func (e *SeriesError) Error() string {
	return fmt.Sprintf("%s operation failed for series %s: %v", e.Op, e.SeriesID, e.Err)
}

func (e *SeriesError) Unwrap() error {
	return e.Err
}

func (e *SeriesError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewSeriesError creates a new series error with context.
func NewSeriesError(op, seriesID string, err error) *SeriesError {
	return &SeriesError{Op: op, SeriesID: seriesID, Err: err}
}

// ProgressError wraps progress-related errors with operation context.
type ProgressError struct {
	Op         string
	ProgressID string
	Err        error
}

func (e *ProgressError) Error() string {
	return fmt.Sprintf("%s operation failed for progress %s: %v", e.Op, e.ProgressID, e.Err)
}

func (e *ProgressError) Unwrap() error {
	return e.Err
}

func (e *ProgressError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewProgressError creates a new progress error with context.
func NewProgressError(op, progressID string, err error) *ProgressError {
	return &ProgressError{Op: op, ProgressID: progressID, Err: err}
}

// IsSeriesNotFound checks if an error indicates a series was not found.
func IsSeriesNotFound(err error) bool {
	return errors.Is(err, ErrSeriesNotFound)
}

// IsBlockNotFound checks if an error indicates a block was not found.
func IsBlockNotFound(err error) bool {
	return errors.Is(err, ErrBlockNotFound)
}

// IsConnectionNotFound checks if an error indicates a connection was not found.
func IsConnectionNotFound(err error) bool {
	return errors.Is(err, ErrConnectionNotFound)
}

// IsProgressNotFound checks if an error indicates a progress row was not found.
func IsProgressNotFound(err error) bool {
	return errors.Is(err, ErrProgressNotFound)
}

// IsVisitorNotFound checks if an error indicates a visitor was not found.
func IsVisitorNotFound(err error) bool {
	return errors.Is(err, ErrVisitorNotFound)
}
