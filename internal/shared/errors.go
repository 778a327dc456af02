package shared

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable, client-facing identifier of a failure class.
type ErrorCode string

const (
	CodeValidation            ErrorCode = "VALIDATION_ERROR"
	CodeInvalidPrice          ErrorCode = "INVALID_PRICE"
	CodeOverlappingPriceRange ErrorCode = "OVERLAPPING_PRICE_RANGE"
	CodeNoPriceDefined        ErrorCode = "NO_PRICE_DEFINED"
	CodeDayFinalized          ErrorCode = "DAY_FINALIZED"
	CodeConcurrencyConflict   ErrorCode = "CONCURRENCY_CONFLICT"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeInternal              ErrorCode = "INTERNAL"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidPrice indicates a price that is zero or negative.
	ErrInvalidPrice = errors.New("price must be greater than zero")
	// ErrOverlappingPriceRange indicates a price interval would overlap recorded history.
	ErrOverlappingPriceRange = errors.New("price interval overlaps an existing range")
	// ErrNoPriceDefined indicates no price is effective for the requested instant.
	ErrNoPriceDefined = errors.New("no price defined for station, fuel type and time")
	// ErrDayFinalized indicates the station-day is closed to new writes.
	ErrDayFinalized = errors.New("station day already finalized")
	// ErrConcurrencyConflict indicates a lock timeout or serialization failure; safe to retry.
	ErrConcurrencyConflict = errors.New("concurrent update conflict, retry the request")
)

// ValidationError describes a rejected input field. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Unwrap exposes the ErrValidation sentinel.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// CodeOf classifies err into the closed error taxonomy.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPrice):
		return CodeInvalidPrice
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrOverlappingPriceRange):
		return CodeOverlappingPriceRange
	case errors.Is(err, ErrNoPriceDefined):
		return CodeNoPriceDefined
	case errors.Is(err, ErrDayFinalized):
		return CodeDayFinalized
	case errors.Is(err, ErrConcurrencyConflict):
		return CodeConcurrencyConflict
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}

// Retryable reports whether the caller may safely resubmit the same request.
func Retryable(err error) bool {
	return CodeOf(err) == CodeConcurrencyConflict
}
