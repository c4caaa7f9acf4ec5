package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when no authenticated actor is present.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the actor lacks rights over the target.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrUpstream wraps failures of the model or other external calls.
	ErrUpstream = errors.New("upstream failure")
)

// ValidationError reports a missing or malformed required field. It is
// returned before any state mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid is shorthand for constructing a *ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
