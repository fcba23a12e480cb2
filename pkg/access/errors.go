package access

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a tenant, template, assignment or session does
// not exist.
var ErrNotFound = errors.New("not found")

// ValidationError represents malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// Invalid builds a *ValidationError.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DeniedError is returned by commands that were refused by policy.
type DeniedError struct {
	Reason Reason
}

func (e *DeniedError) Error() string {
	return "denied: " + string(e.Reason)
}

// Denied builds a *DeniedError.
func Denied(reason Reason) error {
	return &DeniedError{Reason: reason}
}

// ConflictError represents a write that lost against a concurrent or
// incompatible change.
type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Message)
}

// Conflict builds a *ConflictError.
func Conflict(resource, format string, args ...interface{}) error {
	return &ConflictError{Resource: resource, Message: fmt.Sprintf(format, args...)}
}

// UnavailableError wraps a persistence failure.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err as an *UnavailableError unless it already carries a
// classified error, in which case it is returned untouched.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsValidation(err) || IsDenied(err) || IsConflict(err) || IsUnavailable(err) {
		return err
	}
	return &UnavailableError{Op: op, Err: err}
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsDenied reports whether err is or wraps a *DeniedError.
func IsDenied(err error) bool {
	var target *DeniedError
	return errors.As(err, &target)
}

// IsConflict reports whether err is or wraps a *ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsUnavailable reports whether err is or wraps an *UnavailableError.
func IsUnavailable(err error) bool {
	var target *UnavailableError
	return errors.As(err, &target)
}

// ReasonOf returns the denial reason carried by err, or ReasonNone.
func ReasonOf(err error) Reason {
	var target *DeniedError
	if errors.As(err, &target) {
		return target.Reason
	}
	return ReasonNone
}
