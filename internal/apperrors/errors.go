// Package apperrors provides the coded error type shared by every layer.
// Handlers translate codes to HTTP statuses; the service and repository
// layers never inspect error strings.
package apperrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers.
type Code string

const (
	// ErrCodeInvalidInput is a validation failure, rejected before any store access.
	ErrCodeInvalidInput Code = "INVALID_INPUT"
	// ErrCodeNotFound means the referenced document or line does not exist.
	ErrCodeNotFound Code = "NOT_FOUND"
	// ErrCodeForbidden means the actor is not allowed to act on this line.
	ErrCodeForbidden Code = "FORBIDDEN"
	// ErrCodeNotCurrentLine means the targeted line is not the current actionable line.
	ErrCodeNotCurrentLine Code = "NOT_CURRENT_LINE"
	// ErrCodeAlreadyDecided means the document is already in a terminal status.
	ErrCodeAlreadyDecided Code = "ALREADY_DECIDED"
	// ErrCodeInvalidTransition means the requested action is not legal for the line's type or status.
	ErrCodeInvalidTransition Code = "INVALID_TRANSITION"
	// ErrCodeConflict is a generic state conflict (concurrent modification, etc.).
	ErrCodeConflict Code = "CONFLICT"
	// ErrCodeInternal is an infrastructure failure. Transitions are safe to retry.
	ErrCodeInternal Code = "INTERNAL"
)

// Error is the concrete coded error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports code equality so errors.Is works against sentinel coded errors.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an underlying error with a code and message.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound creates a NOT_FOUND error for a named resource.
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s not found: %s", resource, id)
}

// InvalidInput creates a validation error for a named field.
func InvalidInput(field, message string) *Error {
	return Newf(ErrCodeInvalidInput, "%s: %s", field, message)
}

// Forbidden creates a FORBIDDEN error.
func Forbidden(message string) *Error {
	return New(ErrCodeForbidden, message)
}

// CodeOf extracts the code from an error chain, defaulting to ErrCodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}
