package domain

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes service errors for transport mapping.
type ErrorCode string

const (
	// ErrCodeValidation covers malformed metadata, oversized batches
	// and non-increasing seq values. Nothing was mutated.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeConflict covers duplicate event ids and illegal status
	// transitions such as a second finalize. Nothing was mutated.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeNotFound covers unknown traces and blobs.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInfrastructure covers storage and sandbox failures that
	// abort the current operation.
	ErrCodeInfrastructure ErrorCode = "INFRASTRUCTURE"
)

// Error is a structured service error carrying a category code.
// SeqHigh is set on event-append rejections so the caller can resubmit
// from the correct sequence value.
type Error struct {
	Code    ErrorCode
	Message string
	Field   string
	SeqHigh int64
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError creates a VALIDATION error for the given field.
func NewValidationError(field, message string) *Error {
	return &Error{Code: ErrCodeValidation, Message: message, Field: field}
}

// NewConflictError creates a CONFLICT error.
func NewConflictError(message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// NewNotFoundError creates a NOT_FOUND error.
func NewNotFoundError(message string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: message}
}

// NewInfraError creates an INFRASTRUCTURE error wrapping the cause text.
func NewInfraError(message string) *Error {
	return &Error{Code: ErrCodeInfrastructure, Message: message}
}

func codeIs(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsValidation reports whether err is a VALIDATION error.
func IsValidation(err error) bool { return codeIs(err, ErrCodeValidation) }

// IsConflict reports whether err is a CONFLICT error.
func IsConflict(err error) bool { return codeIs(err, ErrCodeConflict) }

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return codeIs(err, ErrCodeNotFound) }

// IsInfrastructure reports whether err is an INFRASTRUCTURE error.
func IsInfrastructure(err error) bool { return codeIs(err, ErrCodeInfrastructure) }
