package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error code constants for classification and matching
const (
	// ErrorCodeNotFound indicates an execution, step, template, or work item
	// is absent.
	ErrorCodeNotFound = "not_found"

	// ErrorCodeInvalidState indicates the operation is not valid for the
	// current state of the record, e.g. starting an execution for a work item
	// that has no linked template.
	ErrorCodeInvalidState = "invalid_state"

	// ErrorCodeInvalidArgument indicates a malformed request, e.g. an
	// out-of-bounds chunk index.
	ErrorCodeInvalidArgument = "invalid_argument"

	// ErrorCodePayloadTooLarge indicates an upload chunk exceeded the
	// configured size ceiling.
	ErrorCodePayloadTooLarge = "payload_too_large"

	// ErrorCodeExternalFailure indicates a collaborator call (webhook,
	// ticket system, database updater, photo analyzer) failed. The approach
	// we're taking is that external failures never abort the state transition
	// that triggered them; they are logged and isolated per callback.
	ErrorCodeExternalFailure = "external_failure"
)

// Error represents a structured engine error with classification.
// It supports Go's error wrapping patterns with Unwrap() method.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Wrapped error  `json:"-"` // Original error being wrapped
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the error unwrapping interface for Go's errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// NewError creates a new Error with the specified code and message.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError creates a not_found error.
func NewNotFoundError(format string, args ...any) *Error {
	return NewError(ErrorCodeNotFound, format, args...)
}

// NewInvalidStateError creates an invalid_state error.
func NewInvalidStateError(format string, args ...any) *Error {
	return NewError(ErrorCodeInvalidState, format, args...)
}

// NewInvalidArgumentError creates an invalid_argument error.
func NewInvalidArgumentError(format string, args ...any) *Error {
	return NewError(ErrorCodeInvalidArgument, format, args...)
}

// NewPayloadTooLargeError creates a payload_too_large error.
func NewPayloadTooLargeError(format string, args ...any) *Error {
	return NewError(ErrorCodePayloadTooLarge, format, args...)
}

// NewExternalFailure wraps a collaborator error as an external_failure.
func NewExternalFailure(cause error, format string, args ...any) *Error {
	return &Error{
		Code:    ErrorCodeExternalFailure,
		Message: fmt.Sprintf(format, args...),
		Wrapped: cause,
	}
}

// ErrorCode extracts the classification code from an error. Unknown errors
// are classified as external failures when they look like timeouts or
// cancellations, since those only arise from collaborator calls; everything
// else is reported with an empty code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return ErrorCodeExternalFailure
	}
	return ""
}

// IsNotFound reports whether err is classified as not_found.
func IsNotFound(err error) bool {
	return ErrorCode(err) == ErrorCodeNotFound
}

// IsInvalidState reports whether err is classified as invalid_state.
func IsInvalidState(err error) bool {
	return ErrorCode(err) == ErrorCodeInvalidState
}

// IsInvalidArgument reports whether err is classified as invalid_argument.
func IsInvalidArgument(err error) bool {
	return ErrorCode(err) == ErrorCodeInvalidArgument
}

// IsPayloadTooLarge reports whether err is classified as payload_too_large.
func IsPayloadTooLarge(err error) bool {
	return ErrorCode(err) == ErrorCodePayloadTooLarge
}
