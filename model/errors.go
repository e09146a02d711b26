package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest    = "BAD_REQUEST"
	ErrUnauthorized  = "UNAUTHORIZED"
	ErrNotFound      = "NOT_FOUND"
	ErrInternalError = "INTERNAL_ERROR"
)

// Engine error codes.
const (
	// ErrConfiguration marks a misconfigured workflow graph (missing inicio
	// or aprobacion step, unregistered entity binding). Fatal for the
	// operation, never retried automatically.
	ErrConfiguration = "CONFIGURATION_ERROR"

	// ErrPermissionDenied marks a caller that is not an authorized approver
	// for the instance's current step.
	ErrPermissionDenied = "PERMISSION_DENIED"

	// ErrStateConflict marks a decision against an instance that is already
	// terminal or was concurrently processed.
	ErrStateConflict = "STATE_CONFLICT"

	// ErrNotificationFailed marks a notification delivery failure. Always
	// caught at the call site and logged, never propagated.
	ErrNotificationFailed = "NOTIFICATION_FAILED"
)

// ErrorEnvelope is the typed error carried across the engine and mapped to
// HTTP status codes by the transport layer. It implements the error
// interface.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewConfigurationError returns a CONFIGURATION_ERROR.
func NewConfigurationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConfiguration, Message: msg}
}

// NewPermissionError returns a PERMISSION_DENIED error.
func NewPermissionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrPermissionDenied, Message: msg}
}

// NewStateConflictError returns a STATE_CONFLICT error.
func NewStateConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrStateConflict, Message: msg}
}

// NewNotificationError returns a NOTIFICATION_FAILED error wrapping the
// underlying delivery failure.
func NewNotificationError(err error) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotificationFailed, Message: err.Error()}
}

// IsCode reports whether err is an ErrorEnvelope carrying the given code.
func IsCode(err error, code string) bool {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}
