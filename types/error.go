package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the module.
type ErrorCode string

// Registration error codes
const (
	ErrDuplicateHandler ErrorCode = "DUPLICATE_HANDLER"
	ErrHandlerNotFound  ErrorCode = "HANDLER_NOT_FOUND"
	ErrInvalidWeight    ErrorCode = "INVALID_WEIGHT"
)

// Loop error codes
const (
	ErrHandlerExecution ErrorCode = "HANDLER_EXECUTION"
	ErrPersistence      ErrorCode = "PERSISTENCE"
	ErrAlreadyRunning   ErrorCode = "ALREADY_RUNNING"
	ErrNotRunning       ErrorCode = "NOT_RUNNING"
	ErrInvalidConfig    ErrorCode = "INVALID_CONFIG"
)

// Goal error codes
const (
	ErrInvalidGoal  ErrorCode = "INVALID_GOAL"
	ErrGoalNotFound ErrorCode = "GOAL_NOT_FOUND"
)

// Generic error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// AsError extracts a *Error from anywhere in the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// StatusFor maps an error to an HTTP status. An explicit HTTPStatus wins.
func StatusFor(err error) int {
	e, ok := AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	switch e.Code {
	case ErrDuplicateHandler, ErrAlreadyRunning, ErrNotRunning:
		return http.StatusConflict
	case ErrHandlerNotFound, ErrGoalNotFound:
		return http.StatusNotFound
	case ErrInvalidWeight, ErrInvalidConfig, ErrInvalidGoal, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
