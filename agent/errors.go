package agent

import "errors"

var (
	// ErrDuplicateHandler a handler with the same name is already registered
	ErrDuplicateHandler = errors.New("handler already registered")

	// ErrHandlerNotFound no handler registered under the name
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrInvalidWeight priority weight below 1
	ErrInvalidWeight = errors.New("priority weight must be >= 1")

	// ErrHandoffRejected target declined an incoming hand-off
	ErrHandoffRejected = errors.New("hand-off rejected")

	// ErrHandlerBusy a previous execution of the handler has not returned
	ErrHandlerBusy = errors.New("handler still running")

	// ErrHandlerTimeout the caller stopped waiting for the handler
	ErrHandlerTimeout = errors.New("handler timed out")
)
