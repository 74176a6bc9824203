package orchestrator

import (
	"errors"
	"fmt"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/types"
)

// Sentinel errors, wrapped as the Cause of the returned *types.Error.
var (
	ErrAlreadyRunning = errors.New("loop already running")
	ErrNotRunning     = errors.New("loop not running")
	ErrInvalidConfig  = errors.New("invalid loop config")
	ErrHandoffFailed  = errors.New("hand-off target failed")
	ErrHandlerTimeout = agent.ErrHandlerTimeout
	ErrHandlerBusy    = agent.ErrHandlerBusy
)

func alreadyRunning(runID string) error {
	return types.NewError(types.ErrAlreadyRunning,
		fmt.Sprintf("run %s is active", runID)).WithCause(ErrAlreadyRunning)
}

func invalidConfig(msg string) error {
	return types.NewError(types.ErrInvalidConfig, msg).WithCause(ErrInvalidConfig)
}

func persistenceError(op string, err error) error {
	return types.NewError(types.ErrPersistence, op).WithCause(err)
}
