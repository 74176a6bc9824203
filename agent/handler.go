package agent

import (
	"context"
	"time"
)

// Status is the execution status of a registered handler.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusError   Status = "error"
)

// Input keys set on derived hand-off contexts.
const (
	InputPreviousOutput = "previous_output"
	InputSourceHandler  = "source_handler"
	InputGoal           = "goal"
	InputCycle          = "cycle"
)

// DataGoalProgress lets a handler report absolute goal progress (0-100) in
// ExecutionResult.Data instead of the loop's fixed step.
const DataGoalProgress = "goal_progress"

// Handler is a named unit of work invoked by the loop.
type Handler interface {
	Name() string
	Execute(ctx context.Context, in *ExecutionContext) (*ExecutionResult, error)
}

// Acceptor is implemented by handlers that vet incoming hand-offs.
// Returning an error declines the hand-off.
type Acceptor interface {
	AcceptHandoff(ctx context.Context, req *HandoffRequest) error
}

// HandoffRequest describes a hand-off offered to a target handler.
type HandoffRequest struct {
	From   string
	To     string
	Result *ExecutionResult
}

// ExecutionContext is created fresh for every invocation.
type ExecutionContext struct {
	Input     map[string]any `json:"input,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
}

// NewExecutionContext returns a context with an initialised input map.
func NewExecutionContext(sessionID string) *ExecutionContext {
	return &ExecutionContext{Input: make(map[string]any), SessionID: sessionID}
}

// String returns a string input value, or "" when absent.
func (c *ExecutionContext) String(key string) string {
	if c == nil || c.Input == nil {
		return ""
	}
	s, _ := c.Input[key].(string)
	return s
}

// ExecutionResult is produced by a handler.
type ExecutionResult struct {
	Success         bool           `json:"success"`
	Message         string         `json:"message"`
	Data            map[string]any `json:"data,omitempty"`
	NextHandlerHint string         `json:"next_handler_hint,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Succeeded builds a successful result stamped with the current time.
func Succeeded(message string) *ExecutionResult {
	return &ExecutionResult{Success: true, Message: message, Timestamp: time.Now()}
}

// Failed builds a failed result stamped with the current time.
func Failed(message string) *ExecutionResult {
	return &ExecutionResult{Success: false, Message: message, Timestamp: time.Now()}
}

// WithHint sets the next handler hint.
func (r *ExecutionResult) WithHint(name string) *ExecutionResult {
	r.NextHandlerHint = name
	return r
}

// WithData sets a data value.
func (r *ExecutionResult) WithData(key string, value any) *ExecutionResult {
	if r.Data == nil {
		r.Data = make(map[string]any)
	}
	r.Data[key] = value
	return r
}

var timeNow = time.Now

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, in *ExecutionContext) (*ExecutionResult, error)

type funcHandler struct {
	name string
	fn   HandlerFunc
}

func (h *funcHandler) Name() string { return h.name }

func (h *funcHandler) Execute(ctx context.Context, in *ExecutionContext) (*ExecutionResult, error) {
	return h.fn(ctx, in)
}

// NewHandler wraps fn as a Handler named name.
func NewHandler(name string, fn HandlerFunc) Handler {
	return &funcHandler{name: name, fn: fn}
}
