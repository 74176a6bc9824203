package orchestrator

import (
	"fmt"
	"time"

	"github.com/BaSui01/agentloop/agent/chat"
	"github.com/BaSui01/agentloop/agent/handoff"
	"github.com/BaSui01/agentloop/agent/selection"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultLoopDelay        = 2 * time.Second
	DefaultFailureWindow    = 10 * time.Minute
	DefaultFailureThreshold = 3
	DefaultStoreTimeout     = 5 * time.Second
	DefaultGoalProgressStep = 25
	DefaultTraceHistory     = 200
)

// Config controls one run of the loop.
type Config struct {
	// LoopDelay is the pause between two cycles. Required, must be > 0.
	LoopDelay time.Duration `json:"loop_delay"`
	// MaxCycles stops the loop once CyclesCompleted reaches it. 0 = unbounded.
	MaxCycles int64 `json:"max_cycles,omitempty"`
	// HandoffCooldown is the minimum spacing between hand-offs.
	HandoffCooldown time.Duration `json:"handoff_cooldown"`
	// RecoveryWeightThreshold is the minimum weight eligible in recovery mode.
	RecoveryWeightThreshold int `json:"recovery_weight_threshold"`
	// ChatHistoryCap bounds the chat bus history.
	ChatHistoryCap int `json:"chat_history_cap"`
	// FailureWindow and FailureThreshold decide when recovery mode engages.
	FailureWindow    time.Duration `json:"failure_window"`
	FailureThreshold int           `json:"failure_threshold"`
	// HandlerTimeout bounds one handler execution. 0 = none.
	HandlerTimeout time.Duration `json:"handler_timeout,omitempty"`
	// StoreTimeout bounds every state store call.
	StoreTimeout time.Duration `json:"store_timeout"`
	// GoalProgressStep is added to a goal after a successful goal-driven cycle.
	GoalProgressStep int `json:"goal_progress_step"`
	// Seed makes selection reproducible. 0 = random seed.
	Seed int64 `json:"seed,omitempty"`
	// TraceHistory bounds the in-memory trace ring.
	TraceHistory int `json:"trace_history"`
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		LoopDelay:               DefaultLoopDelay,
		HandoffCooldown:         handoff.DefaultCooldown,
		RecoveryWeightThreshold: selection.DefaultStableThreshold,
		ChatHistoryCap:          chat.DefaultCapacity,
		FailureWindow:           DefaultFailureWindow,
		FailureThreshold:        DefaultFailureThreshold,
		StoreTimeout:            DefaultStoreTimeout,
		GoalProgressStep:        DefaultGoalProgressStep,
		TraceHistory:            DefaultTraceHistory,
	}
}

// Validate rejects configurations the loop cannot run with.
func (c Config) Validate() error {
	switch {
	case c.LoopDelay <= 0:
		return invalidConfig(fmt.Sprintf("loop delay must be positive, got %s", c.LoopDelay))
	case c.MaxCycles < 0:
		return invalidConfig(fmt.Sprintf("max cycles must not be negative, got %d", c.MaxCycles))
	case c.HandoffCooldown < 0:
		return invalidConfig("hand-off cooldown must not be negative")
	case c.RecoveryWeightThreshold < 0:
		return invalidConfig("recovery weight threshold must not be negative")
	case c.ChatHistoryCap < 0:
		return invalidConfig("chat history cap must not be negative")
	case c.FailureWindow < 0, c.FailureThreshold < 0:
		return invalidConfig("failure window and threshold must not be negative")
	case c.HandlerTimeout < 0, c.StoreTimeout < 0:
		return invalidConfig("timeouts must not be negative")
	case c.GoalProgressStep < 0 || c.GoalProgressStep > 100:
		return invalidConfig(fmt.Sprintf("goal progress step %d outside [0, 100]", c.GoalProgressStep))
	}
	return nil
}

// withDefaults fills zero-valued optional fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HandoffCooldown == 0 {
		c.HandoffCooldown = d.HandoffCooldown
	}
	if c.RecoveryWeightThreshold == 0 {
		c.RecoveryWeightThreshold = d.RecoveryWeightThreshold
	}
	if c.ChatHistoryCap == 0 {
		c.ChatHistoryCap = d.ChatHistoryCap
	}
	if c.FailureWindow == 0 {
		c.FailureWindow = d.FailureWindow
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.StoreTimeout == 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.GoalProgressStep == 0 {
		c.GoalProgressStep = d.GoalProgressStep
	}
	if c.TraceHistory <= 0 {
		c.TraceHistory = d.TraceHistory
	}
	return c
}
