package orchestrator

import (
	"time"

	"github.com/BaSui01/agentloop/agent/selection"
)

// Outcome is the result of one cycle.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// CycleTrace records one completed cycle. It is kept in memory and written
// to the state store.
type CycleTrace struct {
	RunID          string           `json:"run_id"`
	CycleNumber    int64            `json:"cycle_number"`
	Handler        string           `json:"handler,omitempty"`
	Reason         selection.Reason `json:"reason"`
	Outcome        Outcome          `json:"outcome"`
	Message        string           `json:"message,omitempty"`
	Goal           string           `json:"goal,omitempty"`
	GoalProgress   int              `json:"goal_progress,omitempty"`
	HandoffTarget  string           `json:"handoff_target,omitempty"`
	HandoffOutcome string           `json:"handoff_outcome,omitempty"`
	Recovery       bool             `json:"recovery"`
	Error          string           `json:"error,omitempty"`
	Duration       time.Duration    `json:"duration"`
	Timestamp      time.Time        `json:"timestamp"`
}

// LoopState is a snapshot of the scheduler. Only Running and
// CyclesCompleted are persisted.
type LoopState struct {
	Running         bool      `json:"running"`
	CyclesCompleted int64     `json:"cycles_completed"`
	LastHandoffAt   time.Time `json:"last_handoff_at"`
	RecoveryMode    bool      `json:"recovery_mode"`
	RecentFailures  int       `json:"recent_failures"`
	RunID           string    `json:"run_id,omitempty"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	Config          Config    `json:"config"`
}
