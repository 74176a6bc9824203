package builtin

import (
	"context"
	"fmt"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/agent/persistence"
	"go.uber.org/zap"
)

// reviewedTrace is the subset of a persisted cycle trace the reviewer reads.
type reviewedTrace struct {
	CycleNumber int64  `json:"cycle_number"`
	Handler     string `json:"handler"`
	Outcome     string `json:"outcome"`
	Error       string `json:"error"`
}

// Reviewer checks the outcome of the last persisted cycle.
type Reviewer struct {
	store  persistence.StateStore
	logger *zap.Logger
}

// NewReviewer creates a reviewer reading traces from store.
func NewReviewer(store persistence.StateStore, logger *zap.Logger) *Reviewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviewer{
		store:  store,
		logger: logger.With(zap.String("component", "builtin_reviewer")),
	}
}

// Name implements agent.Handler.
func (r *Reviewer) Name() string { return NameReviewer }

// Execute implements agent.Handler.
func (r *Reviewer) Execute(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	if r.store == nil {
		return nil, fmt.Errorf("reviewer has no state store")
	}

	var last int64
	found, err := persistence.GetJSON(ctx, r.store, persistence.KeyCyclesCompleted, &last)
	if err != nil {
		return nil, fmt.Errorf("load cycle counter: %w", err)
	}
	if !found || last == 0 {
		return agent.Succeeded("no cycles to review"), nil
	}

	var trace reviewedTrace
	found, err = persistence.GetJSON(ctx, r.store, persistence.TraceKey(last), &trace)
	if err != nil {
		return nil, fmt.Errorf("load trace %d: %w", last, err)
	}
	if !found {
		return agent.Succeeded(fmt.Sprintf("trace of cycle %d is missing", last)), nil
	}

	res := agent.Succeeded("").
		WithData("reviewed_cycle", trace.CycleNumber).
		WithData("reviewed_outcome", trace.Outcome)
	switch trace.Outcome {
	case "failed":
		res.Message = fmt.Sprintf("cycle %d (%s) needs attention: %s", trace.CycleNumber, trace.Handler, trace.Error)
		r.logger.Info("review flagged failure",
			zap.Int64("cycle", trace.CycleNumber),
			zap.String("handler", trace.Handler),
		)
	case "skipped":
		res.Message = fmt.Sprintf("cycle %d was skipped", trace.CycleNumber)
	default:
		res.Message = fmt.Sprintf("cycle %d (%s) passed review", trace.CycleNumber, trace.Handler)
	}
	return res, nil
}
