package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/agent/goals"
	"go.uber.org/zap"
)

// planPrefixes are stripped from a goal before it becomes the plan topic.
var planPrefixes = []string{"plan ", "break down ", "planning "}

// planSeparators split a compound goal into independent steps.
var planSeparators = []string{";", ",", " and then ", " then ", " and "}

// Planner breaks the active goal into sub-goals on the queue and reports
// the parent goal as done.
type Planner struct {
	goals  *goals.Queue
	logger *zap.Logger
}

// NewPlanner creates a planner that enqueues into q.
func NewPlanner(q *goals.Queue, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		goals:  q,
		logger: logger.With(zap.String("component", "builtin_planner")),
	}
}

// Name implements agent.Handler.
func (p *Planner) Name() string { return NamePlanner }

// Execute implements agent.Handler.
func (p *Planner) Execute(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	if p.goals == nil {
		return nil, fmt.Errorf("planner has no goal queue")
	}
	goal := strings.TrimSpace(in.String(agent.InputGoal))
	if goal == "" {
		return agent.Succeeded("no active goal to plan"), nil
	}

	priority := goals.MinPriority
	existing := make(map[string]bool)
	for _, g := range p.goals.List() {
		if g.Status != goals.StatusActive {
			continue
		}
		existing[strings.ToLower(g.Text)] = true
		if g.Text == goal {
			priority = g.Priority
		}
	}

	steps := Plan(goal)
	added := 0
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if existing[strings.ToLower(s)] {
			continue
		}
		if _, err := p.goals.Add(s, priority); err != nil {
			return nil, err
		}
		existing[strings.ToLower(s)] = true
		added++
	}

	p.logger.Info("goal planned",
		zap.String("goal", goal),
		zap.Int("steps", len(steps)),
		zap.Int("enqueued", added),
	)
	return agent.Succeeded(fmt.Sprintf("planned %q into %d steps: %s", goal, len(steps), strings.Join(steps, "; "))).
		WithData("steps", steps).
		WithData(agent.DataGoalProgress, 100), nil
}

// Plan splits goal into steps. A compound goal ("a, b and c") yields its
// parts; a single goal yields a research, summarize, review sequence on
// its topic.
func Plan(goal string) []string {
	topic := strings.TrimSpace(goal)
	lower := strings.ToLower(topic)
	for _, prefix := range planPrefixes {
		if strings.HasPrefix(lower, prefix) {
			topic = strings.TrimSpace(topic[len(prefix):])
			break
		}
	}
	if topic == "" {
		return nil
	}

	parts := []string{topic}
	for _, sep := range planSeparators {
		var next []string
		for _, part := range parts {
			for _, s := range splitFold(part, sep) {
				if s = strings.TrimSpace(s); s != "" {
					next = append(next, s)
				}
			}
		}
		parts = next
	}
	if len(parts) > 1 {
		return parts
	}

	return []string{
		"research " + topic,
		"summarize findings on " + topic,
		"review " + topic,
	}
}

// splitFold splits s around every case-insensitive occurrence of sep.
func splitFold(s, sep string) []string {
	lower := strings.ToLower(s)
	var out []string
	for {
		i := strings.Index(lower, sep)
		if i < 0 {
			return append(out, s)
		}
		out = append(out, s[:i])
		s = s[i+len(sep):]
		lower = lower[i+len(sep):]
	}
}
