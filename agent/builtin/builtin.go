package builtin

import (
	"fmt"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/agent/chat"
	"github.com/BaSui01/agentloop/agent/goals"
	"github.com/BaSui01/agentloop/agent/persistence"
	"go.uber.org/zap"
)

// Handler names.
const (
	NamePlanner    = "planner"
	NameResearcher = "researcher"
	NameSummarizer = "summarizer"
	NameReviewer   = "reviewer"
)

// DefaultWeights returns the registration weight of each built-in handler.
// The reviewer and planner sit at or above the default recovery threshold.
func DefaultWeights() map[string]int {
	return map[string]int{
		NamePlanner:    3,
		NameResearcher: 2,
		NameSummarizer: 2,
		NameReviewer:   4,
	}
}

// Deps carries the shared components the built-in handlers work on.
type Deps struct {
	Goals  *goals.Queue
	Bus    *chat.Bus
	Store  persistence.StateStore
	Logger *zap.Logger
}

// Handlers builds every built-in handler over deps, in registration order.
func Handlers(deps Deps) []agent.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return []agent.Handler{
		NewPlanner(deps.Goals, deps.Logger),
		NewResearcher(deps.Store, deps.Logger),
		NewSummarizer(deps.Bus, deps.Logger),
		NewReviewer(deps.Store, deps.Logger),
	}
}

// Register adds the built-in handlers to reg. weights overrides
// DefaultWeights per name; names missing from weights keep their default.
func Register(reg *agent.Registry, deps Deps, weights map[string]int) error {
	merged := DefaultWeights()
	for name, w := range weights {
		if _, ok := merged[name]; !ok {
			return fmt.Errorf("unknown built-in handler %q", name)
		}
		merged[name] = w
	}
	for _, h := range Handlers(deps) {
		if err := reg.Register(h, merged[h.Name()]); err != nil {
			return err
		}
	}
	return nil
}
