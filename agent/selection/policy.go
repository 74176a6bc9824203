// Package selection picks the handler the loop runs next.
//
// The policy is deliberately transparent: in recovery mode it restricts the
// draw to stable (high weight) handlers, a pending goal routes by keyword,
// and otherwise it draws uniformly from a virtual pool in which every
// handler name appears weight times. The random source is injected so that
// tests can seed or script it.
package selection

import (
	"math/rand"
	"strings"
	"sync"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/agent/goals"
	"go.uber.org/zap"
)

// DefaultStableThreshold is the minimum weight a handler needs to be a
// candidate while the loop is in recovery mode.
const DefaultStableThreshold = 3

// Reason explains how a selection was made.
type Reason string

const (
	ReasonWeighted         Reason = "weighted_random"
	ReasonGoal             Reason = "goal_keyword"
	ReasonRecovery         Reason = "recovery_stable"
	ReasonRecoveryFallback Reason = "recovery_fallback"
	ReasonEmptyRegistry    Reason = "empty_registry"
	ReasonAllBusy          Reason = "all_busy"
)

// Selection is the outcome of SelectNext. NoOp selections carry no handler
// and must be treated as a skipped cycle.
type Selection struct {
	Handler string      `json:"handler,omitempty"`
	Goal    *goals.Goal `json:"goal,omitempty"`
	Reason  Reason      `json:"reason"`
	NoOp    bool        `json:"no_op"`
}

// Source draws an index in [0, n). *rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
}

// Route associates a goal keyword with a handler name.
type Route struct {
	Keyword string `json:"keyword" yaml:"keyword"`
	Handler string `json:"handler" yaml:"handler"`
}

// DefaultRoutes is the fixed keyword table used for goal-driven selection.
// Earlier routes win.
func DefaultRoutes() []Route {
	return []Route{
		{Keyword: "research", Handler: "researcher"},
		{Keyword: "investigat", Handler: "researcher"},
		{Keyword: "plan", Handler: "planner"},
		{Keyword: "break down", Handler: "planner"},
		{Keyword: "summar", Handler: "summarizer"},
		{Keyword: "review", Handler: "reviewer"},
		{Keyword: "code", Handler: "coder"},
		{Keyword: "implement", Handler: "coder"},
		{Keyword: "test", Handler: "tester"},
		{Keyword: "document", Handler: "writer"},
		{Keyword: "write", Handler: "writer"},
	}
}

// Config configures a Policy.
type Config struct {
	StableThreshold int
	Routes          []Route
}

// DefaultConfig returns the default policy configuration.
func DefaultConfig() Config {
	return Config{
		StableThreshold: DefaultStableThreshold,
		Routes:          DefaultRoutes(),
	}
}

// Policy implements handler selection. It is safe for concurrent use.
type Policy struct {
	mu     sync.Mutex
	src    Source
	config Config
	logger *zap.Logger
}

// NewPolicy creates a policy drawing from src.
func NewPolicy(config Config, src Source, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.StableThreshold < 1 {
		config.StableThreshold = DefaultStableThreshold
	}
	if config.Routes == nil {
		config.Routes = DefaultRoutes()
	}
	if src == nil {
		src = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Policy{
		src:    src,
		config: config,
		logger: logger.With(zap.String("component", "selection_policy")),
	}
}

// NewSeeded creates a policy with a deterministic pseudo-random source.
func NewSeeded(config Config, seed int64, logger *zap.Logger) *Policy {
	return NewPolicy(config, rand.New(rand.NewSource(seed)), logger)
}

// SetStableThreshold changes the recovery-mode weight threshold.
func (p *Policy) SetStableThreshold(threshold int) {
	if threshold < 1 {
		threshold = DefaultStableThreshold
	}
	p.mu.Lock()
	p.config.StableThreshold = threshold
	p.mu.Unlock()
}

// StableThreshold returns the current recovery-mode weight threshold.
func (p *Policy) StableThreshold() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config.StableThreshold
}

// SelectNext picks the next handler. It never fails: an empty registry
// yields a NoOp selection. Handlers still in flight are not candidates, so
// a registry whose handlers are all in flight is a NoOp as well.
func (p *Policy) SelectNext(reg *agent.Registry, recoveryMode bool, pending *goals.Goal) Selection {
	var all []agent.Descriptor
	registered := 0
	for d := range reg.All() {
		registered++
		if !d.InFlight {
			all = append(all, d)
		}
	}
	if registered == 0 {
		p.logger.Debug("no handlers registered, skipping")
		return Selection{NoOp: true, Reason: ReasonEmptyRegistry}
	}
	if len(all) == 0 {
		p.logger.Debug("every handler still in flight, skipping", zap.Int("registered", registered))
		return Selection{NoOp: true, Reason: ReasonAllBusy}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if recoveryMode {
		return p.selectRecovery(all)
	}

	if pending != nil {
		if name, ok := p.routeGoal(all, pending.Text); ok {
			g := *pending
			return Selection{Handler: name, Goal: &g, Reason: ReasonGoal}
		}
	}

	return Selection{Handler: p.draw(all), Reason: ReasonWeighted}
}

func (p *Policy) selectRecovery(all []agent.Descriptor) Selection {
	stable := make([]agent.Descriptor, 0, len(all))
	for _, d := range all {
		if d.Weight >= p.config.StableThreshold {
			stable = append(stable, d)
		}
	}
	if len(stable) == 0 {
		p.logger.Warn("no stable handlers, falling back to first registered",
			zap.String("handler", all[0].Name),
			zap.Int("threshold", p.config.StableThreshold),
		)
		return Selection{Handler: all[0].Name, Reason: ReasonRecoveryFallback}
	}
	return Selection{Handler: p.draw(stable), Reason: ReasonRecovery}
}

func (p *Policy) routeGoal(all []agent.Descriptor, text string) (string, bool) {
	lower := strings.ToLower(text)
	registered := make(map[string]bool, len(all))
	for _, d := range all {
		registered[d.Name] = true
	}
	for _, r := range p.config.Routes {
		if r.Keyword == "" || !strings.Contains(lower, strings.ToLower(r.Keyword)) {
			continue
		}
		if registered[r.Handler] {
			return r.Handler, true
		}
	}
	return "", false
}

// draw builds the virtual pool (each name repeated weight times) and picks
// a uniform index from it.
func (p *Policy) draw(candidates []agent.Descriptor) string {
	pool := make([]string, 0, len(candidates))
	for _, d := range candidates {
		for i := 0; i < max(1, d.Weight); i++ {
			pool = append(pool, d.Name)
		}
	}
	idx := p.src.Intn(len(pool))
	if idx < 0 || idx >= len(pool) {
		idx = 0
	}
	return pool[idx]
}
