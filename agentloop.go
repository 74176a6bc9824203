// Package agentloop provides a top-level convenience entry point for
// building an orchestration loop with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/agentloop"
//
//	s, err := agentloop.New()
//	s, err := agentloop.New(agentloop.WithStore(store), agentloop.WithLogger(logger))
//	s, err := agentloop.New(agentloop.WithoutBuiltins(), agentloop.WithHandler(myHandler, 3))
//
//	err = s.Start(ctx, orchestrator.DefaultConfig())
//
// The returned scheduler is stopped; the caller owns Start, Stop and
// Shutdown. cmd/agentloop wires the same components from configuration.
package agentloop

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/agent/builtin"
	"github.com/BaSui01/agentloop/agent/chat"
	"github.com/BaSui01/agentloop/agent/goals"
	"github.com/BaSui01/agentloop/agent/persistence"
	"github.com/BaSui01/agentloop/internal/metrics"
	"github.com/BaSui01/agentloop/orchestrator"
)

type weighted struct {
	handler agent.Handler
	weight  int
}

type options struct {
	logger         *zap.Logger
	store          persistence.StateStore
	metrics        *metrics.Collector
	builtins       bool
	builtinWeights map[string]int
	handlers       []weighted
}

// Option configures the scheduler created by [New].
type Option func(*options)

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStore persists loop state to store instead of memory.
func WithStore(store persistence.StateStore) Option {
	return func(o *options) { o.store = store }
}

// WithMetrics records loop metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithHandler registers h with weight next to the built-ins.
func WithHandler(h agent.Handler, weight int) Option {
	return func(o *options) { o.handlers = append(o.handlers, weighted{handler: h, weight: weight}) }
}

// WithBuiltinWeights overrides the default weights of the built-in handlers.
func WithBuiltinWeights(weights map[string]int) Option {
	return func(o *options) { o.builtinWeights = weights }
}

// WithoutBuiltins skips the planner, researcher, summarizer and reviewer.
func WithoutBuiltins() Option {
	return func(o *options) { o.builtins = false }
}

// New creates a stopped [orchestrator.Scheduler] with its registry, goal
// queue and chat bus wired together.
func New(opts ...Option) (*orchestrator.Scheduler, error) {
	o := &options{builtins: true}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.store == nil {
		o.store = persistence.NewMemoryStore()
	}

	reg := agent.NewRegistry(o.logger)
	queue := goals.NewQueue(o.logger)
	// 容量由 Start/Configure 时的 ChatHistoryCap 决定
	bus := chat.NewBus(chat.DefaultCapacity, o.logger)

	if o.builtins {
		deps := builtin.Deps{Goals: queue, Bus: bus, Store: o.store, Logger: o.logger}
		if err := builtin.Register(reg, deps, o.builtinWeights); err != nil {
			return nil, fmt.Errorf("register built-in handlers: %w", err)
		}
	}
	for _, w := range o.handlers {
		if err := reg.Register(w.handler, w.weight); err != nil {
			return nil, err
		}
	}

	return orchestrator.NewScheduler(reg, o.logger,
		orchestrator.WithStore(o.store),
		orchestrator.WithGoals(queue),
		orchestrator.WithBus(bus),
		orchestrator.WithMetrics(o.metrics),
	), nil
}
