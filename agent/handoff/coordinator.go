package handoff

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentloop/agent"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCooldown is the minimum spacing between two hand-offs.
const DefaultCooldown = 5 * time.Second

const defaultHistorySize = 50

// Status represents the status of a hand-off.
type Status string

const (
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Handoff records one hand-off attempt that reached the target.
type Handoff struct {
	ID          string                 `json:"id"`
	From        string                 `json:"from"`
	To          string                 `json:"to"`
	Status      Status                 `json:"status"`
	Result      *agent.ExecutionResult `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Duration    time.Duration          `json:"duration"`
}

// Fired reports whether the target was actually dispatched.
func (h *Handoff) Fired() bool {
	return h != nil && h.Status != StatusRejected
}

// Succeeded reports whether the target ran and succeeded.
func (h *Handoff) Succeeded() bool {
	return h != nil && h.Status == StatusCompleted
}

// Guard vets a resolved target before it is offered the hand-off.
type Guard func(target agent.Descriptor) bool

// Config configures a Coordinator.
type Config struct {
	Cooldown       time.Duration
	HandlerTimeout time.Duration
	HistorySize    int
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Cooldown:    DefaultCooldown,
		HistorySize: defaultHistorySize,
	}
}

// Request carries the source handler's outcome into MaybeHandoff.
type Request struct {
	Source string
	Input  *agent.ExecutionContext
	Result *agent.ExecutionResult
	Now    time.Time
}

// Coordinator decides whether a result triggers a hand-off and runs the
// target synchronously.
type Coordinator struct {
	registry *agent.Registry
	config   Config
	guard    Guard
	logger   *zap.Logger

	mu            sync.RWMutex
	lastHandoffAt time.Time
	history       []*Handoff
}

// NewCoordinator creates a coordinator resolving targets in reg.
func NewCoordinator(reg *agent.Registry, config Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Cooldown < 0 {
		config.Cooldown = DefaultCooldown
	}
	if config.HistorySize <= 0 {
		config.HistorySize = defaultHistorySize
	}
	return &Coordinator{
		registry: reg,
		config:   config,
		logger:   logger.With(zap.String("component", "handoff_coordinator")),
	}
}

// SetGuard installs a guard consulted after the hint resolves. A nil guard
// allows every target.
func (c *Coordinator) SetGuard(g Guard) {
	c.mu.Lock()
	c.guard = g
	c.mu.Unlock()
}

// Cooldown returns the configured cooldown.
func (c *Coordinator) Cooldown() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.Cooldown
}

// Configure replaces the cooldown and the per-target timeout. The anchor
// and the history are kept.
func (c *Coordinator) Configure(cooldown, handlerTimeout time.Duration) {
	if cooldown < 0 {
		cooldown = DefaultCooldown
	}
	c.mu.Lock()
	c.config.Cooldown = cooldown
	c.config.HandlerTimeout = handlerTimeout
	c.mu.Unlock()
}

// LastHandoffAt returns the time of the last dispatched hand-off.
func (c *Coordinator) LastHandoffAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHandoffAt
}

// SetLastHandoffAt overrides the cooldown anchor, e.g. when restoring state.
func (c *Coordinator) SetLastHandoffAt(t time.Time) {
	c.mu.Lock()
	c.lastHandoffAt = t
	c.mu.Unlock()
}

// Reset clears the cooldown anchor and the history.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.lastHandoffAt = time.Time{}
	c.history = nil
	c.mu.Unlock()
}

// Ready reports whether the cooldown has elapsed at now.
func (c *Coordinator) Ready(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readyLocked(now)
}

func (c *Coordinator) readyLocked(now time.Time) bool {
	return c.lastHandoffAt.IsZero() || now.Sub(c.lastHandoffAt) > c.config.Cooldown
}

// MaybeHandoff evaluates req and, when every rule passes, runs the hinted
// handler. The returned bool reports whether the target was dispatched.
// A non-nil Handoff is returned whenever the target was offered the
// hand-off, including rejections.
func (c *Coordinator) MaybeHandoff(ctx context.Context, req Request) (*Handoff, bool) {
	if req.Result == nil || req.Result.NextHandlerHint == "" {
		return nil, false
	}
	target := req.Result.NextHandlerHint
	log := c.logger.With(zap.String("from", req.Source), zap.String("to", target))

	if target == req.Source {
		log.Debug("ignoring self hand-off")
		return nil, false
	}

	c.mu.RLock()
	ready := c.readyLocked(req.Now)
	guard := c.guard
	cooldown := c.config.Cooldown
	c.mu.RUnlock()
	if !ready {
		log.Debug("hand-off within cooldown", zap.Duration("cooldown", cooldown))
		return nil, false
	}

	desc, err := c.registry.Get(target)
	if err != nil {
		log.Debug("hand-off hint does not resolve")
		return nil, false
	}
	if desc.InFlight {
		log.Debug("hand-off target still in flight")
		return nil, false
	}
	if guard != nil && !guard(desc) {
		log.Debug("hand-off target refused by guard", zap.Int("weight", desc.Weight))
		return nil, false
	}
	h, err := c.registry.Handler(target)
	if err != nil {
		return nil, false
	}

	record := &Handoff{
		ID:        uuid.NewString(),
		From:      req.Source,
		To:        target,
		CreatedAt: req.Now,
	}

	if acceptor, ok := h.(agent.Acceptor); ok {
		if err := acceptor.AcceptHandoff(ctx, &agent.HandoffRequest{From: req.Source, To: target, Result: req.Result}); err != nil {
			record.Status = StatusRejected
			record.Error = err.Error()
			c.remember(record)
			log.Info("hand-off rejected", zap.Error(err))
			return record, false
		}
	}

	c.mu.Lock()
	c.lastHandoffAt = req.Now
	c.mu.Unlock()

	log.Info("initiating hand-off", zap.String("id", record.ID))
	c.execute(ctx, record, c.derive(req))
	c.remember(record)
	return record, true
}

func (c *Coordinator) derive(req Request) *agent.ExecutionContext {
	in := agent.NewExecutionContext("")
	if req.Input != nil {
		in.SessionID = req.Input.SessionID
		in.UserID = req.Input.UserID
		for k, v := range req.Input.Input {
			in.Input[k] = v
		}
	}
	in.Input[agent.InputPreviousOutput] = req.Result.Message
	in.Input[agent.InputSourceHandler] = req.Source
	return in
}

// execute runs the target with the same bounded invocation as a primary
// execution: a target that ignores ctx is abandoned after HandlerTimeout.
func (c *Coordinator) execute(ctx context.Context, record *Handoff, in *agent.ExecutionContext) {
	c.mu.RLock()
	timeout := c.config.HandlerTimeout
	c.mu.RUnlock()

	_ = c.registry.SetStatus(record.To, agent.StatusRunning)
	start := time.Now()
	res, err := c.registry.Execute(ctx, record.To, in, timeout)
	record.Duration = time.Since(start)

	// Single hop: whatever the target hints is dropped here.
	if res != nil {
		res.NextHandlerHint = ""
	}
	record.Result = res

	if err != nil {
		record.Status = StatusFailed
		record.Error = err.Error()
		_ = c.registry.SetStatus(record.To, agent.StatusError)
	} else {
		record.Status = StatusCompleted
		_ = c.registry.SetStatus(record.To, agent.StatusIdle)
	}
	done := record.CreatedAt.Add(record.Duration)
	record.CompletedAt = &done

	c.logger.Info("hand-off completed",
		zap.String("id", record.ID),
		zap.String("status", string(record.Status)),
		zap.Duration("duration", record.Duration),
	)
}

func (c *Coordinator) remember(h *Handoff) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, h)
	if over := len(c.history) - c.config.HistorySize; over > 0 {
		c.history = append([]*Handoff(nil), c.history[over:]...)
	}
}

// Recent returns up to limit of the most recent hand-offs, newest last.
// A non-positive limit returns all retained records.
func (c *Coordinator) Recent(limit int) []Handoff {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.history
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]Handoff, len(src))
	for i, h := range src {
		out[i] = *h
	}
	return out
}

// Get retrieves a retained hand-off by ID.
func (c *Coordinator) Get(id string) (Handoff, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, h := range c.history {
		if h.ID == id {
			return *h, true
		}
	}
	return Handoff{}, false
}
