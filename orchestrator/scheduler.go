package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/agent/chat"
	"github.com/BaSui01/agentloop/agent/goals"
	"github.com/BaSui01/agentloop/agent/handoff"
	"github.com/BaSui01/agentloop/agent/persistence"
	"github.com/BaSui01/agentloop/agent/selection"
	"github.com/BaSui01/agentloop/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithStore sets the state store. Defaults to an in-memory store.
func WithStore(store persistence.StateStore) Option {
	return func(s *Scheduler) {
		if store != nil {
			s.store = store
		}
	}
}

// WithGoals shares an existing goal queue.
func WithGoals(q *goals.Queue) Option {
	return func(s *Scheduler) {
		if q != nil {
			s.goals = q
		}
	}
}

// WithBus shares an existing chat bus.
func WithBus(b *chat.Bus) Option {
	return func(s *Scheduler) {
		if b != nil {
			s.bus = b
		}
	}
}

// WithMetrics records loop metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = c }
}

// WithSource fixes the randomness used for selection. It takes precedence
// over Config.Seed.
func WithSource(src selection.Source) Option {
	return func(s *Scheduler) { s.source = src }
}

// WithClock replaces time.Now for traces, the failure window and the
// hand-off cooldown.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// run is one Start..Stop period.
type run struct {
	id        string
	config    Config
	startedAt time.Time
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

func (r *run) halt() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *run) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// Scheduler drives the autonomous loop. Every instance is independent.
type Scheduler struct {
	registry *agent.Registry
	goals    *goals.Queue
	bus      *chat.Bus
	store    persistence.StateStore
	handoffs *handoff.Coordinator
	metrics  *metrics.Collector
	source   selection.Source
	now      func() time.Time
	logger   *zap.Logger

	startMu   sync.Mutex // serialises Start
	cycleMu   sync.Mutex // one cycle at a time
	persistMu sync.Mutex // orders writes of the running flag
	commitMu  sync.Mutex // orders cycle commits against Reset
	runGen    atomic.Uint64
	bg        sync.WaitGroup

	mu              sync.RWMutex
	config          Config
	policy          *selection.Policy
	current         *run
	lastDone        chan struct{}
	runID           string
	startedAt       time.Time
	cyclesCompleted int64
	resetGen        uint64 // bumped by Reset; stale cycles do not commit
	recoveryMode    bool
	failures        *failureWindow
	traces          []CycleTrace
}

// NewScheduler creates a stopped scheduler over reg.
func NewScheduler(reg *agent.Registry, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = agent.NewRegistry(logger)
	}

	s := &Scheduler{
		registry: reg,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "scheduler")),
		failures: newFailureWindow(DefaultFailureWindow),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.goals == nil {
		s.goals = goals.NewQueue(logger)
	}
	if s.bus == nil {
		s.bus = chat.NewBus(chat.DefaultCapacity, logger)
	}
	if s.store == nil {
		s.store = persistence.NewMemoryStore()
	}
	s.handoffs = handoff.NewCoordinator(reg, handoff.DefaultConfig(), logger)
	s.handoffs.SetGuard(s.recoveryGuard)

	done := make(chan struct{})
	close(done)
	s.lastDone = done

	s.mu.Lock()
	s.applyConfigLocked(DefaultConfig())
	s.mu.Unlock()

	if s.metrics != nil {
		m := s.metrics
		reg.OnStatusChange(func(name string, from, to agent.Status) {
			m.RecordStatusTransition(name, string(from), string(to))
		})
		s.bus.OnDrop(m.RecordChatDropped)
	}
	return s
}

// applyConfigLocked pushes cfg into the components. Caller holds s.mu.
func (s *Scheduler) applyConfigLocked(cfg Config) {
	s.config = cfg

	selCfg := selection.DefaultConfig()
	selCfg.StableThreshold = cfg.RecoveryWeightThreshold
	switch {
	case s.source != nil:
		s.policy = selection.NewPolicy(selCfg, s.source, s.logger)
	case cfg.Seed != 0:
		s.policy = selection.NewSeeded(selCfg, cfg.Seed, s.logger)
	default:
		s.policy = selection.NewPolicy(selCfg, nil, s.logger)
	}

	s.handoffs.Configure(cfg.HandoffCooldown, cfg.HandlerTimeout)
	s.bus.SetCapacity(cfg.ChatHistoryCap)
	s.failures.setWindow(cfg.FailureWindow)
	if over := len(s.traces) - cfg.TraceHistory; over > 0 {
		s.traces = append([]CycleTrace(nil), s.traces[over:]...)
	}
}

// recoveryGuard keeps unstable handlers out of hand-offs while in recovery.
func (s *Scheduler) recoveryGuard(target agent.Descriptor) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.recoveryMode || target.Weight >= s.config.RecoveryWeightThreshold
}

// =============================================================================
// 🎮 控制接口
// =============================================================================

// Start begins firing cycles every cfg.LoopDelay. Persisted counters, goals
// and chat history are loaded first on a best-effort basis.
func (s *Scheduler) Start(ctx context.Context, cfg Config) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur != nil {
		return alreadyRunning(cur.id)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()

	s.mu.Lock()
	s.applyConfigLocked(cfg)
	s.mu.Unlock()

	s.restore(ctx, cfg)

	r := &run{
		id:        uuid.NewString(),
		config:    cfg,
		startedAt: s.now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.current = r
	s.lastDone = r.done
	s.runID = r.id
	s.startedAt = r.startedAt
	cycles := s.cyclesCompleted
	s.mu.Unlock()

	s.persistRunning(ctx, true, s.runGen.Add(1), cfg.StoreTimeout)
	s.metrics.SetRunning(true)
	s.metrics.SetCyclesCompleted(cycles)

	s.logger.Info("loop started",
		zap.String("run_id", r.id),
		zap.Duration("loop_delay", cfg.LoopDelay),
		zap.Int64("max_cycles", cfg.MaxCycles),
		zap.Int64("cycles_completed", cycles),
	)

	go s.loop(context.WithoutCancel(ctx), r)
	return nil
}

// Configure validates cfg and applies it without starting the loop, so
// that Step runs with it. It fails while a run is active.
func (s *Scheduler) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return alreadyRunning(s.current.id)
	}
	s.applyConfigLocked(cfg)
	return nil
}

// Resume starts the loop only when the persisted running flag is set.
// It reports whether the loop was started.
func (s *Scheduler) Resume(ctx context.Context, cfg Config) (bool, error) {
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	var running bool
	found, err := persistence.GetJSON(readCtx, s.store, persistence.KeyRunning, &running)
	cancel()
	if err != nil {
		return false, persistenceError("read running flag", err)
	}
	if !found || !running {
		s.logger.Info("loop not resumed", zap.Bool("flag_found", found))
		return false, nil
	}
	if err := s.Start(ctx, cfg); err != nil {
		return false, err
	}
	return true, nil
}

// Stop ends the current run. It is idempotent, never blocks and never
// interrupts an in-flight cycle; the running flag is persisted in the
// background.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	r := s.current
	s.current = nil
	s.mu.Unlock()

	if r != nil {
		s.halt(r, "stop requested")
	}
	return nil
}

// stopRun stops r only if it is still the current run.
func (s *Scheduler) stopRun(r *run, reason string) {
	s.mu.Lock()
	if s.current != r {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.mu.Unlock()
	s.halt(r, reason)
}

func (s *Scheduler) halt(r *run, reason string) {
	r.halt()
	gen := s.runGen.Add(1)
	s.metrics.SetRunning(false)

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.persistRunning(context.Background(), false, gen, r.config.StoreTimeout)
	}()

	s.logger.Info("loop stopped",
		zap.String("run_id", r.id),
		zap.String("reason", reason),
		zap.Int64("cycles_completed", s.CyclesCompleted()),
	)
}

// Shutdown stops the loop and waits for the in-flight cycle, any handler
// abandoned after its timeout and the background writes to finish, or for
// ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	_ = s.Stop()

	finished := make(chan struct{})
	go func() {
		<-s.Done()
		s.bg.Wait()
		<-s.registry.Idle()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset clears the cycle counter, recovery mode, the failure window and
// the hand-off clock. Goals and chat history are kept. It does not wait for
// an in-flight cycle; that cycle finishes but is not counted.
func (s *Scheduler) Reset() {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	s.resetGen++
	s.cyclesCompleted = 0
	s.recoveryMode = false
	s.failures.clear()
	s.traces = nil
	timeout := s.config.StoreTimeout
	s.mu.Unlock()

	s.handoffs.Reset()
	s.metrics.SetCyclesCompleted(0)
	s.metrics.SetRecoveryMode(false)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.put(ctx, "reset", persistence.KeyCyclesCompleted, int64(0))
	s.put(ctx, "reset", persistence.KeyLastHandoffAt, time.Time{})

	s.logger.Info("loop state reset")
}

// SetGoal enqueues a goal and persists the queue.
func (s *Scheduler) SetGoal(text string, priority int) (*goals.Goal, error) {
	g, err := s.goals.Add(text, priority)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	timeout := s.config.StoreTimeout
	s.mu.RUnlock()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.put(ctx, "goals", persistence.KeyGoals, s.goals.List())
	return g, nil
}

// =============================================================================
// 🔍 查询接口
// =============================================================================

// State returns a snapshot of the loop state.
func (s *Scheduler) State() LoopState {
	now := s.now()
	lastHandoff := s.handoffs.LastHandoffAt()
	s.mu.Lock()
	defer s.mu.Unlock()
	return LoopState{
		Running:         s.current != nil,
		CyclesCompleted: s.cyclesCompleted,
		LastHandoffAt:   lastHandoff,
		RecoveryMode:    s.recoveryMode,
		RecentFailures:  s.failures.count(now),
		RunID:           s.runID,
		StartedAt:       s.startedAt,
		Config:          s.config,
	}
}

// Running reports whether a run is active.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// CyclesCompleted returns the cycle counter.
func (s *Scheduler) CyclesCompleted() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cyclesCompleted
}

// RecoveryMode reports whether the next cycle selects under recovery rules.
func (s *Scheduler) RecoveryMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recoveryMode
}

// Traces returns up to limit of the most recent cycle traces, newest last.
// A non-positive limit returns every retained trace.
func (s *Scheduler) Traces(limit int) []CycleTrace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.traces
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	return append([]CycleTrace(nil), src...)
}

// Handoffs returns the most recent hand-off records.
func (s *Scheduler) Handoffs(limit int) []handoff.Handoff {
	return s.handoffs.Recent(limit)
}

// Done returns a channel closed when the current (or last) run ends.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastDone
}

// Registry returns the handler registry.
func (s *Scheduler) Registry() *agent.Registry { return s.registry }

// Goals returns the goal queue.
func (s *Scheduler) Goals() *goals.Queue { return s.goals }

// Bus returns the chat bus.
func (s *Scheduler) Bus() *chat.Bus { return s.bus }

// Store returns the state store.
func (s *Scheduler) Store() persistence.StateStore { return s.store }
