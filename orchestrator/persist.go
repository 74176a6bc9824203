package orchestrator

import (
	"context"
	"time"

	"github.com/BaSui01/agentloop/agent/chat"
	"github.com/BaSui01/agentloop/agent/goals"
	"github.com/BaSui01/agentloop/agent/persistence"
	"go.uber.org/zap"
)

// restore loads counters, goals, chat history and the hand-off clock.
// Missing keys and read errors leave the in-memory state untouched.
func (s *Scheduler) restore(ctx context.Context, cfg Config) {
	ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	var cycles int64
	if s.get(ctx, "restore", persistence.KeyCyclesCompleted, &cycles) {
		s.mu.Lock()
		s.cyclesCompleted = cycles
		s.mu.Unlock()
	}

	if s.goals.Len() == 0 {
		var persisted []goals.Goal
		if s.get(ctx, "restore", persistence.KeyGoals, &persisted) {
			s.goals.Restore(persisted)
		}
	}

	if s.bus.Len() == 0 {
		var history []chat.Message
		if s.get(ctx, "restore", persistence.KeyChatHistory, &history) {
			s.bus.Restore(history)
		}
	}

	var lastHandoff time.Time
	if s.get(ctx, "restore", persistence.KeyLastHandoffAt, &lastHandoff) &&
		lastHandoff.After(s.handoffs.LastHandoffAt()) {
		s.handoffs.SetLastHandoffAt(lastHandoff)
	}
}

// persistState writes the goals, the chat history and, after a hand-off,
// the hand-off clock. The trace and the counter are written by commit.
func (s *Scheduler) persistState(ctx context.Context, cfg Config, trace CycleTrace) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.StoreTimeout)
	defer cancel()

	s.put(ctx, "goals", persistence.KeyGoals, s.goals.List())
	s.put(ctx, "chat", persistence.KeyChatHistory, s.bus.History())
	if trace.HandoffTarget != "" {
		s.put(ctx, "handoff", persistence.KeyLastHandoffAt, s.handoffs.LastHandoffAt())
	}
}

// persistRunning writes the running flag unless a later Start or Stop has
// superseded this write.
func (s *Scheduler) persistRunning(ctx context.Context, running bool, gen uint64, timeout time.Duration) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if s.runGen.Load() != gen {
		return
	}
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	s.put(ctx, "running", persistence.KeyRunning, running)
}

// put writes v as JSON. Failures are logged and counted, never returned.
func (s *Scheduler) put(ctx context.Context, op, key string, v any) bool {
	if err := persistence.PutJSON(ctx, s.store, key, v); err != nil {
		s.metrics.RecordPersistenceError(op)
		s.logger.Warn("state store write failed",
			zap.String("key", key),
			zap.Error(persistenceError(op, err)),
		)
		return false
	}
	return true
}

// get reads key into v and reports whether a value was loaded.
func (s *Scheduler) get(ctx context.Context, op, key string, v any) bool {
	found, err := persistence.GetJSON(ctx, s.store, key, v)
	if err != nil {
		s.metrics.RecordPersistenceError(op)
		s.logger.Warn("state store read failed",
			zap.String("key", key),
			zap.Error(persistenceError(op, err)),
		)
		return false
	}
	return found
}
