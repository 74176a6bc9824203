package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/agent/chat"
	"github.com/BaSui01/agentloop/agent/goals"
	"github.com/BaSui01/agentloop/agent/handoff"
	"github.com/BaSui01/agentloop/agent/persistence"
	"github.com/BaSui01/agentloop/agent/selection"
	"github.com/BaSui01/agentloop/internal/ctxkeys"
	"github.com/BaSui01/agentloop/internal/telemetry"
	"github.com/BaSui01/agentloop/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// chatSource is the message source for cycles without a handler.
const chatSource = "scheduler"

// DataGoalProgress is re-exported for callers that only import the loop.
const DataGoalProgress = agent.DataGoalProgress

// loop fires cycles for r until it is stopped. A counter restored at or
// past MaxCycles ends the run before any cycle fires.
func (s *Scheduler) loop(ctx context.Context, r *run) {
	defer close(r.done)

	if s.maxCyclesReached(r.config) {
		s.stopRun(r, "max cycles reached")
		return
	}

	timer := time.NewTimer(r.config.LoopDelay)
	defer timer.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-timer.C:
		}

		s.cycleMu.Lock()
		if r.stopped() {
			s.cycleMu.Unlock()
			return
		}
		if s.maxCyclesReached(r.config) {
			// Step 可能在两次 tick 之间用完了额度
			s.cycleMu.Unlock()
			s.stopRun(r, "max cycles reached")
			return
		}
		s.runCycle(ctx, r.id, r.config)
		s.cycleMu.Unlock()

		if s.maxCyclesReached(r.config) {
			s.stopRun(r, "max cycles reached")
			return
		}
		timer.Reset(r.config.LoopDelay)
	}
}

// Step runs one cycle synchronously on the loop's timeline. The returned
// error is only non-nil when ctx is already done; handler failures are
// reported through the trace.
func (s *Scheduler) Step(ctx context.Context) (*CycleTrace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	cfg := s.config
	r := s.current
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	runID := s.runID
	s.mu.Unlock()

	trace := s.runCycle(ctx, runID, cfg)
	if r != nil && s.maxCyclesReached(cfg) {
		s.stopRun(r, "max cycles reached")
	}
	return &trace, nil
}

func (s *Scheduler) maxCyclesReached(cfg Config) bool {
	return cfg.MaxCycles > 0 && s.CyclesCompleted() >= cfg.MaxCycles
}

// runCycle executes one full cycle. Caller holds cycleMu.
func (s *Scheduler) runCycle(ctx context.Context, runID string, cfg Config) CycleTrace {
	s.mu.RLock()
	cycle := s.cyclesCompleted + 1
	gen := s.resetGen
	recovery := s.recoveryMode
	policy := s.policy
	s.mu.RUnlock()

	ctx = ctxkeys.WithRunID(ctx, runID)
	ctx = ctxkeys.WithCycle(ctx, cycle)
	ctx, span := telemetry.StartCycle(ctx, runID, cycle)

	log := s.logger.With(zap.String("run_id", runID), zap.Int64("cycle", cycle))
	started := time.Now()

	pending, _ := s.goals.NextActive()
	sel := policy.SelectNext(s.registry, recovery, pending)

	trace := CycleTrace{
		RunID:       runID,
		CycleNumber: cycle,
		Reason:      sel.Reason,
		Recovery:    recovery,
		Timestamp:   s.now(),
	}

	if sel.NoOp {
		trace.Outcome = OutcomeSkipped
		trace.Message = "no handlers registered"
		if sel.Reason == selection.ReasonAllBusy {
			trace.Message = "every handler still in flight"
		}
		s.publish(chat.Message{
			Source: chatSource,
			Body:   "cycle skipped: " + trace.Message,
			Kind:   chat.KindSkipped,
			Cycle:  cycle,
		})
		log.Debug("cycle skipped", zap.String("reason", string(sel.Reason)))
	} else {
		s.dispatch(ctx, log, cfg, sel, &trace)
	}

	trace.Duration = time.Since(started)
	result := telemetry.CycleResult{
		Handler:  trace.Handler,
		Reason:   string(trace.Reason),
		Outcome:  string(trace.Outcome),
		Recovery: trace.Recovery,
		Duration: trace.Duration,
	}
	if trace.Outcome == OutcomeFailed {
		result.Err = trace.Error
		if result.Err == "" {
			result.Err = trace.Message
		}
	}
	span.End(ctx, result)
	s.metrics.RecordCycle(string(trace.Outcome), trace.Duration)

	s.updateRecovery(log, cfg, gen, trace)
	s.persistState(ctx, cfg, trace)
	if !s.commit(ctx, cfg, gen, trace) {
		log.Info("cycle discarded, loop state was reset while it ran")
	}
	return trace
}

// dispatch runs the selected handler, the optional hand-off and goal
// bookkeeping, then publishes the cycle's chat message.
func (s *Scheduler) dispatch(ctx context.Context, log *zap.Logger, cfg Config, sel selection.Selection, trace *CycleTrace) {
	trace.Handler = sel.Handler
	log = log.With(zap.String("handler", sel.Handler), zap.String("reason", string(sel.Reason)))

	in := agent.NewExecutionContext(trace.RunID)
	in.Input[agent.InputCycle] = trace.CycleNumber
	if sel.Goal != nil {
		trace.Goal = sel.Goal.Text
		in.Input[agent.InputGoal] = sel.Goal.Text
	}

	res, err := s.execute(ctx, cfg, sel.Handler, in)
	if res != nil {
		trace.Message = res.Message
	}

	var record *handoff.Handoff
	if err == nil {
		var fired bool
		record, fired = s.handoffs.MaybeHandoff(ctx, handoff.Request{
			Source: sel.Handler,
			Input:  in,
			Result: res,
			Now:    s.now(),
		})
		if record != nil {
			trace.HandoffTarget = record.To
			trace.HandoffOutcome = string(record.Status)
			s.metrics.RecordHandoff(record.From, record.To, string(record.Status))
		}
		if fired {
			s.metrics.RecordHandlerExecution(record.To, executionStatus(record.Succeeded()), record.Duration)
			if !record.Succeeded() {
				err = types.NewError(types.ErrHandlerExecution,
					fmt.Sprintf("hand-off %s -> %s: %s", record.From, record.To, record.Error)).WithCause(ErrHandoffFailed)
			}
		}
		if sel.Goal != nil {
			s.advanceGoal(log, cfg, sel.Goal.Text, res, trace)
		}
	}

	if err != nil {
		trace.Outcome = OutcomeFailed
		trace.Error = err.Error()
		log.Warn("cycle failed", zap.Error(err))
	} else {
		trace.Outcome = OutcomeSuccess
		log.Debug("cycle succeeded", zap.String("message", trace.Message))
	}

	s.publish(cycleMessage(*trace, record))
}

// execute invokes name with status bookkeeping, panic capture and the
// configured timeout. A timed-out handler stays in flight in the registry
// until it returns, which keeps it out of later selections.
func (s *Scheduler) execute(ctx context.Context, cfg Config, name string, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	ctx = ctxkeys.WithHandler(ctx, name)
	_ = s.registry.SetStatus(name, agent.StatusRunning)

	start := time.Now()
	res, err := s.registry.Execute(ctx, name, in, cfg.HandlerTimeout)
	duration := time.Since(start)

	if err != nil {
		_ = s.registry.SetStatus(name, agent.StatusError)
	} else {
		_ = s.registry.SetStatus(name, agent.StatusIdle)
	}
	s.metrics.RecordHandlerExecution(name, executionStatus(err == nil), duration)
	return res, err
}

// advanceGoal moves the goal forward after a successful primary execution.
func (s *Scheduler) advanceGoal(log *zap.Logger, cfg Config, text string, res *agent.ExecutionResult, trace *CycleTrace) {
	var (
		goal *goals.Goal
		err  error
	)
	if p, ok := reportedProgress(res); ok {
		goal, err = s.goals.SetProgress(text, p)
	} else {
		goal, err = s.goals.Advance(text, cfg.GoalProgressStep)
	}
	if err != nil {
		log.Debug("goal no longer active", zap.String("goal", text), zap.Error(err))
		return
	}
	trace.GoalProgress = goal.Progress
}

func reportedProgress(res *agent.ExecutionResult) (int, bool) {
	if res == nil || res.Data == nil {
		return 0, false
	}
	switch v := res.Data[DataGoalProgress].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// updateRecovery feeds the cycle outcome into the failure window.
func (s *Scheduler) updateRecovery(log *zap.Logger, cfg Config, gen uint64, trace CycleTrace) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetGen != gen {
		return
	}

	switch trace.Outcome {
	case OutcomeFailed:
		n := s.failures.record(now)
		if !s.recoveryMode && n >= cfg.FailureThreshold {
			s.recoveryMode = true
			s.metrics.SetRecoveryMode(true)
			log.Warn("entering recovery mode",
				zap.Int("failures", n),
				zap.Duration("window", cfg.FailureWindow),
			)
		}
	case OutcomeSuccess:
		if trace.Recovery && s.recoveryMode {
			s.recoveryMode = false
			s.failures.clear()
			s.metrics.SetRecoveryMode(false)
			log.Info("leaving recovery mode", zap.String("handler", trace.Handler))
		}
	}
}

// commit makes the cycle count and persists its trace and the counter.
// This is the last step of a cycle. A cycle that started before a Reset is
// dropped, so neither the counter nor the trace numbers go back to their
// pre-reset values. Caller holds cycleMu.
func (s *Scheduler) commit(ctx context.Context, cfg Config, gen uint64, trace CycleTrace) bool {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if s.resetGen != gen {
		s.mu.Unlock()
		return false
	}
	s.cyclesCompleted++
	n := s.cyclesCompleted
	s.traces = append(s.traces, trace)
	if over := len(s.traces) - s.config.TraceHistory; over > 0 {
		s.traces = append([]CycleTrace(nil), s.traces[over:]...)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.StoreTimeout)
	defer cancel()
	s.put(ctx, "trace", persistence.TraceKey(n), trace)
	s.put(ctx, "cycles", persistence.KeyCyclesCompleted, n)

	s.metrics.SetCyclesCompleted(n)
	return true
}

func (s *Scheduler) publish(msg chat.Message) {
	stored := s.bus.Publish(msg)
	s.metrics.RecordChatMessage(string(stored.Kind))
}

func cycleMessage(trace CycleTrace, record *handoff.Handoff) chat.Message {
	msg := chat.Message{Source: trace.Handler, Cycle: trace.CycleNumber}

	switch trace.Outcome {
	case OutcomeFailed:
		msg.Kind = chat.KindFailure
		msg.Body = "failed: " + trace.Error
	default:
		msg.Kind = chat.KindSuccess
		msg.Body = trace.Message
		if msg.Body == "" {
			msg.Body = "completed"
		}
	}

	if record.Fired() && trace.Outcome == OutcomeSuccess {
		msg.Kind = chat.KindHandoff
		reply := ""
		if record.Result != nil {
			reply = record.Result.Message
		}
		msg.Body = fmt.Sprintf("%s (handed off to %s: %s)", msg.Body, record.To, reply)
	}
	return msg
}

func executionStatus(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
