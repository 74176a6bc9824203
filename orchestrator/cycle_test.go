package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/agent/chat"
	"github.com/BaSui01/agentloop/agent/goals"
	"github.com/BaSui01/agentloop/agent/handoff"
	"github.com/BaSui01/agentloop/agent/persistence"
	"github.com/BaSui01/agentloop/agent/selection"
	"github.com/BaSui01/agentloop/internal/ctxkeys"
	"github.com/BaSui01/agentloop/testutil"
	"github.com/BaSui01/agentloop/testutil/fixtures"
	"github.com/BaSui01/agentloop/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func step(t *testing.T, s *Scheduler) CycleTrace {
	t.Helper()
	trace, err := s.Step(context.Background())
	require.NoError(t, err)
	require.NotNil(t, trace)
	return *trace
}

// --- 基本 cycle ---

func TestStep_EmptyRegistrySkips(t *testing.T) {
	s := newTestScheduler(t, agent.NewRegistry(nil))

	trace := step(t, s)
	assert.Equal(t, OutcomeSkipped, trace.Outcome)
	assert.Equal(t, selection.ReasonEmptyRegistry, trace.Reason)
	assert.Empty(t, trace.Handler)
	assert.Equal(t, int64(1), s.CyclesCompleted())

	history := s.Bus().History()
	require.Len(t, history, 1)
	assert.Equal(t, chat.KindSkipped, history[0].Kind)
	assert.Equal(t, chatSource, history[0].Source)
}

func TestStep_CancelledContext(t *testing.T) {
	s := newTestScheduler(t, agent.NewRegistry(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trace, err := s.Step(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, trace)
	assert.Zero(t, s.CyclesCompleted())
}

func TestStep_ContextCarriesCycleInfo(t *testing.T) {
	reg := agent.NewRegistry(nil)
	var (
		gotRun     string
		gotCycle   int64
		gotHandler string
		gotInput   any
	)
	require.NoError(t, reg.RegisterFunc("A", 1, func(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
		gotRun, _ = ctxkeys.RunID(ctx)
		gotCycle, _ = ctxkeys.Cycle(ctx)
		gotHandler, _ = ctxkeys.Handler(ctx)
		gotInput = in.Input[agent.InputCycle]
		return agent.Succeeded("ok"), nil
	}))
	s := newTestScheduler(t, reg)

	step(t, s)
	trace := step(t, s)

	assert.NotEmpty(t, gotRun)
	assert.Equal(t, trace.RunID, gotRun)
	assert.Equal(t, int64(2), gotCycle)
	assert.Equal(t, "A", gotHandler)
	assert.Equal(t, int64(2), gotInput)
}

func TestStep_SuccessPublishesMessage(t *testing.T) {
	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.RegisterFunc("A", 1, fixtures.Succeed("drafted outline")))
	s := newTestScheduler(t, reg)

	trace := step(t, s)
	assert.Equal(t, OutcomeSuccess, trace.Outcome)
	assert.Equal(t, selection.ReasonWeighted, trace.Reason)
	assert.Equal(t, "drafted outline", trace.Message)

	history := s.Bus().History()
	require.Len(t, history, 1)
	assert.Equal(t, "A", history[0].Source)
	assert.Equal(t, chat.KindSuccess, history[0].Kind)
	assert.Equal(t, "drafted outline", history[0].Body)
	assert.Equal(t, int64(1), history[0].Cycle)

	d, err := reg.Get("A")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusIdle, d.Status)
}

func TestStep_FailureIsReportedNotReturned(t *testing.T) {
	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.RegisterFunc("A", 1, fixtures.Fail("network down")))
	s := newTestScheduler(t, reg)

	trace := step(t, s)
	assert.Equal(t, OutcomeFailed, trace.Outcome)
	assert.Contains(t, trace.Error, "network down")
	assert.Equal(t, int64(1), s.CyclesCompleted())

	history := s.Bus().History()
	require.Len(t, history, 1)
	assert.Equal(t, chat.KindFailure, history[0].Kind)
	assert.Contains(t, history[0].Body, "failed: ")

	d, err := reg.Get("A")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusError, d.Status)
}

func TestStep_ReportedFailureCountsAsFailure(t *testing.T) {
	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.RegisterFunc("critic", 1, fixtures.Reject("draft too thin")))
	s := newTestScheduler(t, reg)

	trace := step(t, s)
	assert.Equal(t, OutcomeFailed, trace.Outcome)
	assert.Equal(t, "draft too thin", trace.Message)
	assert.Contains(t, trace.Error, "reported failure")
	assert.Equal(t, 1, s.State().RecentFailures)
}

func TestStep_PanicCountsAsFailure(t *testing.T) {
	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.RegisterFunc("A", 1, func(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
		panic("nil map")
	}))
	s := newTestScheduler(t, reg)

	trace := step(t, s)
	assert.Equal(t, OutcomeFailed, trace.Outcome)
	assert.Contains(t, trace.Error, "panicked")
	assert.Equal(t, 1, s.State().RecentFailures)
}

func TestStep_HandlerTimeout(t *testing.T) {
	reg := agent.NewRegistry(nil)
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, reg.RegisterFunc("slow", 1, func(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
		<-release
		return agent.Succeeded("late"), nil
	}))
	s := newTestScheduler(t, reg)

	cfg := testConfig()
	cfg.HandlerTimeout = 20 * time.Millisecond
	require.NoError(t, s.Configure(cfg))

	start := time.Now()
	trace := step(t, s)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, OutcomeFailed, trace.Outcome)
	assert.Contains(t, trace.Error, "exceeded")
}

func TestStep_TimedOutHandlerIsNotRescheduled(t *testing.T) {
	reg := agent.NewRegistry(nil)
	var current, peak atomic.Int32
	release := make(chan struct{})
	require.NoError(t, reg.RegisterFunc("A", 1, func(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-release:
		case <-time.After(200 * time.Millisecond): // ignores ctx
		}
		return agent.Succeeded("done"), nil
	}))
	s := newTestScheduler(t, reg)

	cfg := testConfig()
	cfg.HandlerTimeout = 10 * time.Millisecond
	require.NoError(t, s.Configure(cfg))

	first := step(t, s)
	assert.Equal(t, OutcomeFailed, first.Outcome)
	assert.Contains(t, first.Error, "exceeded")

	for range 2 {
		trace := step(t, s)
		assert.Equal(t, OutcomeSkipped, trace.Outcome)
		assert.Equal(t, selection.ReasonAllBusy, trace.Reason)
		assert.Empty(t, trace.Handler)
	}

	close(release)
	testutil.WaitClosed(t, reg.Idle(), 2*time.Second)
	assert.Equal(t, int32(1), peak.Load())

	after := step(t, s)
	assert.Equal(t, OutcomeSuccess, after.Outcome)
	assert.Equal(t, "A", after.Handler)
	assert.Equal(t, int64(4), s.CyclesCompleted())
}

func TestStep_TraceHistoryIsBounded(t *testing.T) {
	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.RegisterFunc("A", 1, fixtures.Succeed("ok")))
	s := newTestScheduler(t, reg)

	cfg := testConfig()
	cfg.TraceHistory = 2
	cfg.ChatHistoryCap = 3
	require.NoError(t, s.Configure(cfg))

	for range 5 {
		step(t, s)
	}
	traces := s.Traces(0)
	require.Len(t, traces, 2)
	assert.Equal(t, int64(4), traces[0].CycleNumber)
	assert.Equal(t, int64(5), traces[1].CycleNumber)
	assert.Len(t, s.Traces(1), 1)
	assert.Equal(t, 3, s.Bus().Len())
	assert.Equal(t, int64(5), s.CyclesCompleted())
}

// --- 恢复模式 ---

func TestStep_EntersRecoveryAfterRepeatedFailures(t *testing.T) {
	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.RegisterFunc("flaky", 1, fixtures.Fail("boom")))
	s := newTestScheduler(t, reg)

	for i := 1; i <= 3; i++ {
		trace := step(t, s)
		assert.False(t, trace.Recovery, "cycle %d", i)
		assert.Equal(t, selection.ReasonWeighted, trace.Reason)
	}
	require.True(t, s.RecoveryMode())

	// 没有稳定 handler 时退回第一个注册的 handler，循环继续
	trace := step(t, s)
	assert.True(t, trace.Recovery)
	assert.Equal(t, selection.ReasonRecoveryFallback, trace.Reason)
	assert.Equal(t, "flaky", trace.Handler)
	assert.Equal(t, OutcomeFailed, trace.Outcome)
	assert.True(t, s.RecoveryMode())
	assert.Equal(t, int64(4), s.CyclesCompleted())
}

func TestStep_RecoveryPicksStableHandlerAndClears(t *testing.T) {
	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.RegisterFunc("flaky", 1, fixtures.Fail("boom")))
	require.NoError(t, reg.RegisterFunc("stable", 5, fixtures.Succeed("steady")))
	s := newTestScheduler(t, reg, WithSource(firstSlot()))

	for range 3 {
		trace := step(t, s)
		require.Equal(t, "flaky", trace.Handler)
	}
	require.True(t, s.RecoveryMode())

	trace := step(t, s)
	assert.Equal(t, "stable", trace.Handler)
	assert.Equal(t, selection.ReasonRecovery, trace.Reason)
	assert.Equal(t, OutcomeSuccess, trace.Outcome)

	state := s.State()
	assert.False(t, state.RecoveryMode)
	assert.Zero(t, state.RecentFailures)

	trace = step(t, s)
	assert.Equal(t, "flaky", trace.Handler)
	assert.False(t, trace.Recovery)
}

func TestStep_FailuresOutsideWindowDoNotTriggerRecovery(t *testing.T) {
	clock := newFakeClock(time.UnixMilli(10_000))
	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.RegisterFunc("flaky", 1, fixtures.Fail("boom")))
	s := newTestScheduler(t, reg, WithClock(clock.Now))

	cfg := testConfig()
	cfg.FailureWindow = time.Minute
	require.NoError(t, s.Configure(cfg))

	step(t, s)
	step(t, s)
	clock.Advance(2 * time.Minute)
	step(t, s)

	assert.False(t, s.RecoveryMode())
	assert.Equal(t, 1, s.State().RecentFailures)
}

func TestStep_RecoveryIgnoresGoals(t *testing.T) {
	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.RegisterFunc("planner", 1, fixtures.Succeed("planned")))
	require.NoError(t, reg.RegisterFunc("stable", 5, fixtures.Succeed("steady")))
	s := newTestScheduler(t, reg, WithSource(firstSlot()))

	_, err := s.SetGoal("plan the launch", 5)
	require.NoError(t, err)

	s.mu.Lock()
	s.recoveryMode = true
	s.mu.Unlock()

	trace := step(t, s)
	assert.Equal(t, "stable", trace.Handler)
	assert.Equal(t, selection.ReasonRecovery, trace.Reason)
	assert.Empty(t, trace.Goal)

	active := s.Goals().Active()
	require.Len(t, active, 1)
	assert.Zero(t, active[0].Progress)
}

// --- 目标 ---

func TestStep_GoalRoutingAndProgress(t *testing.T) {
	reg := agent.NewRegistry(nil)
	var seenGoal string
	require.NoError(t, reg.RegisterFunc("planner", 1, func(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
		seenGoal = in.String(agent.InputGoal)
		return agent.Succeeded("planned"), nil
	}))
	require.NoError(t, reg.RegisterFunc("writer", 1, fixtures.Succeed("wrote")))
	s := newTestScheduler(t, reg, WithSource(lastSlot()))

	_, err := s.SetGoal("Plan the launch", 5)
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		trace := step(t, s)
		assert.Equal(t, "planner", trace.Handler)
		assert.Equal(t, selection.ReasonGoal, trace.Reason)
		assert.Equal(t, "Plan the launch", trace.Goal)
		assert.Equal(t, i*DefaultGoalProgressStep, trace.GoalProgress)
	}
	assert.Equal(t, "Plan the launch", seenGoal)

	list := s.Goals().List()
	require.Len(t, list, 1)
	assert.Equal(t, goals.StatusCompleted, list[0].Status)

	// 目标完成后回到加权随机
	trace := step(t, s)
	assert.Equal(t, selection.ReasonWeighted, trace.Reason)
	assert.Equal(t, "writer", trace.Handler)
}

func TestStep_HandlerReportedGoalProgress(t *testing.T) {
	for name, value := range map[string]any{
		"int":     100,
		"int64":   int64(100),
		"float64": float64(100),
	} {
		t.Run(name, func(t *testing.T) {
			reg := agent.NewRegistry(nil)
			require.NoError(t, reg.RegisterFunc("researcher", 1, func(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
				return agent.Succeeded("found it").WithData(DataGoalProgress, value), nil
			}))
			s := newTestScheduler(t, reg)
			_, err := s.SetGoal("research caching", 3)
			require.NoError(t, err)

			trace := step(t, s)
			assert.Equal(t, 100, trace.GoalProgress)
			assert.Empty(t, s.Goals().Active())
		})
	}
}

func TestStep_ExecutionContextCarriesGoalAndCycle(t *testing.T) {
	h := mocks.NewMockHandler("researcher")
	h.On("Execute", mock.Anything, mock.MatchedBy(func(in *agent.ExecutionContext) bool {
		return in.String(agent.InputGoal) == "research caching" && in.Input[agent.InputCycle] == int64(1)
	})).Return(agent.Succeeded("found it"), nil).Once()

	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.Register(h, 1))
	s := newTestScheduler(t, reg)
	_, err := s.SetGoal("research caching", 3)
	require.NoError(t, err)

	trace := step(t, s)
	assert.Equal(t, OutcomeSuccess, trace.Outcome)
	assert.Equal(t, DefaultGoalProgressStep, trace.GoalProgress)
	h.AssertExpectations(t)
}

func TestStep_PartialReportedProgressKeepsGoalActive(t *testing.T) {
	reg := fixtures.Registry(t, fixtures.Entry{Name: "researcher", Weight: 1, Fn: fixtures.Progress(40)})
	s := newTestScheduler(t, reg)
	_, err := s.SetGoal("research caching", 3)
	require.NoError(t, err)

	trace := step(t, s)
	assert.Equal(t, 40, trace.GoalProgress)
	active := s.Goals().Active()
	require.Len(t, active, 1)
	assert.Equal(t, 40, active[0].Progress)
}

func TestStep_FailedPrimaryDoesNotAdvanceGoal(t *testing.T) {
	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.RegisterFunc("reviewer", 1, fixtures.Fail("lint errors")))
	s := newTestScheduler(t, reg)
	_, err := s.SetGoal("review the diff", 3)
	require.NoError(t, err)

	trace := step(t, s)
	assert.Equal(t, OutcomeFailed, trace.Outcome)
	assert.Equal(t, "review the diff", trace.Goal)
	assert.Zero(t, trace.GoalProgress)

	active := s.Goals().Active()
	require.Len(t, active, 1)
	assert.Zero(t, active[0].Progress)
}

// --- 交接 ---

func TestStep_HandoffHonoursCooldown(t *testing.T) {
	clock := newFakeClock(time.UnixMilli(10_000))
	reg := agent.NewRegistry(nil)
	var gotPrevious any
	require.NoError(t, reg.RegisterFunc("A", 1, fixtures.HandOff("a-done", "B")))
	require.NoError(t, reg.RegisterFunc("B", 1, func(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
		gotPrevious = in.Input[agent.InputPreviousOutput]
		return agent.Succeeded("b-done"), nil
	}))
	store := persistence.NewMemoryStore()
	s := newTestScheduler(t, reg, WithSource(firstSlot()), WithClock(clock.Now), WithStore(store))

	trace := step(t, s)
	assert.Equal(t, "A", trace.Handler)
	assert.Equal(t, "B", trace.HandoffTarget)
	assert.Equal(t, string(handoff.StatusCompleted), trace.HandoffOutcome)
	assert.Equal(t, "a-done", gotPrevious)
	assert.True(t, clock.Now().Equal(s.State().LastHandoffAt))

	msg := s.Bus().History()[0]
	assert.Equal(t, chat.KindHandoff, msg.Kind)
	assert.Equal(t, "a-done (handed off to B: b-done)", msg.Body)

	persisted, found := storedJSON[time.Time](t, store, persistence.KeyLastHandoffAt)
	require.True(t, found)
	assert.True(t, clock.Now().Equal(persisted))

	// 冷却期内不交接
	trace = step(t, s)
	assert.Empty(t, trace.HandoffTarget)
	clock.Advance(5 * time.Second)
	trace = step(t, s)
	assert.Empty(t, trace.HandoffTarget)

	clock.Advance(time.Millisecond)
	trace = step(t, s)
	assert.Equal(t, "B", trace.HandoffTarget)
	assert.Len(t, s.Handoffs(0), 2)
}

func TestStep_FailedHandoffFailsCycle(t *testing.T) {
	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.RegisterFunc("A", 1, fixtures.HandOff("a-done", "B")))
	require.NoError(t, reg.RegisterFunc("B", 1, fixtures.Fail("b exploded")))
	s := newTestScheduler(t, reg, WithSource(firstSlot()))

	trace := step(t, s)
	assert.Equal(t, OutcomeFailed, trace.Outcome)
	assert.Equal(t, string(handoff.StatusFailed), trace.HandoffOutcome)
	assert.Contains(t, trace.Error, "hand-off A -> B")
	assert.Equal(t, 1, s.State().RecentFailures)
	assert.Equal(t, chat.KindFailure, s.Bus().History()[0].Kind)
}

func TestStep_RejectedHandoffKeepsClock(t *testing.T) {
	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.RegisterFunc("A", 1, fixtures.HandOff("a-done", "B")))
	target := mocks.NewMockAcceptor("B")
	target.On("AcceptHandoff", mock.Anything, mock.MatchedBy(func(req *agent.HandoffRequest) bool {
		return req.From == "A" && req.To == "B" && req.Result != nil && req.Result.Message == "a-done"
	})).Return(errors.New("busy"))
	require.NoError(t, reg.Register(target, 1))
	s := newTestScheduler(t, reg, WithSource(firstSlot()))

	trace := step(t, s)
	assert.Equal(t, OutcomeSuccess, trace.Outcome)
	assert.Equal(t, string(handoff.StatusRejected), trace.HandoffOutcome)
	assert.True(t, s.State().LastHandoffAt.IsZero())
	assert.Equal(t, chat.KindSuccess, s.Bus().History()[0].Kind)
	target.AssertExpectations(t)
	target.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestStep_RecoveryGuardBlocksUnstableHandoff(t *testing.T) {
	tests := []struct {
		name         string
		targetWeight int
		wantHandoff  bool
	}{
		{name: "unstable target refused", targetWeight: 1, wantHandoff: false},
		{name: "stable target allowed", targetWeight: 3, wantHandoff: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := agent.NewRegistry(nil)
			require.NoError(t, reg.RegisterFunc("A", 5, fixtures.HandOff("a-done", "B")))
			require.NoError(t, reg.RegisterFunc("B", tt.targetWeight, fixtures.Succeed("b-done")))
			s := newTestScheduler(t, reg, WithSource(firstSlot()))

			s.mu.Lock()
			s.recoveryMode = true
			s.mu.Unlock()

			trace := step(t, s)
			assert.Equal(t, "A", trace.Handler)
			assert.Equal(t, OutcomeSuccess, trace.Outcome)
			if tt.wantHandoff {
				assert.Equal(t, "B", trace.HandoffTarget)
			} else {
				assert.Empty(t, trace.HandoffTarget)
			}
			assert.False(t, s.RecoveryMode())
		})
	}
}

func TestCycleMessage(t *testing.T) {
	trace := CycleTrace{Handler: "A", CycleNumber: 3, Outcome: OutcomeSuccess}
	msg := cycleMessage(trace, nil)
	assert.Equal(t, "completed", msg.Body)
	assert.Equal(t, chat.KindSuccess, msg.Kind)

	rejected := &handoff.Handoff{To: "B", Status: handoff.StatusRejected}
	msg = cycleMessage(trace, rejected)
	assert.Equal(t, chat.KindSuccess, msg.Kind)

	trace.Outcome = OutcomeFailed
	trace.Error = "boom"
	msg = cycleMessage(trace, &handoff.Handoff{To: "B", Status: handoff.StatusFailed})
	assert.Equal(t, chat.KindFailure, msg.Kind)
	assert.Equal(t, "failed: boom", msg.Body)
}
