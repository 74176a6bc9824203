package selection

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/agent/goals"
	"github.com/BaSui01/agentloop/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSource always draws the same index and records the pool sizes it saw.
type fixedSource struct {
	idx   int
	sizes []int
}

func (f *fixedSource) Intn(n int) int {
	f.sizes = append(f.sizes, n)
	return f.idx
}

func newRegistry(t *testing.T, weights ...any) *agent.Registry {
	t.Helper()
	reg := agent.NewRegistry(nil)
	for i := 0; i < len(weights); i += 2 {
		name := weights[i].(string)
		w := weights[i+1].(int)
		require.NoError(t, reg.RegisterFunc(name, w, func(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
			return agent.Succeeded(name), nil
		}))
	}
	return reg
}

func TestSelectNext_WeightedPoolIndexZero(t *testing.T) {
	reg := newRegistry(t, "A", 5, "B", 1)
	src := &fixedSource{idx: 0}
	p := NewPolicy(DefaultConfig(), src, nil)

	sel := p.SelectNext(reg, false, nil)

	assert.Equal(t, "A", sel.Handler)
	assert.Equal(t, ReasonWeighted, sel.Reason)
	assert.False(t, sel.NoOp)
	assert.Nil(t, sel.Goal)
	assert.Equal(t, []int{6}, src.sizes)
}

func TestSelectNext_WeightedPoolLastSlot(t *testing.T) {
	reg := newRegistry(t, "A", 5, "B", 1)
	p := NewPolicy(DefaultConfig(), &fixedSource{idx: 5}, nil)

	assert.Equal(t, "B", p.SelectNext(reg, false, nil).Handler)
}

func TestSelectNext_RecoveryRestrictsToStable(t *testing.T) {
	reg := newRegistry(t, "A", 5, "B", 1)
	src := &fixedSource{idx: 0}
	p := NewPolicy(DefaultConfig(), src, nil)

	sel := p.SelectNext(reg, true, nil)

	assert.Equal(t, "A", sel.Handler)
	assert.Equal(t, ReasonRecovery, sel.Reason)
	// B is not part of the pool at all.
	assert.Equal(t, []int{5}, src.sizes)
}

func TestSelectNext_RecoveryFallbackIsFirstRegistered(t *testing.T) {
	reg := newRegistry(t, "low1", 1, "low2", 2)
	src := &fixedSource{idx: 1}
	p := NewPolicy(DefaultConfig(), src, nil)

	sel := p.SelectNext(reg, true, nil)

	assert.Equal(t, "low1", sel.Handler)
	assert.Equal(t, ReasonRecoveryFallback, sel.Reason)
	assert.Empty(t, src.sizes, "fallback must not consume randomness")
}

// abandon leaves name in flight until the returned func is called.
func abandon(t *testing.T, reg *agent.Registry, name string, weight int) func() {
	t.Helper()
	release := make(chan struct{})
	require.NoError(t, reg.RegisterFunc(name, weight, func(context.Context, *agent.ExecutionContext) (*agent.ExecutionResult, error) {
		<-release
		return agent.Succeeded(name), nil
	}))
	_, err := reg.Execute(context.Background(), name, agent.NewExecutionContext(""), time.Millisecond)
	require.ErrorIs(t, err, agent.ErrHandlerTimeout)
	return func() {
		close(release)
		testutil.WaitClosed(t, reg.Idle(), 2*time.Second)
	}
}

func TestSelectNext_SkipsInFlightHandlers(t *testing.T) {
	reg := newRegistry(t, "free", 1)
	done := abandon(t, reg, "researcher", 9)
	defer done()

	src := &fixedSource{idx: 0}
	p := NewPolicy(DefaultConfig(), src, nil)

	sel := p.SelectNext(reg, false, &goals.Goal{Text: "research the market", Priority: 5})
	assert.Equal(t, "free", sel.Handler)
	assert.Equal(t, ReasonWeighted, sel.Reason)
	assert.Equal(t, []int{1}, src.sizes)

	sel = p.SelectNext(reg, true, nil)
	assert.Equal(t, "free", sel.Handler)
	assert.Equal(t, ReasonRecoveryFallback, sel.Reason)
}

func TestSelectNext_AllInFlightIsNoOp(t *testing.T) {
	reg := agent.NewRegistry(nil)
	done := abandon(t, reg, "only", 3)

	sel := NewPolicy(DefaultConfig(), &fixedSource{}, nil).SelectNext(reg, false, nil)
	assert.True(t, sel.NoOp)
	assert.Equal(t, ReasonAllBusy, sel.Reason)

	done()
	sel = NewPolicy(DefaultConfig(), &fixedSource{}, nil).SelectNext(reg, false, nil)
	assert.Equal(t, "only", sel.Handler)
}

func TestSelectNext_RecoveryIgnoresGoal(t *testing.T) {
	reg := newRegistry(t, "researcher", 1, "planner", 4)
	p := NewPolicy(DefaultConfig(), &fixedSource{}, nil)
	g := &goals.Goal{Text: "research the market", Priority: 5}

	sel := p.SelectNext(reg, true, g)

	assert.Equal(t, "planner", sel.Handler)
	assert.Nil(t, sel.Goal)
}

func TestSelectNext_GoalKeywordRouting(t *testing.T) {
	reg := newRegistry(t, "planner", 1, "researcher", 1, "writer", 1)
	p := NewPolicy(DefaultConfig(), &fixedSource{}, nil)

	tests := []struct {
		goal string
		want string
	}{
		{"Research competitors", "researcher"},
		{"PLAN the launch", "planner"},
		{"write the announcement", "writer"},
		{"Document the API", "writer"},
		{"research and plan", "researcher"},
	}
	for _, tt := range tests {
		t.Run(tt.goal, func(t *testing.T) {
			g := &goals.Goal{ID: "g1", Text: tt.goal, Priority: 5}
			sel := p.SelectNext(reg, false, g)
			assert.Equal(t, tt.want, sel.Handler)
			assert.Equal(t, ReasonGoal, sel.Reason)
			require.NotNil(t, sel.Goal)
			assert.Equal(t, "g1", sel.Goal.ID)
		})
	}
}

func TestSelectNext_GoalRouteSkipsUnregisteredHandler(t *testing.T) {
	reg := newRegistry(t, "planner", 1)
	p := NewPolicy(DefaultConfig(), &fixedSource{}, nil)

	// "research" matches first, but no researcher exists; "plan" is next.
	sel := p.SelectNext(reg, false, &goals.Goal{Text: "research then plan", Priority: 3})
	assert.Equal(t, "planner", sel.Handler)
	assert.Equal(t, ReasonGoal, sel.Reason)
}

func TestSelectNext_GoalWithoutMatchFallsThrough(t *testing.T) {
	reg := newRegistry(t, "A", 2, "B", 2)
	p := NewPolicy(DefaultConfig(), &fixedSource{idx: 3}, nil)

	sel := p.SelectNext(reg, false, &goals.Goal{Text: "something else", Priority: 3})
	assert.Equal(t, "B", sel.Handler)
	assert.Equal(t, ReasonWeighted, sel.Reason)
	assert.Nil(t, sel.Goal)
}

func TestSelectNext_EmptyRegistry(t *testing.T) {
	p := NewPolicy(DefaultConfig(), &fixedSource{}, nil)

	for _, recovery := range []bool{false, true} {
		sel := p.SelectNext(agent.NewRegistry(nil), recovery, &goals.Goal{Text: "plan"})
		assert.True(t, sel.NoOp)
		assert.Equal(t, ReasonEmptyRegistry, sel.Reason)
		assert.Empty(t, sel.Handler)
	}
}

func TestSelectNext_CustomThreshold(t *testing.T) {
	reg := newRegistry(t, "A", 5, "B", 2)
	src := &fixedSource{idx: 0}
	p := NewPolicy(DefaultConfig(), src, nil)
	p.SetStableThreshold(2)

	p.SelectNext(reg, true, nil)
	assert.Equal(t, []int{7}, src.sizes)
	assert.Equal(t, 2, p.StableThreshold())

	p.SetStableThreshold(0)
	assert.Equal(t, DefaultStableThreshold, p.StableThreshold())
}

func TestNewSeeded_Deterministic(t *testing.T) {
	reg := newRegistry(t, "A", 3, "B", 2, "C", 1)
	p1 := NewSeeded(DefaultConfig(), 42, nil)
	p2 := NewSeeded(DefaultConfig(), 42, nil)

	for i := 0; i < 50; i++ {
		assert.Equal(t, p1.SelectNext(reg, false, nil).Handler, p2.SelectNext(reg, false, nil).Handler)
	}
}

func TestSelectNext_DistributionFollowsWeights(t *testing.T) {
	reg := newRegistry(t, "A", 9, "B", 1)
	p := NewSeeded(DefaultConfig(), 7, nil)

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		counts[p.SelectNext(reg, false, nil).Handler]++
	}
	assert.Greater(t, counts["A"], counts["B"]*4)
	assert.Positive(t, counts["B"])
}
