package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/agent/persistence"
	"github.com/BaSui01/agentloop/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- 测试辅助 ---

// indexSource always draws pick(n).
type indexSource struct {
	pick func(n int) int
}

func (s indexSource) Intn(n int) int { return s.pick(n) }

func firstSlot() indexSource { return indexSource{pick: func(int) int { return 0 }} }
func lastSlot() indexSource  { return indexSource{pick: func(n int) int { return n - 1 }} }

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LoopDelay = 2 * time.Millisecond
	return cfg
}

func newTestScheduler(t *testing.T, reg *agent.Registry, opts ...Option) *Scheduler {
	t.Helper()
	s := NewScheduler(reg, zap.NewNop(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func waitDone(t *testing.T, s *Scheduler) {
	t.Helper()
	testutil.WaitClosed(t, s.Done(), 3*time.Second)
}

func storedJSON[T any](t *testing.T, store persistence.StateStore, key string) (T, bool) {
	t.Helper()
	var v T
	found, err := persistence.GetJSON(context.Background(), store, key, &v)
	require.NoError(t, err)
	return v, found
}
