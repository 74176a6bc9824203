package goals

import (
	"testing"
	"time"

	"github.com/BaSui01/agentloop/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQueue_OrderByPriorityThenCreation(t *testing.T) {
	q := NewQueue(zap.NewNop())

	_, err := q.Add("low", 2)
	require.NoError(t, err)
	_, err = q.Add("high-first", 9)
	require.NoError(t, err)
	_, err = q.Add("high-second", 9)
	require.NoError(t, err)

	next, ok := q.NextActive()
	require.True(t, ok)
	assert.Equal(t, "high-first", next.Text)

	var texts []string
	for _, g := range q.List() {
		texts = append(texts, g.Text)
	}
	assert.Equal(t, []string{"high-first", "high-second", "low"}, texts)
}

func TestQueue_TiesOrderByCreatedAt(t *testing.T) {
	q := NewQueue(nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := q.Enqueue(Goal{Text: "enqueued first", Priority: 5, CreatedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = q.Enqueue(Goal{Text: "created first", Priority: 5, CreatedAt: base})
	require.NoError(t, err)
	_, err = q.Enqueue(Goal{Text: "same instant", Priority: 5, CreatedAt: base})
	require.NoError(t, err)

	var texts []string
	for _, g := range q.List() {
		texts = append(texts, g.Text)
	}
	assert.Equal(t, []string{"created first", "same instant", "enqueued first"}, texts)

	next, ok := q.NextActive()
	require.True(t, ok)
	assert.Equal(t, "created first", next.Text)
}

func TestQueue_EnqueueValidation(t *testing.T) {
	q := NewQueue(nil)

	tests := []Goal{
		{Text: "   ", Priority: 5},
		{Text: "x", Priority: 0},
		{Text: "x", Priority: 11},
		{Text: "x", Priority: 5, Progress: 101},
	}
	for _, g := range tests {
		_, err := q.Enqueue(g)
		assert.True(t, types.IsCode(err, types.ErrInvalidGoal), "goal %+v", g)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_EnqueueFillsDefaults(t *testing.T) {
	q := NewQueue(nil)

	g, err := q.Enqueue(Goal{Text: "  research rust  ", Priority: 4})
	require.NoError(t, err)
	assert.NotEmpty(t, g.ID)
	assert.Equal(t, "research rust", g.Text)
	assert.Equal(t, StatusActive, g.Status)
	assert.False(t, g.CreatedAt.IsZero())
}

func TestQueue_CompleteAndNextActive(t *testing.T) {
	q := NewQueue(nil)
	_, _ = q.Add("a", 5)
	_, _ = q.Add("b", 3)

	require.NoError(t, q.Complete("a"))

	next, ok := q.NextActive()
	require.True(t, ok)
	assert.Equal(t, "b", next.Text)

	err := q.Complete("a")
	assert.True(t, types.IsCode(err, types.ErrGoalNotFound), "completed goals are not active")

	require.NoError(t, q.Complete("b"))
	_, ok = q.NextActive()
	assert.False(t, ok)
}

func TestQueue_ProgressIsMonotonic(t *testing.T) {
	q := NewQueue(nil)
	_, _ = q.Add("ship", 5)

	g, err := q.SetProgress("ship", 40)
	require.NoError(t, err)
	assert.Equal(t, 40, g.Progress)

	g, err = q.SetProgress("ship", 10)
	require.NoError(t, err)
	assert.Equal(t, 40, g.Progress, "progress must not decrease")

	g, err = q.Advance("ship", -30)
	require.NoError(t, err)
	assert.Equal(t, 40, g.Progress)

	g, err = q.Advance("ship", 75)
	require.NoError(t, err)
	assert.Equal(t, 100, g.Progress)
	assert.Equal(t, StatusCompleted, g.Status)
	assert.NotNil(t, g.CompletedAt)
}

func TestQueue_RestoreKeepsOrderAndSequence(t *testing.T) {
	q := NewQueue(nil)
	q.Restore([]Goal{
		{ID: "1", Text: "later", Priority: 5, Status: StatusActive, Seq: 7},
		{ID: "2", Text: "earlier", Priority: 5, Status: StatusActive, Seq: 3},
		{ID: "3", Text: "", Priority: 5, Seq: 9},
	})

	require.Equal(t, 2, q.Len())
	next, _ := q.NextActive()
	assert.Equal(t, "earlier", next.Text)

	g, err := q.Add("newest", 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), g.Seq)
}

func TestQueue_PruneCompleted(t *testing.T) {
	q := NewQueue(nil)
	_, _ = q.Add("a", 1)
	_, _ = q.Add("b", 1)
	require.NoError(t, q.Complete("a"))

	assert.Equal(t, 1, q.PruneCompleted())
	assert.Len(t, q.Active(), 1)
}
