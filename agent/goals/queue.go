// Package goals provides the priority-ordered backlog of pending goals that
// drives directed (non-random) handler selection.
package goals

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentloop/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a goal.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Priority bounds.
const (
	MinPriority = 1
	MaxPriority = 10
)

// Goal is a pending piece of directed work.
type Goal struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	Priority    int        `json:"priority"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Seq         uint64     `json:"seq"`
}

// Queue keeps goals ordered by descending priority, ties broken by
// creation order.
type Queue struct {
	mu     sync.RWMutex
	goals  []*Goal
	seq    uint64
	now    func() time.Time
	logger *zap.Logger
}

// NewQueue creates an empty queue.
func NewQueue(logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		now:    time.Now,
		logger: logger.With(zap.String("component", "goal_queue")),
	}
}

// Enqueue validates g and inserts it. Zero-valued status, ID and CreatedAt
// are filled in.
func (q *Queue) Enqueue(g Goal) (*Goal, error) {
	g.Text = strings.TrimSpace(g.Text)
	if g.Text == "" {
		return nil, types.NewError(types.ErrInvalidGoal, "goal text is empty")
	}
	if g.Priority < MinPriority || g.Priority > MaxPriority {
		return nil, types.NewError(types.ErrInvalidGoal,
			fmt.Sprintf("priority %d outside [%d, %d]", g.Priority, MinPriority, MaxPriority))
	}
	if g.Progress < 0 || g.Progress > 100 {
		return nil, types.NewError(types.ErrInvalidGoal,
			fmt.Sprintf("progress %d outside [0, 100]", g.Progress))
	}
	if g.Status == "" {
		g.Status = StatusActive
	}
	if g.Progress == 100 {
		g.Status = StatusCompleted
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = q.now()
	}
	q.seq++
	g.Seq = q.seq

	stored := g
	q.goals = append(q.goals, &stored)
	q.sortLocked()

	q.logger.Info("goal enqueued",
		zap.String("id", g.ID),
		zap.String("text", g.Text),
		zap.Int("priority", g.Priority),
	)
	out := stored
	return &out, nil
}

// Add is shorthand for Enqueue(Goal{Text: text, Priority: priority}).
func (q *Queue) Add(text string, priority int) (*Goal, error) {
	return q.Enqueue(Goal{Text: text, Priority: priority})
}

// NextActive returns the highest-priority active goal.
func (q *Queue) NextActive() (*Goal, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, g := range q.goals {
		if g.Status == StatusActive {
			out := *g
			return &out, true
		}
	}
	return nil, false
}

// Complete marks the first active goal with the given text as completed.
func (q *Queue) Complete(text string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	g := q.findActiveLocked(text)
	if g == nil {
		return goalNotFound(text)
	}
	q.completeLocked(g)
	return nil
}

// Advance adds delta percent to the first active goal with the given text.
// Progress never decreases; reaching 100 completes the goal.
func (q *Queue) Advance(text string, delta int) (*Goal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	g := q.findActiveLocked(text)
	if g == nil {
		return nil, goalNotFound(text)
	}
	if delta > 0 {
		g.Progress = min(100, g.Progress+delta)
	}
	if g.Progress >= 100 {
		q.completeLocked(g)
	}
	out := *g
	return &out, nil
}

// SetProgress raises the progress of the first active goal with the given
// text. Lower values are ignored.
func (q *Queue) SetProgress(text string, percent int) (*Goal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	g := q.findActiveLocked(text)
	if g == nil {
		return nil, goalNotFound(text)
	}
	percent = max(0, min(100, percent))
	if percent > g.Progress {
		g.Progress = percent
	}
	if g.Progress >= 100 {
		q.completeLocked(g)
	}
	out := *g
	return &out, nil
}

// List returns every goal in queue order.
func (q *Queue) List() []Goal {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Goal, 0, len(q.goals))
	for _, g := range q.goals {
		out = append(out, *g)
	}
	return out
}

// Active returns the active goals in queue order.
func (q *Queue) Active() []Goal {
	var out []Goal
	for _, g := range q.List() {
		if g.Status == StatusActive {
			out = append(out, g)
		}
	}
	return out
}

// Len returns the total number of goals, completed ones included.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.goals)
}

// Restore replaces the queue contents, e.g. with goals loaded from the
// state store. Invalid entries are skipped.
func (q *Queue) Restore(goals []Goal) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.goals = q.goals[:0]
	q.seq = 0
	for _, g := range goals {
		if strings.TrimSpace(g.Text) == "" || g.Priority < MinPriority || g.Priority > MaxPriority {
			q.logger.Warn("skipping invalid persisted goal", zap.String("id", g.ID))
			continue
		}
		stored := g
		q.goals = append(q.goals, &stored)
		q.seq = max(q.seq, g.Seq)
	}
	q.sortLocked()
}

// PruneCompleted drops completed goals and returns how many were removed.
func (q *Queue) PruneCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.goals[:0]
	for _, g := range q.goals {
		if g.Status != StatusCompleted {
			kept = append(kept, g)
		}
	}
	removed := len(q.goals) - len(kept)
	q.goals = kept
	return removed
}

func (q *Queue) findActiveLocked(text string) *Goal {
	text = strings.TrimSpace(text)
	for _, g := range q.goals {
		if g.Status == StatusActive && g.Text == text {
			return g
		}
	}
	return nil
}

func (q *Queue) completeLocked(g *Goal) {
	now := q.now()
	g.Status = StatusCompleted
	g.Progress = 100
	g.CompletedAt = &now
	q.logger.Info("goal completed", zap.String("id", g.ID), zap.String("text", g.Text))
}

func (q *Queue) sortLocked() {
	slices.SortStableFunc(q.goals, func(a, b *Goal) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		// 同一时刻创建的按入队顺序
		return cmp.Compare(a.Seq, b.Seq)
	})
}

func goalNotFound(text string) error {
	return types.NewError(types.ErrGoalNotFound, fmt.Sprintf("no active goal %q", text))
}
