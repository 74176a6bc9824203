package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/agent/persistence"
	"go.uber.org/zap"
)

// maxNoteEntries bounds the entries kept per research note.
const maxNoteEntries = 20

// Note is the research record kept in the state store under
// persistence.NoteKey(NameResearcher + ":" + topic).
type Note struct {
	Topic     string      `json:"topic"`
	Entries   []NoteEntry `json:"entries"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NoteEntry is one finding.
type NoteEntry struct {
	Cycle      int64     `json:"cycle,omitempty"`
	Finding    string    `json:"finding"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Researcher records a finding about the current topic in the state store
// and hints the summarizer.
type Researcher struct {
	store  persistence.StateStore
	now    func() time.Time
	logger *zap.Logger
}

// NewResearcher creates a researcher writing to store.
func NewResearcher(store persistence.StateStore, logger *zap.Logger) *Researcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Researcher{
		store:  store,
		now:    time.Now,
		logger: logger.With(zap.String("component", "builtin_researcher")),
	}
}

// Name implements agent.Handler.
func (r *Researcher) Name() string { return NameResearcher }

// NoteKey returns the state store key of the note on topic.
func NoteKey(topic string) string {
	return persistence.NoteKey(NameResearcher + ":" + strings.ToLower(strings.TrimSpace(topic)))
}

// Execute implements agent.Handler.
func (r *Researcher) Execute(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	if r.store == nil {
		return nil, fmt.Errorf("researcher has no state store")
	}

	topic := researchTopic(in)
	var cycle int64
	if c, ok := in.Input[agent.InputCycle].(int64); ok {
		cycle = c
	}

	key := NoteKey(topic)
	var note Note
	if _, err := persistence.GetJSON(ctx, r.store, key, &note); err != nil {
		return nil, fmt.Errorf("load note %s: %w", key, err)
	}

	now := r.now()
	finding := fmt.Sprintf("finding #%d on %s", len(note.Entries)+1, topic)
	if prev := in.String(agent.InputPreviousOutput); prev != "" {
		finding = fmt.Sprintf("%s (following up on %q)", finding, prev)
	}
	note.Topic = topic
	note.Entries = append(note.Entries, NoteEntry{Cycle: cycle, Finding: finding, RecordedAt: now})
	if over := len(note.Entries) - maxNoteEntries; over > 0 {
		note.Entries = append([]NoteEntry(nil), note.Entries[over:]...)
	}
	note.UpdatedAt = now

	if err := persistence.PutJSON(ctx, r.store, key, note); err != nil {
		return nil, fmt.Errorf("save note %s: %w", key, err)
	}

	r.logger.Debug("note recorded",
		zap.String("topic", topic),
		zap.Int("entries", len(note.Entries)),
	)
	return agent.Succeeded(fmt.Sprintf("recorded %s", finding)).
		WithHint(NameSummarizer).
		WithData("note_key", key), nil
}

// researchTopic derives the topic from the goal, the hand-off source or
// falls back to "general".
func researchTopic(in *agent.ExecutionContext) string {
	if goal := strings.TrimSpace(in.String(agent.InputGoal)); goal != "" {
		lower := strings.ToLower(goal)
		for _, prefix := range []string{"research ", "investigate "} {
			if strings.HasPrefix(lower, prefix) {
				return strings.TrimSpace(goal[len(prefix):])
			}
		}
		return goal
	}
	if src := in.String(agent.InputSourceHandler); src != "" {
		return src + " output"
	}
	return "general"
}
