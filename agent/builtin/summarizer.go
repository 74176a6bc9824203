package builtin

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/agent/chat"
	"go.uber.org/zap"
)

// DefaultSummaryWindow is how many recent chat messages a summary covers.
const DefaultSummaryWindow = 10

// Summarizer condenses the recent chat history into one line.
type Summarizer struct {
	bus    *chat.Bus
	window int
	logger *zap.Logger
}

// NewSummarizer creates a summarizer reading from bus.
func NewSummarizer(bus *chat.Bus, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{
		bus:    bus,
		window: DefaultSummaryWindow,
		logger: logger.With(zap.String("component", "builtin_summarizer")),
	}
}

// Name implements agent.Handler.
func (s *Summarizer) Name() string { return NameSummarizer }

type sourceTally struct {
	source string
	ok     int
	failed int
}

// Execute implements agent.Handler.
func (s *Summarizer) Execute(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	if s.bus == nil {
		return nil, fmt.Errorf("summarizer has no chat bus")
	}

	var recent []chat.Message
	for _, m := range s.bus.Recent(s.window) {
		if m.Source != NameSummarizer {
			recent = append(recent, m)
		}
	}

	prefix := ""
	if prev := in.String(agent.InputPreviousOutput); prev != "" {
		prefix = fmt.Sprintf("after %s: ", in.String(agent.InputSourceHandler))
	}
	if len(recent) == 0 {
		return agent.Succeeded(prefix + "nothing to summarize"), nil
	}

	summary := prefix + Summarize(recent)
	s.logger.Debug("history summarized", zap.Int("messages", len(recent)))
	return agent.Succeeded(summary).WithData("messages", len(recent)), nil
}

// Summarize reports message counts per source, most active first.
func Summarize(msgs []chat.Message) string {
	bySource := make(map[string]*sourceTally)
	for _, m := range msgs {
		t, ok := bySource[m.Source]
		if !ok {
			t = &sourceTally{source: m.Source}
			bySource[m.Source] = t
		}
		if m.Kind == chat.KindFailure {
			t.failed++
		} else {
			t.ok++
		}
	}

	tallies := make([]*sourceTally, 0, len(bySource))
	for _, t := range bySource {
		tallies = append(tallies, t)
	}
	slices.SortFunc(tallies, func(a, b *sourceTally) int {
		if d := (b.ok + b.failed) - (a.ok + a.failed); d != 0 {
			return d
		}
		return strings.Compare(a.source, b.source)
	})

	parts := make([]string, 0, len(tallies))
	for _, t := range tallies {
		parts = append(parts, fmt.Sprintf("%s %d ok/%d failed", t.source, t.ok, t.failed))
	}
	return fmt.Sprintf("%d messages from %d sources: %s", len(msgs), len(tallies), strings.Join(parts, ", "))
}
