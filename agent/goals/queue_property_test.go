package goals

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// NextActive always returns the highest priority, earliest enqueued goal.
func TestProperty_NextActiveOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("next active goal is max priority, earliest first", prop.ForAll(
		func(priorities []int) bool {
			q := NewQueue(nil)
			bestIdx := -1
			for i, p := range priorities {
				if _, err := q.Enqueue(Goal{Text: "goal", Priority: p}); err != nil {
					return false
				}
				if bestIdx < 0 || p > priorities[bestIdx] {
					bestIdx = i
				}
			}

			next, ok := q.NextActive()
			if len(priorities) == 0 {
				return !ok
			}
			return ok && next.Priority == priorities[bestIdx] && next.Seq == uint64(bestIdx+1)
		},
		gen.SliceOf(gen.IntRange(MinPriority, MaxPriority)),
	))

	properties.Property("list is sorted by priority desc then creation asc", prop.ForAll(
		func(priorities []int) bool {
			q := NewQueue(nil)
			for _, p := range priorities {
				_, _ = q.Add("g", p)
			}
			list := q.List()
			for i := 1; i < len(list); i++ {
				a, b := list[i-1], list[i]
				if a.Priority < b.Priority || (a.Priority == b.Priority && a.Seq > b.Seq) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(MinPriority, MaxPriority)),
	))

	properties.TestingRun(t)
}
