package orchestrator

import "time"

// failureWindow counts failures inside a rolling time window.
// It is not safe for concurrent use; the scheduler guards it.
type failureWindow struct {
	window time.Duration
	times  []time.Time
}

func newFailureWindow(window time.Duration) *failureWindow {
	return &failureWindow{window: window}
}

// record adds a failure at now and returns the number inside the window.
func (w *failureWindow) record(now time.Time) int {
	w.times = append(w.times, now)
	return w.count(now)
}

// count drops expired entries and returns what remains.
func (w *failureWindow) count(now time.Time) int {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
	return len(w.times)
}

func (w *failureWindow) clear() {
	w.times = w.times[:0]
}

func (w *failureWindow) setWindow(d time.Duration) {
	w.window = d
}
