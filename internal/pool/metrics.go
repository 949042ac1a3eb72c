package pool

import (
	"sync"
	"time"
)

// Metrics is a point-in-time snapshot, safe to poll concurrently.
type Metrics struct {
	ActiveWorkers         int
	QueueLength           int
	TotalProcessed        int64
	TotalFailed           int64
	CurrentThroughput     float64 // completions per second over the window
	AverageProcessingTime time.Duration
}

// completionWindow tracks recent completions for throughput and average
// processing time.
type completionWindow struct {
	mu     sync.Mutex
	span   time.Duration
	events []completion
}

type completion struct {
	at time.Time
	d  time.Duration
}

func newCompletionWindow(span time.Duration) *completionWindow {
	if span <= 0 {
		span = 30 * time.Second
	}
	return &completionWindow{span: span}
}

func (w *completionWindow) record(d time.Duration) {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, completion{at: now, d: d})
	w.trim(now)
}

func (w *completionWindow) trim(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.events) && w.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

// snapshot returns throughput and mean processing time over the window.
func (w *completionWindow) snapshot() (float64, time.Duration) {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trim(now)

	if len(w.events) == 0 {
		return 0, 0
	}
	var total time.Duration
	for _, e := range w.events {
		total += e.d
	}
	throughput := float64(len(w.events)) / w.span.Seconds()
	return throughput, total / time.Duration(len(w.events))
}
