package server

import (
	"sync"
	"time"
)

// latencyWindow keeps /api/ask latencies for a sliding window and reports
// the average over the samples still inside it.
type latencyWindow struct {
	mu      sync.Mutex
	window  time.Duration
	entries []latencyEntry
}

type latencyEntry struct {
	ts      time.Time
	latency time.Duration
}

func newLatencyWindow(window time.Duration) *latencyWindow {
	return &latencyWindow{
		window:  window,
		entries: make([]latencyEntry, 0, 128),
	}
}

// Record adds a sample.
func (w *latencyWindow) Record(d time.Duration) {
	w.recordAt(time.Now(), d)
}

func (w *latencyWindow) recordAt(ts time.Time, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, latencyEntry{ts: ts, latency: d})
}

// Avg returns the mean latency in milliseconds and the sample count within
// the window, dropping expired samples.
func (w *latencyWindow) Avg() (avgMs int64, count int64) {
	return w.avgAt(time.Now())
}

func (w *latencyWindow) avgAt(now time.Time) (int64, int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	start := 0
	for start < len(w.entries) && w.entries[start].ts.Before(cutoff) {
		start++
	}
	if start > 0 {
		w.entries = w.entries[start:]
	}
	if len(w.entries) == 0 {
		return 0, 0
	}

	var total int64
	for _, e := range w.entries {
		total += e.latency.Milliseconds()
	}
	n := int64(len(w.entries))
	return total / n, n
}
