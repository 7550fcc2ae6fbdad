package pipeline

import (
	"sync"
	"time"
)

// LatencyMetrics breaks one interaction cycle into its stage latencies.
type LatencyMetrics struct {
	CaptureToTranscript    time.Duration
	TranscriptToCompletion time.Duration
	CompletionToSpeechDone time.Duration
	Total                  time.Duration
}

// History keeps a bounded trailing record of cycle totals, oldest dropped
// first, used for a running average.
type History struct {
	mu       sync.Mutex
	totals   []time.Duration
	capacity int
}

func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{capacity: capacity}
}

func (h *History) Append(total time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.totals = append(h.totals, total)
	if len(h.totals) > h.capacity {
		h.totals = h.totals[1:]
	}
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.totals)
}

// Average returns the mean of the recorded totals, zero when empty.
func (h *History) Average() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.totals) == 0 {
		return 0
	}
	var sum time.Duration
	for _, t := range h.totals {
		sum += t
	}
	return sum / time.Duration(len(h.totals))
}
