package ratelimit

import (
	"sync"
	"time"

	"github.com/voxloop/voxloop/internal/config"
)

type window struct {
	count int
	start time.Time
}

// Limiter is a fixed-window per-identifier request limiter. It is the
// single authoritative enforcement point; any client-side throttling is a
// UX nicety, not a guarantee.
type Limiter struct {
	max    int
	length time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

func New(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		max:     cfg.MaxRequests,
		length:  time.Duration(cfg.WindowMS) * time.Millisecond,
		clock:   time.Now,
		windows: make(map[string]*window),
	}
}

// Allow records one request for id and reports whether it fits inside the
// current window. The window resets, with the current request counted as
// its first, once the window length has elapsed.
func (l *Limiter) Allow(id string) bool {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[id]
	if w == nil || now.Sub(w.start) > l.length {
		l.windows[id] = &window{count: 1, start: now}
		return true
	}
	w.count++
	return w.count <= l.max
}

// Prune drops windows that ended before now; called periodically to keep
// the table from accumulating one entry per historical client.
func (l *Limiter) Prune() {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, w := range l.windows {
		if now.Sub(w.start) > l.length {
			delete(l.windows, id)
		}
	}
}
