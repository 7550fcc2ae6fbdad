package ratelimit

import (
	"testing"
	"time"

	"github.com/voxloop/voxloop/internal/config"
)

func newLimiter(t *testing.T) (*Limiter, *time.Time) {
	t.Helper()
	l := New(config.RateLimitConfig{MaxRequests: 30, WindowMS: 60000})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }
	return l, &now
}

func TestCeilingEnforced(t *testing.T) {
	l, _ := newLimiter(t)

	for i := 0; i < 30; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("request %d within ceiling rejected", i+1)
		}
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("31st request within the window must be rejected")
	}
}

func TestWindowResets(t *testing.T) {
	l, now := newLimiter(t)

	for i := 0; i < 31; i++ {
		l.Allow("1.2.3.4")
	}
	*now = now.Add(61 * time.Second)
	if !l.Allow("1.2.3.4") {
		t.Fatal("request after the window elapsed must succeed")
	}
	// The post-reset request counts as the window's first.
	for i := 0; i < 29; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("request %d of fresh window rejected", i+2)
		}
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("fresh window ceiling not enforced")
	}
}

func TestIdentifiersIndependent(t *testing.T) {
	l, _ := newLimiter(t)

	for i := 0; i < 31; i++ {
		l.Allow("1.2.3.4")
	}
	if !l.Allow("5.6.7.8") {
		t.Fatal("a different identifier must have its own window")
	}
}

func TestPrune(t *testing.T) {
	l, now := newLimiter(t)

	l.Allow("1.2.3.4")
	l.Allow("5.6.7.8")
	*now = now.Add(2 * time.Minute)
	l.Prune()

	l.mu.Lock()
	size := len(l.windows)
	l.mu.Unlock()
	if size != 0 {
		t.Fatalf("expected expired windows pruned, %d remain", size)
	}
}
