package progress

import (
	"fmt"
	"testing"
	"time"
)

func TestPollLimiterWindow(t *testing.T) {
	now := time.Now()
	l := newPollLimiter(time.Second, func() time.Time { return now })

	if allowed, _ := l.Allow("acct-1", "run-1"); !allowed {
		t.Fatal("first poll should pass")
	}
	allowed, retryAfter := l.Allow("acct-1", "run-1")
	if allowed {
		t.Fatal("second poll inside the window should be denied")
	}
	if retryAfter != 1 {
		t.Fatalf("retryAfter = %d, want 1", retryAfter)
	}

	// A different run for the same account has its own window.
	if allowed, _ := l.Allow("acct-1", "run-2"); !allowed {
		t.Fatal("distinct run should not share the window")
	}

	now = now.Add(time.Second)
	if allowed, _ := l.Allow("acct-1", "run-1"); !allowed {
		t.Fatal("poll after the window should pass")
	}
}

func TestPollLimiterRetryAfterRoundsUp(t *testing.T) {
	now := time.Now()
	l := newPollLimiter(5*time.Second, func() time.Time { return now })

	l.Allow("acct-1", "run-1")
	now = now.Add(2300 * time.Millisecond)
	allowed, retryAfter := l.Allow("acct-1", "run-1")
	if allowed {
		t.Fatal("poll inside a 5s window should be denied")
	}
	if retryAfter != 3 {
		t.Fatalf("retryAfter = %d, want remaining 2.7s rounded up to 3", retryAfter)
	}
}

func TestPollLimiterPrunesStaleKeys(t *testing.T) {
	now := time.Now()
	l := newPollLimiter(time.Second, func() time.Time { return now })

	for i := 0; i < pollLimitMaxKeys; i++ {
		l.Allow("acct-1", fmt.Sprintf("run-%d", i))
	}
	now = now.Add(2 * time.Second)
	l.Allow("acct-1", "fresh")

	l.mu.Lock()
	size := len(l.lastHit)
	l.mu.Unlock()
	if size != 1 {
		t.Fatalf("stale entries should be pruned, map still holds %d", size)
	}
}

func TestPollLimiterNilIsOpen(t *testing.T) {
	var l *pollLimiter
	if allowed, retryAfter := l.Allow("acct-1", "run-1"); !allowed || retryAfter != 0 {
		t.Fatalf("nil limiter should allow everything, got %v %d", allowed, retryAfter)
	}
}
