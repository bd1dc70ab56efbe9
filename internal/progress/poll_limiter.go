package progress

import (
	"math"
	"sync"
	"time"
)

// Poll gating for progress reads. SSE streams are not limited; plain GET
// polling is capped to one request per run per window so a tight client
// loop cannot hammer the tracker.
const (
	pollLimitWindow  = 1 * time.Second
	pollLimitMaxKeys = 4096
)

type pollLimiter struct {
	mu      sync.Mutex
	lastHit map[string]time.Time
	now     func() time.Time
	window  time.Duration
}

func newPollLimiter(window time.Duration, now func() time.Time) *pollLimiter {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = pollLimitWindow
	}
	return &pollLimiter{
		lastHit: make(map[string]time.Time),
		now:     now,
		window:  window,
	}
}

// Allow reports whether a poll for the run may proceed now. When the poll
// is denied, the second return is the whole seconds remaining until the
// next allowed attempt (at least 1, suitable for a Retry-After header).
func (l *pollLimiter) Allow(accountID, runID string) (bool, int) {
	if l == nil {
		return true, 0
	}
	key := accountID + "|" + runID
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.lastHit[key]; ok {
		if wait := l.window - now.Sub(last); wait > 0 {
			return false, retryAfterSeconds(wait)
		}
	}
	if len(l.lastHit) >= pollLimitMaxKeys {
		l.prune(now)
	}
	l.lastHit[key] = now
	return true, 0
}

// prune drops entries already outside the window. Runs never poll forever,
// so the occasional sweep keeps the map bounded. Called under the lock.
func (l *pollLimiter) prune(now time.Time) {
	for key, last := range l.lastHit {
		if now.Sub(last) >= l.window {
			delete(l.lastHit, key)
		}
	}
}

func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
