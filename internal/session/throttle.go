package session

import (
	"sync"
	"time"
)

// Throttle allows at most limit occurrences of a key per interval,
// using a sliding window. Used to collapse double-clicked user actions
// into one outgoing signal.
type Throttle struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
}

func NewThrottle(limit int, interval time.Duration) *Throttle {
	return &Throttle{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-t.interval)

	attempts := t.history[key]
	fresh := make([]time.Time, 0, len(attempts))
	for _, ts := range attempts {
		if ts.After(windowStart) {
			fresh = append(fresh, ts)
		}
	}

	if len(fresh) >= t.limit {
		t.history[key] = fresh
		return false
	}

	fresh = append(fresh, now)
	t.history[key] = fresh
	return true
}
