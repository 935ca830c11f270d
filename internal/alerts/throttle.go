package alerts

import (
	"sync"
	"time"
)

// throttle caps total alert volume per minute regardless of key.
type throttle struct {
	mu          sync.Mutex
	perMinute   int
	windowStart time.Time
	sent        int
}

func newThrottle(perMinute int) *throttle {
	return &throttle{perMinute: perMinute}
}

// allow reports whether another alert fits in the current minute.
func (t *throttle) allow(now time.Time) bool {
	if t.perMinute <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.windowStart) >= time.Minute {
		t.windowStart = now
		t.sent = 0
	}
	if t.sent >= t.perMinute {
		return false
	}
	t.sent++
	return true
}
