package alerts

import (
	"sync"
	"time"
)

// deduper suppresses repeats of the same alert key inside a window. A
// broken credential would otherwise page on every push notification.
type deduper struct {
	mu       sync.Mutex
	window   time.Duration
	lastSent map[string]time.Time
}

func newDeduper(window time.Duration) *deduper {
	return &deduper{
		window:   window,
		lastSent: make(map[string]time.Time),
	}
}

// shouldSend reports whether the key is outside its dedup window and
// records the send when it is.
func (d *deduper) shouldSend(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.window {
		return false
	}
	d.lastSent[key] = now

	// Opportunistic cleanup of long-quiet keys.
	for k, last := range d.lastSent {
		if now.Sub(last) > 2*d.window {
			delete(d.lastSent, k)
		}
	}
	return true
}
