package ws

import (
	"sync"
	"time"
)

// Message rate limit applied per connection. Frames over the limit are
// dropped without closing the connection.
const (
	rateLimitWindow = time.Second
	rateLimitBurst  = 10
)

// limiter is a sliding-window counter over message timestamps. It is
// sized for one connection, so the slice stays tiny.
type limiter struct {
	mu     sync.Mutex
	window time.Duration
	burst  int
	stamps []time.Time
}

func newLimiter(window time.Duration, burst int) *limiter {
	return &limiter{
		window: window,
		burst:  burst,
		stamps: make([]time.Time, 0, burst),
	}
}

// allow reports whether a message arriving at now fits in the window,
// recording it if so.
func (l *limiter) allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	keep := l.stamps[:0]
	for _, ts := range l.stamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	l.stamps = keep

	if len(l.stamps) >= l.burst {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}
