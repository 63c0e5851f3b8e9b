package httpapi

import (
	"sync"
	"time"
)

// rateLimiter enforces a fixed minimum interval between accepted calls,
// tracked per endpoint name. Control-plane actions are human-paced; a
// wall-clock interval is all the protection they need.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{
		interval: interval,
		last:     map[string]time.Time{},
		now:      time.Now,
	}
}

// allow reports whether a call to endpoint may proceed, recording the
// call time when it does. Rejected calls do not push the window forward.
func (l *rateLimiter) allow(endpoint string) bool {
	if l.interval <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if prev, ok := l.last[endpoint]; ok && now.Sub(prev) < l.interval {
		return false
	}
	l.last[endpoint] = now
	return true
}
