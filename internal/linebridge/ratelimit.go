package linebridge

import (
	"sync"

	"golang.org/x/time/rate"
)

const maxTrackedKeys = 10000

// keyLimiter rate-limits webhook deliveries per agent. The key map is
// bounded; when it fills up, it resets rather than growing without limit.
type keyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rpm      int
}

func newKeyLimiter(rpm int) *keyLimiter {
	return &keyLimiter{
		limiters: make(map[string]*rate.Limiter),
		rpm:      rpm,
	}
}

// Allow reports whether a request for key fits within the per-minute
// budget. Always true when the limiter is disabled (rpm <= 0).
func (l *keyLimiter) Allow(key string) bool {
	if l.rpm <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxTrackedKeys {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), l.rpm)
		l.limiters[key] = lim
	}
	return lim.Allow()
}
