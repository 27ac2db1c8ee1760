package server

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter keeps one token bucket per user id. Buckets idle for longer
// than idleTTL are dropped on the next sweep.
type userLimiter struct {
	rps   rate.Limit
	burst int

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

const idleTTL = 10 * time.Minute

func newUserLimiter(rps float64) *userLimiter {
	if rps <= 0 {
		return nil
	}
	return &userLimiter{
		rps:     rate.Limit(rps),
		burst:   int(math.Max(1, math.Ceil(rps))),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether userID may make a request now. A nil limiter allows
// everything.
func (l *userLimiter) Allow(userID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > idleTTL {
		for id, b := range l.buckets {
			if now.Sub(b.seen) > idleTTL {
				delete(l.buckets, id)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[userID] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}
