package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// UserLimiter hands out one token bucket per user id.
type UserLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	users     map[string]*userBucket
	lastSweep time.Time
}

type userBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewUserLimiter allows each user perSecond sustained requests with the given
// burst. Buckets unused for ten minutes are dropped.
func NewUserLimiter(perSecond float64, burst int) *UserLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &UserLimiter{
		limit: rate.Limit(perSecond),
		burst: burst,
		idle:  10 * time.Minute,
		now:   time.Now,
		users: make(map[string]*userBucket),
	}
}

// Allow reports whether userID may issue a request now.
func (l *UserLimiter) Allow(userID string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) > l.idle {
		l.sweep(now)
	}
	b, ok := l.users[userID]
	if !ok {
		b = &userBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.users[userID] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// sweep drops idle buckets. Caller holds l.mu.
func (l *UserLimiter) sweep(now time.Time) {
	for id, b := range l.users {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.users, id)
		}
	}
	l.lastSweep = now
}

func (l *UserLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}
