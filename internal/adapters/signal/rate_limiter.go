package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Collab/internal/domain"
)

type limiterKey struct {
	session domain.SessionID
	user    domain.UserID
}

// RateLimiter is a sliding window limit on inbound events per user and
// session. The window is shared by all of the user's connections in the
// session and lives until the last of them is forgotten.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[limiterKey][]time.Time
	conns    map[limiterKey]int
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewRateLimiter returns nil when limit <= 0, which disables limiting.
func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	if limit <= 0 {
		return nil
	}
	return &RateLimiter{
		history:  make(map[limiterKey][]time.Time),
		conns:    make(map[limiterKey]int),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(sid domain.SessionID, uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := limiterKey{sid, uid}
	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[key]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		return false
	}

	rl.history[key] = append(fresh, now)
	return true
}

// Track counts one more open connection for the user in the session.
func (rl *RateLimiter) Track(sid domain.SessionID, uid domain.UserID) {
	rl.mu.Lock()
	rl.conns[limiterKey{sid, uid}]++
	rl.mu.Unlock()
}

// Forget releases one tracked connection and drops the window once none
// are left.
func (rl *RateLimiter) Forget(sid domain.SessionID, uid domain.UserID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	key := limiterKey{sid, uid}
	if n := rl.conns[key] - 1; n > 0 {
		rl.conns[key] = n
		return
	}
	delete(rl.conns, key)
	delete(rl.history, key)
}
