package http

import (
	"sort"
	"sync"
	"time"
)

// RateLimiter allows at most limit hits per key within a sliding interval.
// Keys whose window empties are forgotten.
type RateLimiter struct {
	mu       sync.Mutex
	hits     map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:     make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records a hit for key if the window has room. Otherwise it reports
// how long until the oldest hit in the window expires.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.expireLocked(now)

	window := rl.hits[key]
	if len(window) >= rl.limit {
		return false, window[0].Add(rl.interval).Sub(now)
	}
	rl.hits[key] = append(window, now)
	return true, 0
}

// expireLocked drops hits older than the interval; hits are kept in order
// so each key is cut at its first fresh entry.
func (rl *RateLimiter) expireLocked(now time.Time) {
	cutoff := now.Add(-rl.interval)
	for key, window := range rl.hits {
		i := sort.Search(len(window), func(i int) bool { return window[i].After(cutoff) })
		switch {
		case i == len(window):
			delete(rl.hits, key)
		case i > 0:
			rl.hits[key] = append(window[:0], window[i:]...)
		}
	}
}

func (rl *RateLimiter) keys() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.hits)
}
