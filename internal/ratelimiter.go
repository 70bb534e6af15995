package internal

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window counter keyed by client address.
// A limit of zero or less allows everything.
type RateLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (r *RateLimiter) Allow(key string) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	windowStart := now.Add(-r.window)
	slice := r.hits[key]
	idx := 0
	for _, ts := range slice {
		if ts.After(windowStart) {
			slice[idx] = ts
			idx++
		}
	}
	slice = slice[:idx]
	if len(slice) >= r.limit {
		r.hits[key] = slice
		return false
	}
	r.hits[key] = append(slice, now)
	return true
}

// Prune forgets keys with no hits inside the window.
func (r *RateLimiter) Prune() int {
	if r == nil {
		return 0
	}
	windowStart := r.now().Add(-r.window)
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := 0
	for key, slice := range r.hits {
		if len(slice) == 0 || !slice[len(slice)-1].After(windowStart) {
			delete(r.hits, key)
			pruned++
		}
	}
	return pruned
}
