package handlers

import (
	"sync"
	"time"
)

// RateLimiter allows up to limit requests per client in fixed windows.
type RateLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	clients   map[string]*clientWindow
	lastSweep time.Time
	now       func() time.Time
}

type clientWindow struct {
	count int
	start time.Time
}

// NewRateLimiter returns a per-minute limiter. A limit of 0 disables it.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		limit:   perMinute,
		window:  time.Minute,
		clients: make(map[string]*clientWindow),
		now:     time.Now,
	}
}

func (rl *RateLimiter) AllowRequest(clientID string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	w, exists := rl.clients[clientID]
	if !exists || now.Sub(w.start) >= rl.window {
		w = &clientWindow{start: now}
		rl.clients[clientID] = w
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// sweep drops expired windows at most once per window.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	for id, w := range rl.clients {
		if now.Sub(w.start) >= rl.window {
			delete(rl.clients, id)
		}
	}
	rl.lastSweep = now
}
