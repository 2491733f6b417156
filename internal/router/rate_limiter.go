package router

import (
	"context"
	"sync"
	"time"
)

// Default chat budget per user
const (
	DefaultRateLimit  = 100
	DefaultRateWindow = time.Minute
)

// RateLimiter implements per-user fixed-window limiting of chat messages
// ARCHITECTURAL DISCOVERY: Per-client state tracking with proper cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.RWMutex
	clients map[string]*ClientLimit
	limit   int
	window  time.Duration
	now     func() time.Time
}

// ClientLimit tracks one user's window
type ClientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter allows limit messages per window; non-positive values fall
// back to 100 per minute
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		clients: make(map[string]*ClientLimit),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow records one message for userID and reports whether it fits the budget
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[userID]
	if !exists {
		rl.clients[userID] = &ClientLimit{
			messageCount: 1,
			windowStart:  now,
		}
		return true
	}

	// TECHNICAL DISCOVERY: Window resets a full period after its first message
	if now.Sub(limit.windowStart) >= rl.window {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}

	limit.messageCount++
	return true
}

// Cleanup removes users idle for five windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for userID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, userID)
		}
	}
}

// Run calls Cleanup every interval until ctx is done
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

func (rl *RateLimiter) tracked() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}
