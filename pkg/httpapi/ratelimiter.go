package httpapi

import (
	"sync"
	"time"
)

const rateLimitWindow = time.Minute

// RateLimiter limits requests per client IP over a sliding one-minute window.
type RateLimiter struct {
	limits          map[string]*rateLimitState
	maxPerWindow    int
	mu              sync.Mutex
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a limiter allowing maxRequestsPerMinute per IP.
func NewRateLimiter(maxRequestsPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		limits:          make(map[string]*rateLimitState),
		maxPerWindow:    maxRequestsPerMinute,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go rl.runCleanup()

	return rl
}

// Allow records a request from ip. When the window is full it returns false
// and the number of seconds until a slot frees up.
func (rl *RateLimiter) Allow(ip string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()

	state, exists := rl.limits[ip]
	if !exists {
		state = &rateLimitState{}
		rl.limits[ip] = state
	}
	state.requests = pruneWindow(state.requests, now)

	if len(state.requests) >= rl.maxPerWindow {
		retryAfterMs := rateLimitWindow.Milliseconds() - (now - state.requests[0])
		if retryAfterMs < 0 {
			retryAfterMs = 0
		}
		return false, int((retryAfterMs + 999) / 1000)
	}

	state.requests = append(state.requests, now)
	return true, 0
}

// pruneWindow drops timestamps that fell out of the window.
func pruneWindow(requests []int64, now int64) []int64 {
	valid := requests[:0]
	for _, t := range requests {
		if now-t < rateLimitWindow.Milliseconds() {
			valid = append(valid, t)
		}
	}
	return valid
}

func (rl *RateLimiter) runCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup forgets IPs with no requests left in the window.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()
	for ip, state := range rl.limits {
		state.requests = pruneWindow(state.requests, now)
		if len(state.requests) == 0 {
			delete(rl.limits, ip)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCleanup)
	})
}
