package mcp

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled at rate requests per minute with a
// burst of twice the rate. A non-positive rate disables limiting.
type RateLimiter struct {
	rate       float64 // tokens per minute
	tokens     float64
	maxTokens  float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a limiter that starts with one minute of tokens.
func NewRateLimiter(ratePerMinute int) *RateLimiter {
	return newRateLimiter(ratePerMinute, time.Now)
}

func newRateLimiter(ratePerMinute int, now func() time.Time) *RateLimiter {
	rate := float64(ratePerMinute)
	return &RateLimiter{
		rate:       rate,
		tokens:     rate,
		maxTokens:  rate * 2,
		lastUpdate: now(),
		now:        now,
	}
}

// Allow takes a token if one is available.
func (r *RateLimiter) Allow() bool {
	if r == nil || r.rate <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if elapsed := now.Sub(r.lastUpdate); elapsed > 0 {
		r.tokens = min(r.tokens+elapsed.Minutes()*r.rate, r.maxTokens)
		r.lastUpdate = now
	}

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}
