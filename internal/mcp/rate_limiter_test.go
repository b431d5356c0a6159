package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	r := newRateLimiter(3, clock)

	for i := 0; i < 3; i++ {
		assert.True(t, r.Allow(), "request %d", i)
	}
	assert.False(t, r.Allow())

	// 30s at 3/min refills one and a half tokens.
	now = now.Add(30 * time.Second)
	assert.True(t, r.Allow())
	assert.False(t, r.Allow())

	// Refill is capped at twice the rate.
	now = now.Add(time.Hour)
	for i := 0; i < 6; i++ {
		assert.True(t, r.Allow(), "burst request %d", i)
	}
	assert.False(t, r.Allow())
}

func TestRateLimiter_Disabled(t *testing.T) {
	r := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, r.Allow())
	}

	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow())
}
