package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token-bucket rate limiter that replenishes tokens
// at a fixed rate up to a burst capacity.
type RateLimiter struct {
	rate     float64 // tokens per second
	burst    float64
	tokens   float64
	lastTime time.Time
	mu       sync.Mutex
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute with bursts of up to burst operations. Values below 1 are treated
// as 1.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:     float64(perMinute) / 60.0,
		burst:    float64(burst),
		tokens:   float64(burst),
		lastTime: time.Now(),
	}
}

// Wait blocks until a rate-limit token is available or the context is
// cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(rl.lastTime).Seconds()
		rl.tokens = min(rl.tokens+elapsed*rl.rate, rl.burst)
		rl.lastTime = now

		if rl.tokens >= 1 {
			rl.tokens -= 1
			rl.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(wait, 250*time.Millisecond)):
		}
	}
}
