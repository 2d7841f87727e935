package source

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter shared by all requests
// to one upstream API.
type TokenBucket struct {
	tokens      float64
	maxTokens   float64
	refillRate  float64 // tokens per second
	lastRefill  time.Time
	pausedUntil time.Time
	mu          sync.Mutex
}

// NewTokenBucket creates a new token bucket. A non-positive refill rate
// disables limiting.
func NewTokenBucket(maxTokens float64, refillRate float64) *TokenBucket {
	if maxTokens < 1 {
		maxTokens = 1
	}
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// reserve consumes a token if one is available, otherwise it returns how long
// the caller has to wait before trying again.
func (tb *TokenBucket) reserve() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	if now.Before(tb.pausedUntil) {
		return tb.pausedUntil.Sub(now)
	}
	if tb.refillRate <= 0 {
		return 0
	}

	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = min(tb.maxTokens, tb.tokens+(elapsed*tb.refillRate))
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return 0
	}
	missing := 1.0 - tb.tokens
	return time.Duration(missing / tb.refillRate * float64(time.Second))
}

// Wait blocks until a token is available or ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		d := tb.reserve()
		if d == 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Pause stops handing out tokens for d. Used when the upstream asks clients
// to back off.
func (tb *TokenBucket) Pause(d time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(tb.pausedUntil) {
		tb.pausedUntil = until
	}
}
