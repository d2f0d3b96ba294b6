// ratelimit.go implements token-bucket rate limiting for venue REST calls.
//
// Spot venues weight the depth endpoint heavily, so snapshot fetches get a
// small dedicated bucket; the balance provider enforces 5 req/s on free keys.
// Buckets refill continuously rather than in window-sized bursts.
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups buckets by upstream category.
type RateLimiter struct {
	Depth   *TokenBucket // GET /api/v3/depth — weighted heavily by the venue
	Balance *TokenBucket // balance provider lookups
}

// NewRateLimiter creates buckets tuned to the public endpoint limits.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Depth:   NewTokenBucket(10, 2), // snapshot fetches are rare (reconnects only)
		Balance: NewTokenBucket(5, 4),  // free-tier keys allow 5 req/s
	}
}
