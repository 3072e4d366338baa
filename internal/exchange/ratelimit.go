// ratelimit.go implements token-bucket rate limiting for the exchange's REST API.
//
// The exchange enforces per-category rate limits measured as a request-weight
// budget per minute. This file provides a smooth token-bucket implementation
// that refills continuously (rather than in fixed-window bursts) to avoid
// hitting hard limits.
//
// Four buckets are maintained, matching the REST client's call surface:
//   - Order:   order placement/cancellation, the most weight-expensive calls.
//   - Cancel:  cancel-all and batch cancels.
//   - Account: balances/positions/open-orders/account-snapshot reads.
//   - Market:  klines/ticker/public market-data reads, highest allowance.
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

		// Calculate wait time for next token
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

// RateLimiter groups token buckets by exchange REST endpoint category.
// Every Client method calls the appropriate bucket's Wait() before making
// the HTTP request.
type RateLimiter struct {
	Order   *TokenBucket // place/cancel/modify a single order
	Cancel  *TokenBucket // cancel-all, batch cancels
	Account *TokenBucket // balances, positions, open orders, account snapshot
	Market  *TokenBucket // klines, ticker, funding rate — public data
}

// NewRateLimiter creates rate limiters tuned to a typical futures exchange's
// published per-minute weight budget, expressed here as burst capacity plus
// a steady per-second refill.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:   NewTokenBucket(50, 10), // ~600/min burst-smoothed
		Cancel:  NewTokenBucket(50, 10),
		Account: NewTokenBucket(40, 5),
		Market:  NewTokenBucket(100, 20),
	}
}
