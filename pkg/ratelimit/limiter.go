// Package ratelimit provides the client-side pacing used to stay under
// the remote service's implicit rate limit: a token bucket shared by
// all workers for aggregate request rate, plus a fixed per-worker
// delay between consecutive requests.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates outgoing requests.
type Limiter interface {
	// Allow reports whether a request may proceed right now.
	Allow() bool
	// Wait blocks until a request may proceed or ctx is cancelled.
	Wait(ctx context.Context) error
}

// TokenBucket refills continuously at rate tokens per period, holding
// at most burst tokens. Safe for concurrent use.
type TokenBucket struct {
	rate       float64 // tokens added per second
	burst      float64
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket allows `calls` requests per `period` with bursts up
// to `burst`. A burst of 0 defaults to `calls`.
func NewTokenBucket(calls int, period time.Duration, burst int) *TokenBucket {
	if burst <= 0 {
		burst = calls
	}
	return &TokenBucket{
		rate:       float64(calls) / period.Seconds(),
		burst:      float64(burst),
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		// Time until one full token accrues.
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.burst {
		tb.tokens = tb.burst
	}
	tb.lastRefill = now
}

// Unlimited is a Limiter that never blocks. Used in tests.
type Unlimited struct{}

func (Unlimited) Allow() bool                    { return true }
func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
