// Package llm provides the provider-agnostic LLM call path: FIFO rate
// limiting, pricing snapshots, budget enforcement, and the OpenAI and
// Anthropic adapters.
package llm

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time for the rate limiter so tests can drive it.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RateLimiter serialises callers FIFO and enforces a minimum delay
// between acquisitions. minDelay 0 disables the wait but not the
// serialisation.
type RateLimiter struct {
	mu          sync.Mutex
	minDelay    time.Duration
	lastAcquire time.Time
	clock       Clock
}

// NewRateLimiter builds a limiter with the given floor in
// milliseconds.
func NewRateLimiter(minDelayMs int) *RateLimiter {
	return &RateLimiter{minDelay: time.Duration(minDelayMs) * time.Millisecond, clock: realClock{}}
}

// NewRateLimiterWithClock is NewRateLimiter with an injected clock.
func NewRateLimiterWithClock(minDelayMs int, clock Clock) *RateLimiter {
	return &RateLimiter{minDelay: time.Duration(minDelayMs) * time.Millisecond, clock: clock}
}

// Acquire blocks until the caller may proceed. Callers queue on the
// mutex, so concurrent acquirers are served in FIFO order and their
// delays compose.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if !r.lastAcquire.IsZero() && r.minDelay > 0 {
		elapsed := now.Sub(r.lastAcquire)
		if elapsed < r.minDelay {
			if err := r.clock.Sleep(ctx, r.minDelay-elapsed); err != nil {
				return err
			}
		}
	}
	r.lastAcquire = r.clock.Now()
	return nil
}
