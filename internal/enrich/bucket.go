package enrich

import (
	"sync"
	"time"
)

// TokenBucket rate-limits one provider. A request that would exceed the
// available tokens is denied immediately, never queued.
type TokenBucket struct {
	mu            sync.Mutex
	capacity      float64
	tokens        float64
	refillPerSec  float64
	lastRefill    time.Time
	now           func() time.Time
}

// NewTokenBucket starts full at the given capacity.
func NewTokenBucket(capacity, refillPerSec float64) *TokenBucket {
	b := &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPerSec: refillPerSec,
		now:          time.Now,
	}
	b.lastRefill = b.now()
	return b
}

// Allow takes one token if available.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Available returns the current token count, for metrics.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	return b.tokens
}

func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillPerSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}
