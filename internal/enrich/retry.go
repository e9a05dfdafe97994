package enrich

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with optional jitter.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	// Jitter is the random fraction applied symmetrically, e.g. 0.1
	// spreads each delay by ±10% to avoid synchronized retry storms.
	Jitter float64
}

// Delay returns the wait before retry number attempt (0-based). With
// Jitter zero the sequence is strictly increasing until it hits Max.
func (b Backoff) Delay(attempt int) time.Duration {
	factor := b.Factor
	if factor <= 1 {
		factor = 2
	}

	d := time.Duration(float64(b.Base) * math.Pow(factor, float64(attempt)))
	if d > b.Max || d <= 0 {
		d = b.Max
	}

	if b.Jitter > 0 {
		spread := (rand.Float64()*2 - 1) * b.Jitter
		d = time.Duration(float64(d) * (1 + spread))
	}

	return d
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
