package enrich

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketStartsFullAndDrains(t *testing.T) {
	t.Parallel()

	clock := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	b := NewTokenBucket(3, 1)
	b.now = func() time.Time { return clock }
	b.lastRefill = clock

	for i := 0; i < 3; i++ {
		require.True(t, b.Allow(), "token %d", i)
	}
	assert.False(t, b.Allow(), "empty bucket denies immediately, no queueing")
}

func TestBucketRefillsOverTime(t *testing.T) {
	t.Parallel()

	clock := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	b := NewTokenBucket(5, 2)
	b.now = func() time.Time { return clock }
	b.lastRefill = clock

	for i := 0; i < 5; i++ {
		require.True(t, b.Allow())
	}
	require.False(t, b.Allow())

	// 2 tokens/s for one second restores two tokens.
	clock = clock.Add(time.Second)
	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())
}

func TestBucketCapsAtCapacity(t *testing.T) {
	t.Parallel()

	clock := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	b := NewTokenBucket(2, 10)
	b.now = func() time.Time { return clock }
	b.lastRefill = clock

	clock = clock.Add(time.Hour)
	assert.InDelta(t, 2, b.Available(), 1e-9, "refill never exceeds capacity")
}
