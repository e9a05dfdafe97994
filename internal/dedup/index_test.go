package dedup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ThreatScanner/internal/domain"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	index, err := OpenIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	return index
}

func TestIndexRoundtrip(t *testing.T) {
	t.Parallel()

	index := openTestIndex(t)
	ctx := context.Background()

	publishedAt := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, index.Insert(ctx, domain.DedupIndexEntry{
		RecordID:    "rec-1",
		ContentHash: "hash-1",
		Embedding:   []float32{3, 4},
		PublishedAt: publishedAt,
	}))

	found, err := index.HasHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, found)

	missing, err := index.HasHash(ctx, "hash-2")
	require.NoError(t, err)
	assert.False(t, missing)

	// Magnitude of (3,4) is 5 and is recomputed on insert.
	entries, err := index.InBand(ctx, 5, 0.1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rec-1", entries[0].RecordID)
	assert.Equal(t, []float32{3, 4}, entries[0].Embedding)
	assert.InDelta(t, 5, entries[0].Magnitude, 1e-9)
	assert.Equal(t, publishedAt, entries[0].PublishedAt)
}

func TestInBandExcludesOutOfRange(t *testing.T) {
	t.Parallel()

	index := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, index.Insert(ctx, domain.DedupIndexEntry{
		RecordID: "near", ContentHash: "h1", Embedding: []float32{1, 0}, PublishedAt: time.Now(),
	}))
	require.NoError(t, index.Insert(ctx, domain.DedupIndexEntry{
		RecordID: "far", ContentHash: "h2", Embedding: []float32{3, 4}, PublishedAt: time.Now(),
	}))

	entries, err := index.InBand(ctx, 1, 0.1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "near", entries[0].RecordID)
}

func TestKeepEarliest(t *testing.T) {
	t.Parallel()

	index := openTestIndex(t)
	ctx := context.Background()

	later := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, index.Insert(ctx, domain.DedupIndexEntry{
		RecordID: "rec-1", ContentHash: "h1", Embedding: []float32{1, 0}, PublishedAt: later,
	}))

	earlier := later.Add(-2 * time.Hour)
	require.NoError(t, index.KeepEarliest(ctx, "rec-1", earlier))

	entries, err := index.InBand(ctx, 1, 0.1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, earlier, entries[0].PublishedAt)

	// A later duplicate must not move the timestamp forward again.
	require.NoError(t, index.KeepEarliest(ctx, "rec-1", later))
	entries, err = index.InBand(ctx, 1, 0.1)
	require.NoError(t, err)
	assert.Equal(t, earlier, entries[0].PublishedAt)
}

func TestInsertIsIdempotentPerRecord(t *testing.T) {
	t.Parallel()

	index := openTestIndex(t)
	ctx := context.Background()

	entry := domain.DedupIndexEntry{
		RecordID: "rec-1", ContentHash: "h1", Embedding: []float32{1, 0}, PublishedAt: time.Now(),
	}
	require.NoError(t, index.Insert(ctx, entry))
	require.NoError(t, index.Insert(ctx, entry))

	entries, err := index.InBand(ctx, 1, 0.1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
