package ports

import (
	"context"
	"time"

	"ThreatScanner/internal/domain"
)

// ItemSource pulls raw items from upstream feed adapters.
type ItemSource interface {
	FetchSince(ctx context.Context, since time.Time) ([]domain.RawItem, error)
}

// Embedder turns normalized text into a fixed-length vector.
// Implementations enforce their own quota budget and return
// a budget-exhaustion error once it is spent.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CompletionProvider is one external LLM endpoint. Every provider is
// wrapped identically by the orchestrator regardless of its API shape.
type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Geocoder resolves location mentions in batches.
// Unresolvable queries are simply absent from the result map.
type Geocoder interface {
	ResolveBatch(ctx context.Context, queries []string) (map[string]domain.Coordinates, error)
}

// DedupIndex stores similarity-search entries for semantic dedup.
type DedupIndex interface {
	HasHash(ctx context.Context, contentHash string) (bool, error)
	Insert(ctx context.Context, entry domain.DedupIndexEntry) error
	InBand(ctx context.Context, magnitude, tolerance float64) ([]domain.DedupIndexEntry, error)
	KeepEarliest(ctx context.Context, recordID string, publishedAt time.Time) error
}

// RecordSink persists enriched records. Persist is idempotent on the
// record id: re-enrichment overwrites the prior enriched fields.
type RecordSink interface {
	SeenIDs(ctx context.Context, ids []string) (map[string]bool, error)
	SaveCandidate(ctx context.Context, rec domain.EnrichedRecord) error
	PendingEnrichment(ctx context.Context, limit int) ([]domain.EnrichedRecord, error)
	SaveEnriched(ctx context.Context, rec domain.EnrichedRecord) error
}

// Scheduler controls when pipeline cycles execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
