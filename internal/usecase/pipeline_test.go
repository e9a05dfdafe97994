package usecase

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ThreatScanner/internal/batch"
	"ThreatScanner/internal/dedup"
	"ThreatScanner/internal/domain"
	"ThreatScanner/internal/enrich"
	"ThreatScanner/internal/ingest"
	"ThreatScanner/internal/score"
)

type fakeSource struct {
	items []domain.RawItem
}

func (s *fakeSource) FetchSince(context.Context, time.Time) ([]domain.RawItem, error) {
	return s.items, nil
}

type fakeSink struct {
	mu      sync.Mutex
	saved   map[string]domain.EnrichedRecord
	pending []domain.EnrichedRecord
}

func newFakeSink() *fakeSink {
	return &fakeSink{saved: map[string]domain.EnrichedRecord{}}
}

func (s *fakeSink) SeenIDs(_ context.Context, ids []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	for _, id := range ids {
		if _, ok := s.saved[id]; ok {
			seen[id] = true
		}
	}
	return seen, nil
}

func (s *fakeSink) SaveCandidate(_ context.Context, rec domain.EnrichedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[rec.Candidate.ID] = rec
	return nil
}

func (s *fakeSink) PendingEnrichment(_ context.Context, limit int) ([]domain.EnrichedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.pending) {
		limit = len(s.pending)
	}
	out := make([]domain.EnrichedRecord, limit)
	copy(out, s.pending[:limit])
	return out, nil
}

func (s *fakeSink) SaveEnriched(_ context.Context, rec domain.EnrichedRecord) error {
	return s.SaveCandidate(nil, rec)
}

type memoryIndex struct {
	mu      sync.Mutex
	entries map[string]domain.DedupIndexEntry
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{entries: map[string]domain.DedupIndexEntry{}}
}

func (m *memoryIndex) HasHash(_ context.Context, contentHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ContentHash == contentHash {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryIndex) Insert(_ context.Context, entry domain.DedupIndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.RecordID] = entry
	return nil
}

func (m *memoryIndex) InBand(_ context.Context, magnitude, tolerance float64) ([]domain.DedupIndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DedupIndexEntry
	for _, e := range m.entries {
		if e.Magnitude >= magnitude-tolerance && e.Magnitude <= magnitude+tolerance {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryIndex) KeepEarliest(_ context.Context, recordID string, publishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[recordID]; ok && publishedAt.Before(e.PublishedAt) {
		e.PublishedAt = publishedAt
		m.entries[recordID] = e
	}
	return nil
}

// substringEmbedder picks a vector by a marker substring, so near-duplicate
// phrasings of the same event land on nearly identical vectors.
type substringEmbedder struct {
	vectors map[string][]float32
}

func (e *substringEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	for marker, vec := range e.vectors {
		if strings.Contains(text, marker) {
			return vec, nil
		}
	}
	return []float32{0, 0, 1}, nil
}

type fakeGeocoder struct {
	coords map[string]domain.Coordinates
	calls  atomic.Int32
}

func (g *fakeGeocoder) ResolveBatch(_ context.Context, queries []string) (map[string]domain.Coordinates, error) {
	g.calls.Add(1)
	out := map[string]domain.Coordinates{}
	for _, q := range queries {
		if c, ok := g.coords[q]; ok {
			out[q] = c
		}
	}
	return out, nil
}

type fakeLLM struct {
	name  string
	text  string
	err   error
	calls atomic.Int32
}

func (f *fakeLLM) Name() string { return f.name }

func (f *fakeLLM) Complete(context.Context, string) (string, error) {
	f.calls.Add(1)
	return f.text, f.err
}

func testProvider(client *fakeLLM, threshold int) *enrich.Provider {
	policy := enrich.Policy{
		MaxRetries: 0,
		Backoff:    enrich.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
	}
	return enrich.NewProvider(client.name, 0, client, policy,
		enrich.NewCircuitBreaker(client.name, threshold, time.Minute, time.Minute, nil),
		enrich.NewTokenBucket(100, 1))
}

func testPipeline(deps PipelineDeps) *Pipeline {
	if deps.Normalizer == nil {
		deps.Normalizer = ingest.New(64, nil)
	}
	if deps.Scorer == nil {
		deps.Scorer = score.NewScorer(score.Thresholds{Moderate: 25, High: 55, Critical: 80})
	}
	deps.Workers = 2
	deps.MinScore = 40
	deps.Lookback = time.Hour
	deps.RunTimeout = time.Minute
	return NewPipeline(deps)
}

func TestIngestionCycleCollapsesNearDuplicates(t *testing.T) {
	t.Parallel()

	publishedAt := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{items: []domain.RawItem{
		{
			Title:       "Suicide bombing at international airport kills dozens",
			Body:        "A suicide bomber triggered a massive explosion in the main terminal. Officials report mass casualties and a hostage situation, and a state of emergency has been declared after the attack.",
			PublishedAt: publishedAt,
			SourceName:  "wire-a",
			SourceKind:  domain.SourceFeed,
		},
		{
			Title:       "Dozens dead after airport suicide bombing",
			Body:        "A suicide bomber set off an explosion in the terminal. Reports describe mass casualties, a hostage situation, and a declared state of emergency following the attack.",
			PublishedAt: publishedAt.Add(10 * time.Minute),
			SourceName:  "wire-b",
			SourceKind:  domain.SourceFeed,
		},
	}}

	embedder := &substringEmbedder{vectors: map[string][]float32{
		"kills dozens": {1, 0, 0},
		"Dozens dead":  {0.99, 0.141, 0},
	}}
	sink := newFakeSink()
	engine := dedup.NewEngine(newMemoryIndex(), embedder, 0.92, 0.1, nil)

	p := testPipeline(PipelineDeps{Source: source, Dedup: engine, Sink: sink})

	summary, err := p.RunIngestionCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 1, summary.Scored)
	assert.Equal(t, 1, summary.DuplicateSemantic)
	assert.Zero(t, summary.Failed)

	require.Len(t, sink.saved, 1, "two phrasings of one event collapse to one record")
	for _, rec := range sink.saved {
		assert.Equal(t, domain.LevelCritical, rec.ThreatLevel)
		assert.GreaterOrEqual(t, rec.Score, 80)
		assert.Equal(t, domain.DedupSemantic, rec.DedupMethod)
		assert.Equal(t, domain.StatusScored, rec.Status)
		assert.Equal(t, enrich.ModelNone, rec.ModelUsed)
		assert.NotEmpty(t, rec.Embedding)
	}
}

func TestIngestionCycleSkipsExactAndRejected(t *testing.T) {
	t.Parallel()

	item := domain.RawItem{
		Title:       "Riot and looting reported downtown",
		Body:        "Crowds clashed with police overnight.",
		PublishedAt: time.Now().UTC(),
		SourceName:  "wire-a",
		SourceKind:  domain.SourceFeed,
	}
	source := &fakeSource{items: []domain.RawItem{
		item,
		item, // byte-identical resend
		{SourceName: "wire-a"}, // no content at all
	}}

	sink := newFakeSink()
	engine := dedup.NewEngine(newMemoryIndex(), &substringEmbedder{}, 0.92, 0.1, nil)
	p := testPipeline(PipelineDeps{Source: source, Dedup: engine, Sink: sink})

	summary, err := p.RunIngestionCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Fetched)
	assert.Equal(t, 1, summary.Scored)
	assert.Equal(t, 1, summary.DuplicateExact)
	assert.Equal(t, 1, summary.Rejected)
	assert.Len(t, sink.saved, 1)
}

func TestIngestionCycleIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	source := &fakeSource{items: []domain.RawItem{{
		Title:       "Ransomware hits regional hospital",
		Body:        "Systems are offline after a ransomware intrusion.",
		PublishedAt: time.Now().UTC(),
		SourceName:  "wire-a",
		SourceKind:  domain.SourceCurated,
	}}}

	sink := newFakeSink()
	engine := dedup.NewEngine(newMemoryIndex(), &substringEmbedder{}, 0.92, 0.1, nil)

	first := testPipeline(PipelineDeps{Source: source, Dedup: engine, Sink: sink})
	_, err := first.RunIngestionCycle(context.Background())
	require.NoError(t, err)

	// A fresh process re-ingests the same feed: the recent-id cache is
	// empty, so the sink lookup has to catch the repeat.
	second := testPipeline(PipelineDeps{Source: source, Dedup: engine, Sink: sink})
	summary, err := second.RunIngestionCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.DuplicateExact)
	assert.Zero(t, summary.Scored)
	assert.Len(t, sink.saved, 1)
}

func pendingRecord(id string, scoreValue int, tags []string) domain.EnrichedRecord {
	return domain.EnrichedRecord{
		Candidate: domain.CandidateRecord{
			ID:          id,
			Title:       "Pending record " + id,
			Body:        "body",
			SourceName:  "wire-a",
			SourceKind:  domain.SourceFeed,
			PublishedAt: time.Now().UTC(),
			Tags:        tags,
		},
		Category:    "terrorism",
		Score:       scoreValue,
		Confidence:  0.7,
		ThreatLevel: domain.LevelHigh,
		ModelUsed:   enrich.ModelNone,
		DedupMethod: domain.DedupSemantic,
		Status:      domain.StatusScored,
	}
}

func TestEnrichmentCycleNarratesAboveMinScore(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	sink.pending = []domain.EnrichedRecord{
		pendingRecord("rec-high", 85, nil),
		pendingRecord("rec-low", 20, nil),
	}

	client := &fakeLLM{name: "primary", text: "Concise advisory narrative."}
	orchestrator := enrich.NewOrchestrator([]*enrich.Provider{testProvider(client, 5)}, time.Minute, nil)

	p := testPipeline(PipelineDeps{
		Sink:         sink,
		Orchestrator: orchestrator,
		Batch:        batch.NewManager(10, time.Minute, nil),
	})

	summary, err := p.RunEnrichmentCycle(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Enriched)
	assert.Equal(t, 1, summary.Degraded)
	assert.Equal(t, int32(1), client.calls.Load(), "below-threshold records never reach a provider")

	high := sink.saved["rec-high"]
	assert.Equal(t, "primary", high.ModelUsed)
	assert.Equal(t, "Concise advisory narrative.", high.Narrative)
	assert.Equal(t, domain.StatusEnriched, high.Status)
	assert.False(t, high.EnrichedAt.IsZero())

	low := sink.saved["rec-low"]
	assert.Equal(t, enrich.ModelNone, low.ModelUsed)
	assert.Empty(t, low.Narrative)
	assert.Equal(t, domain.StatusEnriched, low.Status)
}

func TestEnrichmentCycleDegradesWhenProvidersFail(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	sink.pending = []domain.EnrichedRecord{
		pendingRecord("rec-1", 90, []string{"location:Kabul"}),
		pendingRecord("rec-2", 75, nil),
		pendingRecord("rec-3", 60, nil),
	}

	client := &fakeLLM{name: "primary", err: &enrich.StatusError{Code: 500}}
	orchestrator := enrich.NewOrchestrator([]*enrich.Provider{testProvider(client, 1)}, time.Minute, nil)

	geocoder := &fakeGeocoder{coords: map[string]domain.Coordinates{
		"Kabul": {Lat: 34.53, Lon: 69.17},
	}}

	p := testPipeline(PipelineDeps{
		Sink:         sink,
		Orchestrator: orchestrator,
		Batch:        batch.NewManager(10, time.Minute, nil),
		Geocoder:     geocoder,
	})

	summary, err := p.RunEnrichmentCycle(context.Background(), 10)
	require.NoError(t, err, "provider outages never fail the cycle")

	assert.Equal(t, 3, summary.Processed)
	assert.Zero(t, summary.Enriched)
	assert.Equal(t, 3, summary.Degraded)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 1, summary.Geocoded)
	assert.Equal(t, int32(1), geocoder.calls.Load(), "one batched geocode call per cycle")

	require.Len(t, sink.saved, 3, "every record persists even with all providers down")
	for id, rec := range sink.saved {
		assert.Equal(t, enrich.ModelNone, rec.ModelUsed, id)
		assert.Empty(t, rec.Narrative, id)
		assert.Equal(t, domain.StatusEnriched, rec.Status, id)
		assert.Positive(t, rec.Score, "deterministic fields survive")
	}

	geocoded := sink.saved["rec-1"]
	require.NotNil(t, geocoded.Candidate.Coordinates)
	assert.InDelta(t, 34.53, geocoded.Candidate.Coordinates.Lat, 1e-9)
	assert.InDelta(t, 69.17, geocoded.Candidate.Coordinates.Lon, 1e-9)
}
