package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ThreatScanner/internal/batch"
	"ThreatScanner/internal/dedup"
	"ThreatScanner/internal/domain"
	"ThreatScanner/internal/enrich"
	"ThreatScanner/internal/ingest"
	"ThreatScanner/internal/ports"
	"ThreatScanner/internal/score"
)

// PipelineDeps wires all driven adapters into the pipeline.
type PipelineDeps struct {
	Source       ports.ItemSource
	Normalizer   *ingest.Normalizer
	Dedup        *dedup.Engine
	Scorer       *score.Scorer
	Orchestrator *enrich.Orchestrator
	Batch        *batch.Manager
	Geocoder     ports.Geocoder
	Sink         ports.RecordSink
	Logger       *slog.Logger

	Workers    int
	MinScore   int
	Lookback   time.Duration
	RunTimeout time.Duration
}

// Pipeline implements the two operational entry points: the ingestion
// cycle and the enrichment cycle, each invoked by a scheduler or a
// manual trigger and independent of the other.
type Pipeline struct {
	source       ports.ItemSource
	normalizer   *ingest.Normalizer
	dedup        *dedup.Engine
	scorer       *score.Scorer
	orchestrator *enrich.Orchestrator
	batch        *batch.Manager
	geocoder     ports.Geocoder
	sink         ports.RecordSink
	logger       *slog.Logger

	workers    int
	minScore   int
	lookback   time.Duration
	runTimeout time.Duration
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	workers := deps.Workers
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		source:       deps.Source,
		normalizer:   deps.Normalizer,
		dedup:        deps.Dedup,
		scorer:       deps.Scorer,
		orchestrator: deps.Orchestrator,
		batch:        deps.Batch,
		geocoder:     deps.Geocoder,
		sink:         deps.Sink,
		logger:       deps.Logger,
		workers:      workers,
		minScore:     deps.MinScore,
		lookback:     deps.Lookback,
		runTimeout:   deps.RunTimeout,
	}
}

// IngestionSummary reports what one ingestion cycle did.
type IngestionSummary struct {
	RunID             string
	Fetched           int
	Rejected          int
	DuplicateExact    int
	DuplicateSemantic int
	Scored            int
	Failed            int
	Elapsed           time.Duration
}

// EnrichmentSummary reports what one enrichment cycle did.
type EnrichmentSummary struct {
	RunID    string
	Processed int
	Enriched  int
	Degraded  int
	Geocoded  int
	Failed    int
	Elapsed   time.Duration
}

// RunIngestionCycle fetches raw items, normalizes and dedups them, and
// persists scored candidates. Per-record failures are isolated and
// counted; only a systemic source or sink failure aborts the cycle.
func (p *Pipeline) RunIngestionCycle(ctx context.Context) (IngestionSummary, error) {
	summary := IngestionSummary{RunID: uuid.NewString()}
	start := time.Now()
	defer func() { summary.Elapsed = time.Since(start) }()

	items, err := p.source.FetchSince(ctx, start.Add(-p.lookback))
	if err != nil {
		return summary, fmt.Errorf("fetch items: %w", err)
	}
	summary.Fetched = len(items)

	var candidates []domain.CandidateRecord
	for _, item := range items {
		cand, err := p.normalizer.Normalize(item)
		if err != nil {
			if errors.Is(err, ingest.ErrMissingContent) {
				summary.Rejected++
				continue
			}
			summary.Failed++
			continue
		}

		if p.normalizer.SeenRecently(cand.ID) {
			summary.DuplicateExact++
			continue
		}
		candidates = append(candidates, cand)
	}

	if len(candidates) == 0 {
		return summary, nil
	}

	ids := make([]string, len(candidates))
	for i, cand := range candidates {
		ids[i] = cand.ID
	}

	seen, err := p.sink.SeenIDs(ctx, ids)
	if err != nil {
		return summary, fmt.Errorf("load seen ids: %w", err)
	}

	for _, cand := range candidates {
		if seen[cand.ID] {
			summary.DuplicateExact++
			continue
		}

		decision, err := p.dedup.Check(ctx, cand)
		if err != nil {
			p.warn("dedup check failed", "record", cand.ID, "error", err)
			summary.Failed++
			continue
		}
		if decision.Duplicate {
			if decision.Method == domain.DedupSemantic {
				summary.DuplicateSemantic++
			} else {
				summary.DuplicateExact++
			}
			continue
		}

		result := p.scorer.Score(cand)
		rec := domain.EnrichedRecord{
			Candidate:   cand,
			Category:    result.Category,
			Subcategory: result.Subcategory,
			Score:       result.Score,
			Confidence:  result.Confidence,
			ThreatLevel: result.Level,
			Domains:     result.Domains,
			Components:  result.Components,
			Embedding:   decision.Embedding,
			ModelUsed:   enrich.ModelNone,
			DedupMethod: decision.Method,
			Status:      domain.StatusScored,
		}

		if err := p.sink.SaveCandidate(ctx, rec); err != nil {
			p.warn("persist candidate failed", "record", cand.ID, "error", err)
			summary.Failed++
			continue
		}
		summary.Scored++
	}

	p.info("ingestion cycle done", "run", summary.RunID,
		"fetched", summary.Fetched, "rejected", summary.Rejected,
		"dup_exact", summary.DuplicateExact, "dup_semantic", summary.DuplicateSemantic,
		"scored", summary.Scored, "failed", summary.Failed, "elapsed", time.Since(start))
	return summary, nil
}

// RunEnrichmentCycle processes up to batchLimit pending records through
// the provider orchestrator and the batched geocode sub-task. No LLM
// failure propagates: worst case a record keeps deterministic fields
// with modelUsed=none.
func (p *Pipeline) RunEnrichmentCycle(ctx context.Context, batchLimit int) (EnrichmentSummary, error) {
	summary := EnrichmentSummary{RunID: uuid.NewString()}
	start := time.Now()
	defer func() { summary.Elapsed = time.Since(start) }()

	if p.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.runTimeout)
		defer cancel()
	}

	records, err := p.sink.PendingEnrichment(ctx, batchLimit)
	if err != nil {
		return summary, fmt.Errorf("load pending records: %w", err)
	}
	summary.Processed = len(records)

	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	var mu sync.Mutex

	for i := range records {
		rec := &records[i]
		g.Go(func() error {
			if p.orchestrator != nil && rec.Score >= p.minScore {
				narrative, model := p.orchestrator.Complete(ctx, rec.Candidate.ID, buildPrompt(rec))
				rec.Narrative, rec.ModelUsed = narrative, model
			} else {
				rec.ModelUsed = enrich.ModelNone
			}

			mu.Lock()
			if rec.ModelUsed == enrich.ModelNone {
				summary.Degraded++
			} else {
				summary.Enriched++
			}
			mu.Unlock()

			if p.batch != nil && rec.Candidate.Coordinates == nil {
				if hint := locationHint(rec.Candidate.Tags); hint != "" {
					p.batch.QueueEntry(hint, rec.Candidate.SourceName, rec.Candidate.ID)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Geocoded = p.resolveLocations(ctx, records)

	enrichedAt := time.Now().UTC()
	for i := range records {
		records[i].Status = domain.StatusEnriched
		records[i].EnrichedAt = enrichedAt
		if err := p.sink.SaveEnriched(ctx, records[i]); err != nil {
			p.warn("persist enriched failed", "record", records[i].Candidate.ID, "error", err)
			summary.Failed++
		}
	}

	p.info("enrichment cycle done", "run", summary.RunID,
		"processed", summary.Processed, "enriched", summary.Enriched,
		"degraded", summary.Degraded, "geocoded", summary.Geocoded,
		"failed", summary.Failed, "elapsed", time.Since(start))
	return summary, nil
}

// resolveLocations drains the batch buffer, issues one geocode call for
// the whole batch, and applies matched coordinates back to the records.
func (p *Pipeline) resolveLocations(ctx context.Context, records []domain.EnrichedRecord) int {
	if p.batch == nil || p.geocoder == nil {
		return 0
	}

	entries := p.batch.ExtractBufferEntries()
	if len(entries) > 0 {
		queries := make([]string, 0, len(entries))
		seen := map[string]struct{}{}
		for _, e := range entries {
			if _, ok := seen[e.Payload]; ok {
				continue
			}
			seen[e.Payload] = struct{}{}
			queries = append(queries, e.Payload)
		}

		coords, err := p.geocoder.ResolveBatch(ctx, queries)
		if err != nil {
			p.warn("geocode batch failed", "queries", len(queries), "error", err)
		} else {
			results := make(map[string]any)
			for _, e := range entries {
				if c, ok := coords[e.Payload]; ok {
					results[e.RecordID] = c
				}
			}
			p.batch.StoreBatchResults(results)
		}
	}

	resolved := p.batch.PendingResults()
	if len(resolved) == 0 {
		return 0
	}

	applied := 0
	for i := range records {
		result, ok := resolved[records[i].Candidate.ID]
		if !ok {
			continue
		}
		if c, ok := result.Data.(domain.Coordinates); ok {
			records[i].Candidate.Coordinates = &c
			applied++
		}
	}
	return applied
}

func buildPrompt(rec *domain.EnrichedRecord) string {
	var sb strings.Builder
	sb.WriteString("Event report from ")
	sb.WriteString(rec.Candidate.SourceName)
	sb.WriteString(":\nTitle: ")
	sb.WriteString(rec.Candidate.Title)
	sb.WriteString("\nBody: ")
	sb.WriteString(rec.Candidate.Body)
	sb.WriteString(fmt.Sprintf("\nPreliminary category: %s, score: %d/100.\n", rec.Category, rec.Score))
	sb.WriteString("Summarize the threat in 2-3 sentences for a security advisory.")
	return sb.String()
}

// locationHint extracts a geocodable name from source labels.
func locationHint(tags []string) string {
	for _, t := range tags {
		if rest, ok := strings.CutPrefix(t, "location:"); ok && rest != "" {
			return rest
		}
	}
	return ""
}

func (p *Pipeline) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
