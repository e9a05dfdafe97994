package dedup

import (
	"context"
	"log/slog"
	"math"

	"ThreatScanner/internal/domain"
	"ThreatScanner/internal/ports"
)

// Decision is the outcome of a duplicate check for one candidate.
type Decision struct {
	Method     domain.DedupMethod
	Duplicate  bool
	MatchID    string
	Similarity float64

	// Embedding and Magnitude are populated when the semantic path ran,
	// so the caller can reuse the vector on the enriched record.
	Embedding []float32
	Magnitude float64
}

// Engine performs two-tier duplicate detection: exact content-hash
// lookup, then magnitude-banded cosine similarity over the index.
type Engine struct {
	index     ports.DedupIndex
	embedder  ports.Embedder
	threshold float64
	tolerance float64
	logger    *slog.Logger
}

// NewEngine wires the index and embedding provider with tuning knobs.
func NewEngine(index ports.DedupIndex, embedder ports.Embedder, threshold, tolerance float64, logger *slog.Logger) *Engine {
	return &Engine{
		index:     index,
		embedder:  embedder,
		threshold: threshold,
		tolerance: tolerance,
		logger:    logger,
	}
}

// Check classifies the candidate as duplicate or new. When the embedding
// provider is exhausted or unavailable the engine degrades to hash-only
// mode: duplicates may slip through, but ingestion never blocks.
func (e *Engine) Check(ctx context.Context, rec domain.CandidateRecord) (Decision, error) {
	match, err := e.index.HasHash(ctx, rec.ID)
	if err != nil {
		return Decision{}, err
	}
	if match {
		e.log("dedup decision", "record", rec.ID, "method", domain.DedupHash, "duplicate", true)
		return Decision{Method: domain.DedupHash, Duplicate: true, MatchID: rec.ID}, nil
	}

	if e.embedder == nil {
		return Decision{Method: domain.DedupHash}, nil
	}

	embedding, err := e.embedder.Embed(ctx, rec.Title+" "+rec.Body)
	if err != nil {
		e.log("embedding unavailable, degrading to hash-only dedup", "record", rec.ID, "error", err)
		return Decision{Method: domain.DedupHash}, nil
	}

	magnitude := Magnitude(embedding)

	band, err := e.index.InBand(ctx, magnitude, e.tolerance)
	if err != nil {
		return Decision{}, err
	}

	bestID, bestSim := "", 0.0
	for _, entry := range band {
		sim := Clamp01(CosineSimilarity(embedding, entry.Embedding))
		if sim > bestSim {
			bestID, bestSim = entry.RecordID, sim
		}
	}

	if bestID != "" && bestSim >= e.threshold {
		if err := e.index.KeepEarliest(ctx, bestID, rec.PublishedAt); err != nil {
			return Decision{}, err
		}
		e.log("dedup decision", "record", rec.ID, "method", domain.DedupSemantic,
			"duplicate", true, "match", bestID, "similarity", bestSim)
		return Decision{
			Method:     domain.DedupSemantic,
			Duplicate:  true,
			MatchID:    bestID,
			Similarity: bestSim,
			Embedding:  embedding,
			Magnitude:  magnitude,
		}, nil
	}

	entry := domain.DedupIndexEntry{
		RecordID:    rec.ID,
		ContentHash: rec.ID,
		Embedding:   embedding,
		Magnitude:   magnitude,
		PublishedAt: rec.PublishedAt,
	}
	if err := e.index.Insert(ctx, entry); err != nil {
		return Decision{}, err
	}

	e.log("dedup decision", "record", rec.ID, "method", domain.DedupSemantic,
		"duplicate", false, "band_size", len(band), "best_similarity", bestSim)
	return Decision{
		Method:     domain.DedupSemantic,
		Similarity: bestSim,
		Embedding:  embedding,
		Magnitude:  magnitude,
	}, nil
}

func (e *Engine) log(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Info(msg, args...)
	}
}

// CosineSimilarity computes cosine similarity between two vectors.
// Returns 0.0 for zero-norm vectors or mismatched lengths.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Clamp01 pins rounding-error overshoot back into [0,1] before any
// threshold comparison.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
