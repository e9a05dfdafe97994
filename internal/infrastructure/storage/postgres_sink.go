package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"ThreatScanner/internal/domain"
	"ThreatScanner/internal/ports"
)

// PostgresSink persists enriched records. Persist is idempotent on the
// record id: re-enrichment overwrites the prior enriched fields.
type PostgresSink struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.RecordSink = (*PostgresSink)(nil)

// NewPostgresSink wires a sql.DB connection.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// SeenIDs returns which of the given ids already exist in storage,
// extending the in-memory recent-id cache across restarts.
func (s *PostgresSink) SeenIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if s.db == nil || len(ids) == 0 {
		return result, nil
	}

	query, args, err := s.sb.Select("id").From("records").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build seen query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query seen ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		result[id] = true
	}

	return result, rows.Err()
}

// SaveCandidate persists a scored record awaiting enrichment.
func (s *PostgresSink) SaveCandidate(ctx context.Context, rec domain.EnrichedRecord) error {
	return s.save(ctx, rec)
}

// SaveEnriched persists the final enriched record.
func (s *PostgresSink) SaveEnriched(ctx context.Context, rec domain.EnrichedRecord) error {
	return s.save(ctx, rec)
}

func (s *PostgresSink) save(ctx context.Context, rec domain.EnrichedRecord) error {
	if s.db == nil {
		return nil
	}

	components, err := json.Marshal(rec.Components)
	if err != nil {
		return fmt.Errorf("marshal score components: %w", err)
	}

	var lat, lon any
	if c := rec.Candidate.Coordinates; c != nil {
		lat, lon = c.Lat, c.Lon
	}

	var enrichedAt any
	if !rec.EnrichedAt.IsZero() {
		enrichedAt = rec.EnrichedAt
	}

	query, args, err := s.sb.Insert("records").
		Columns("id", "title", "body", "published_at", "source_name", "source_kind",
			"lat", "lon", "tags", "category", "subcategory", "score", "confidence",
			"threat_level", "domains", "components", "narrative", "model_used",
			"dedup_method", "status", "enriched_at").
		Values(rec.Candidate.ID, rec.Candidate.Title, rec.Candidate.Body,
			rec.Candidate.PublishedAt, rec.Candidate.SourceName, string(rec.Candidate.SourceKind),
			lat, lon, pq.Array(rec.Candidate.Tags), rec.Category, rec.Subcategory,
			rec.Score, rec.Confidence, string(rec.ThreatLevel), pq.Array(rec.Domains),
			components, rec.Narrative, rec.ModelUsed, string(rec.DedupMethod),
			string(rec.Status), enrichedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			category = EXCLUDED.category,
			subcategory = EXCLUDED.subcategory,
			score = EXCLUDED.score,
			confidence = EXCLUDED.confidence,
			threat_level = EXCLUDED.threat_level,
			domains = EXCLUDED.domains,
			components = EXCLUDED.components,
			narrative = EXCLUDED.narrative,
			model_used = EXCLUDED.model_used,
			dedup_method = EXCLUDED.dedup_method,
			status = EXCLUDED.status,
			enriched_at = EXCLUDED.enriched_at,
			updated_at = NOW()`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.Candidate.ID, err)
	}

	return nil
}

// PendingEnrichment returns scored records awaiting enrichment, highest
// score first.
func (s *PostgresSink) PendingEnrichment(ctx context.Context, limit int) ([]domain.EnrichedRecord, error) {
	if s.db == nil {
		return nil, nil
	}

	query, args, err := s.sb.Select("id", "title", "body", "published_at", "source_name",
		"source_kind", "lat", "lon", "tags", "category", "subcategory", "score",
		"confidence", "threat_level", "domains", "components", "dedup_method").
		From("records").
		Where(sq.Eq{"status": string(domain.StatusScored)}).
		OrderBy("score DESC", "published_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var records []domain.EnrichedRecord
	for rows.Next() {
		var (
			rec         domain.EnrichedRecord
			sourceKind  string
			lat, lon    sql.NullFloat64
			tags        []string
			threatLevel string
			domains     []string
			components  []byte
			dedupMethod string
		)
		if err := rows.Scan(&rec.Candidate.ID, &rec.Candidate.Title, &rec.Candidate.Body,
			&rec.Candidate.PublishedAt, &rec.Candidate.SourceName, &sourceKind,
			&lat, &lon, pq.Array(&tags), &rec.Category, &rec.Subcategory, &rec.Score,
			&rec.Confidence, &threatLevel, pq.Array(&domains), &components, &dedupMethod); err != nil {
			return nil, fmt.Errorf("scan pending record: %w", err)
		}

		rec.Candidate.SourceKind = domain.SourceKind(sourceKind)
		if lat.Valid && lon.Valid {
			rec.Candidate.Coordinates = &domain.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
		}
		rec.Candidate.Tags = tags
		rec.ThreatLevel = domain.ThreatLevel(threatLevel)
		rec.Domains = domains
		rec.DedupMethod = domain.DedupMethod(dedupMethod)
		rec.Status = domain.StatusScored
		if len(components) > 0 {
			if err := json.Unmarshal(components, &rec.Components); err != nil {
				return nil, fmt.Errorf("unmarshal components for %s: %w", rec.Candidate.ID, err)
			}
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
