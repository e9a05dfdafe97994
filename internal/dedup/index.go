package dedup

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"ThreatScanner/internal/domain"
	"ThreatScanner/internal/ports"
)

// SQLiteIndex persists DedupIndexEntry rows in a local sqlite file.
// Magnitude is stored alongside the vector so the band pre-filter is a
// plain indexed range scan; writes are transactional, so a crash never
// exposes an entry whose magnitude disagrees with its embedding.
type SQLiteIndex struct {
	db *sql.DB
}

var _ ports.DedupIndex = (*SQLiteIndex)(nil)

const indexSchema = `
CREATE TABLE IF NOT EXISTS dedup_index (
    record_id    TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    magnitude    REAL NOT NULL,
    embedding    BLOB NOT NULL,
    published_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dedup_hash ON dedup_index(content_hash);
CREATE INDEX IF NOT EXISTS idx_dedup_magnitude ON dedup_index(magnitude);
`

// OpenIndex opens (and if needed creates) the index at path.
func OpenIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open dedup index: %w", err)
	}

	if _, err := db.Exec(indexSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create dedup schema: %w", err)
	}

	return &SQLiteIndex{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// HasHash reports whether an exact content-hash match already exists.
func (s *SQLiteIndex) HasHash(ctx context.Context, contentHash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM dedup_index WHERE content_hash = ? LIMIT 1`, contentHash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("hash lookup: %w", err)
	}
	return true, nil
}

// Insert writes a new entry. The magnitude is recomputed here from the
// embedding so the two can never drift apart.
func (s *SQLiteIndex) Insert(ctx context.Context, entry domain.DedupIndexEntry) error {
	mag := Magnitude(entry.Embedding)

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO dedup_index (record_id, content_hash, magnitude, embedding, published_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.RecordID, entry.ContentHash, mag, embeddingToBytes(entry.Embedding), entry.PublishedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert index entry: %w", err)
	}
	return nil
}

// InBand returns entries whose magnitude lies within tolerance of the
// given magnitude. This is the cheap pre-filter before cosine similarity.
func (s *SQLiteIndex) InBand(ctx context.Context, magnitude, tolerance float64) ([]domain.DedupIndexEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, content_hash, magnitude, embedding, published_at
		 FROM dedup_index WHERE magnitude BETWEEN ? AND ?`,
		magnitude-tolerance, magnitude+tolerance)
	if err != nil {
		return nil, fmt.Errorf("band query: %w", err)
	}
	defer rows.Close()

	var entries []domain.DedupIndexEntry
	for rows.Next() {
		var (
			entry domain.DedupIndexEntry
			blob  []byte
			unix  int64
		)
		if err := rows.Scan(&entry.RecordID, &entry.ContentHash, &entry.Magnitude, &blob, &unix); err != nil {
			return nil, fmt.Errorf("scan index entry: %w", err)
		}
		entry.Embedding = bytesToEmbedding(blob)
		entry.PublishedAt = time.Unix(unix, 0).UTC()
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// KeepEarliest merges a duplicate into an existing entry by keeping the
// earlier publication time of the two.
func (s *SQLiteIndex) KeepEarliest(ctx context.Context, recordID string, publishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE dedup_index SET published_at = MIN(published_at, ?) WHERE record_id = ?`,
		publishedAt.Unix(), recordID)
	if err != nil {
		return fmt.Errorf("merge published_at: %w", err)
	}
	return nil
}

// Magnitude is the L2 norm of a vector.
func Magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// embeddingToBytes serializes a vector as little-endian float32s.
func embeddingToBytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(x))
	}
	return out
}

// bytesToEmbedding converts a little-endian byte slice back to []float32.
func bytesToEmbedding(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
