package domain

import "time"

// SourceKind distinguishes the transport class an item arrived through.
type SourceKind string

const (
	SourceFeed        SourceKind = "feed"
	SourceCurated     SourceKind = "curated"
	SourceEventStream SourceKind = "event-stream"
)

// Coordinates is an optional lat/lon pair attached to an event.
type Coordinates struct {
	Lat float64
	Lon float64
}

// CandidateRecord is a normalized, not-yet-scored observed event.
// ID is a content hash over (title, normalized body, source name), so
// re-ingesting the same raw item always yields the same record.
type CandidateRecord struct {
	ID          string
	Title       string
	Body        string
	PublishedAt time.Time
	SourceName  string
	SourceKind  SourceKind
	Coordinates *Coordinates
	Tags        []string
}

// ThreatLevel buckets a numeric score into an operator-facing label.
type ThreatLevel string

const (
	LevelLow      ThreatLevel = "Low"
	LevelModerate ThreatLevel = "Moderate"
	LevelHigh     ThreatLevel = "High"
	LevelCritical ThreatLevel = "Critical"
)

// DedupMethod records which duplicate-detection path cleared a record.
type DedupMethod string

const (
	DedupHash     DedupMethod = "hash"
	DedupSemantic DedupMethod = "semantic"
)

// ScoreComponents is the structured breakdown behind a deterministic score.
type ScoreComponents struct {
	KeywordWeight    int `json:"keyword_weight"`
	TriggerPoints    int `json:"trigger_points"`
	SeverityPoints   int `json:"severity_points"`
	MatchBonus       int `json:"match_bonus"`
	InfraNudge       int `json:"infra_nudge"`
	ContextualNudges int `json:"contextual_nudges"`
	ExternalSignal   int `json:"external_signal"`
}

// ProcessingStatus enumerates pipeline milestones.
type ProcessingStatus string

const (
	StatusScored   ProcessingStatus = "scored"
	StatusEnriched ProcessingStatus = "enriched"
)

// EnrichedRecord is a CandidateRecord plus derived intelligence.
// Score and Confidence are always populated by the deterministic scorer,
// even when every LLM provider is down.
type EnrichedRecord struct {
	Candidate CandidateRecord

	Category    string
	Subcategory string
	Score       int
	Confidence  float64
	ThreatLevel ThreatLevel
	Domains     []string
	Components  ScoreComponents
	Narrative   string
	Embedding   []float32

	// ModelUsed names the provider that produced Narrative, or "none"
	// when the record carries deterministic fields only.
	ModelUsed   string
	DedupMethod DedupMethod
	Status      ProcessingStatus
	EnrichedAt  time.Time
}

// DedupIndexEntry is one similarity-search record in the dedup index.
// Magnitude is the L2 norm of Embedding; the two are always written together.
type DedupIndexEntry struct {
	RecordID    string
	ContentHash string
	Embedding   []float32
	Magnitude   float64
	PublishedAt time.Time
}
