package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ThreatScanner/internal/domain"
)

func defaultThresholds() Thresholds {
	return Thresholds{Moderate: 25, High: 55, Critical: 80}
}

func TestScoreIsDeterministic(t *testing.T) {
	t.Parallel()

	s := NewScorer(defaultThresholds())
	rec := domain.CandidateRecord{
		Title:      "Suicide bombing at international airport kills dozens",
		Body:       "A suicide bomber triggered a massive explosion in the main terminal. Officials report mass casualties and a hostage situation, and a state of emergency has been declared after the attack.",
		SourceName: "wire-a",
		SourceKind: domain.SourceFeed,
	}

	first := s.Score(rec)
	second := s.Score(rec)

	assert.Equal(t, first, second, "identical input must produce identical output")
}

func TestScoreCriticalIncident(t *testing.T) {
	t.Parallel()

	s := NewScorer(defaultThresholds())
	result := s.Score(domain.CandidateRecord{
		Title:      "Suicide bombing at international airport kills dozens",
		Body:       "A suicide bomber triggered a massive explosion in the main terminal. Officials report mass casualties and a hostage situation, and a state of emergency has been declared after the attack.",
		SourceKind: domain.SourceFeed,
	})

	assert.GreaterOrEqual(t, result.Score, 80)
	assert.Equal(t, domain.LevelCritical, result.Level)
	assert.Equal(t, "terrorism", result.Category)
	assert.Equal(t, MatchDirect, result.Quality, "multi-word term present")
	assert.Equal(t, 3, result.Triggers)
	assert.Equal(t, 3, result.Components.InfraNudge, "airport co-occurring with threat terms")
}

func TestWholeWordMatchingOnly(t *testing.T) {
	t.Parallel()

	s := NewScorer(defaultThresholds())

	// "explosives" must not match the "explosive" term as a substring.
	miss := s.Score(domain.CandidateRecord{Title: "Explosives were stolen from a depot"})
	assert.Zero(t, miss.Components.KeywordWeight)
	assert.Equal(t, domain.LevelLow, miss.Level)

	hit := s.Score(domain.CandidateRecord{Title: "An explosive device was found"})
	assert.Equal(t, 8, hit.Components.KeywordWeight)
}

func TestKeywordWeightCapped(t *testing.T) {
	t.Parallel()

	s := NewScorer(defaultThresholds())
	result := s.Score(domain.CandidateRecord{
		Title: "airstrike missile strike shelling artillery invasion",
		Body:  "bombing explosion hostage shooting gunfire kidnapping",
	})

	assert.Equal(t, 55, result.Components.KeywordWeight)
	assert.LessOrEqual(t, result.Score, 100)
}

func TestThresholdLevels(t *testing.T) {
	t.Parallel()

	th := defaultThresholds()

	assert.Equal(t, domain.LevelLow, th.Level(0))
	assert.Equal(t, domain.LevelLow, th.Level(24))
	assert.Equal(t, domain.LevelModerate, th.Level(25))
	assert.Equal(t, domain.LevelHigh, th.Level(55))
	assert.Equal(t, domain.LevelHigh, th.Level(79))
	assert.Equal(t, domain.LevelCritical, th.Level(80))
	assert.Equal(t, domain.LevelCritical, th.Level(100))
}

func TestSourceKindSignal(t *testing.T) {
	t.Parallel()

	s := NewScorer(defaultThresholds())
	base := domain.CandidateRecord{Title: "Riot and looting reported downtown"}

	feed := base
	feed.SourceKind = domain.SourceFeed
	curated := base
	curated.SourceKind = domain.SourceCurated

	feedResult := s.Score(feed)
	curatedResult := s.Score(curated)

	assert.Equal(t, 0, feedResult.Components.ExternalSignal)
	assert.Equal(t, 3, curatedResult.Components.ExternalSignal)
	assert.Equal(t, feedResult.Score+3, curatedResult.Score)
	assert.Greater(t, curatedResult.Confidence, feedResult.Confidence)
}

func TestConfidenceStaysInBounds(t *testing.T) {
	t.Parallel()

	s := NewScorer(defaultThresholds())
	records := []domain.CandidateRecord{
		{},
		{Title: "quiet day, nothing happened"},
		{
			Title:       "Suicide bombing and hostage situation after mass shooting",
			Body:        "A suicide bomber struck. A state of emergency is declared.",
			SourceKind:  domain.SourceCurated,
			Coordinates: &domain.Coordinates{Lat: 34.5, Lon: 69.2},
		},
	}

	for _, rec := range records {
		result := s.Score(rec)
		assert.GreaterOrEqual(t, result.Confidence, 0.40)
		assert.LessOrEqual(t, result.Confidence, 0.95)
	}
}

func TestConfidenceGradesSignalQualityNotScore(t *testing.T) {
	t.Parallel()

	s := NewScorer(defaultThresholds())

	// Low score, strong provenance: curated source with coordinates.
	weakThreat := s.Score(domain.CandidateRecord{
		Title:       "Minor unrest near the market",
		SourceKind:  domain.SourceCurated,
		Coordinates: &domain.Coordinates{Lat: 1, Lon: 1},
	})

	// Higher score, weak provenance: bare feed item.
	strongThreat := s.Score(domain.CandidateRecord{
		Title:      "Riot and looting under curfew",
		SourceKind: domain.SourceFeed,
	})

	require.Less(t, weakThreat.Score, strongThreat.Score)
	assert.Greater(t, weakThreat.Confidence, strongThreat.Confidence)
}

func TestDomainsReportedInFixedOrder(t *testing.T) {
	t.Parallel()

	s := NewScorer(defaultThresholds())
	result := s.Score(domain.CandidateRecord{
		Title: "Riot erupts after ransomware attack on city services",
	})

	assert.Equal(t, []string{"terrorism", "cyber", "civil-unrest"}, result.Domains)
	assert.Equal(t, "cyber", result.Category)
}
