package score

import (
	"regexp"
	"strings"

	"ThreatScanner/internal/domain"
)

const (
	keywordCap    = 55
	triggerCap    = 25
	severityCap   = 20
	contextualCap = 10
	windowChars   = 200

	confidenceFloor   = 0.40
	confidenceCeiling = 0.95
)

// MatchQuality grades how the keyword evidence was found.
type MatchQuality int

const (
	MatchNone MatchQuality = iota
	MatchBroad
	MatchWindow
	MatchDirect
)

// Thresholds map scores to threat levels. They must be strictly
// increasing; config validation enforces that before a Scorer is built.
type Thresholds struct {
	Moderate int
	High     int
	Critical int
}

// Level buckets a score deterministically.
func (t Thresholds) Level(score int) domain.ThreatLevel {
	switch {
	case score >= t.Critical:
		return domain.LevelCritical
	case score >= t.High:
		return domain.LevelHigh
	case score >= t.Moderate:
		return domain.LevelModerate
	default:
		return domain.LevelLow
	}
}

// Result is the full deterministic assessment of one candidate.
type Result struct {
	Score       int
	Confidence  float64
	Level       domain.ThreatLevel
	Components  domain.ScoreComponents
	Category    string
	Subcategory string
	Domains     []string
	Triggers    int
	Quality     MatchQuality
}

type compiledTerm struct {
	weightedTerm
	re *regexp.Regexp
}

// Scorer produces a reproducible 0-100 score and 0.40-0.95 confidence
// from local text analysis only. It is a pure function of its input:
// no network, no clock, no shared state.
type Scorer struct {
	thresholds Thresholds
	keywords   []compiledTerm
	triggers   []*regexp.Regexp
	severity   []*regexp.Regexp
	infra      []*regexp.Regexp
}

// NewScorer compiles the curated keyword tables into whole-word
// patterns. Substring matching is forbidden: "explosive" must not match
// inside "explosives reported missing" as a different term would.
func NewScorer(t Thresholds) *Scorer {
	s := &Scorer{thresholds: t}
	for _, kw := range threatKeywords {
		s.keywords = append(s.keywords, compiledTerm{kw, wholeWord(kw.term)})
	}
	for _, p := range triggerPhrases {
		s.triggers = append(s.triggers, wholeWord(p))
	}
	for _, p := range severityTerms {
		s.severity = append(s.severity, wholeWord(p))
	}
	for _, p := range infraTerms {
		s.infra = append(s.infra, wholeWord(p))
	}
	return s
}

func wholeWord(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
}

// Score assesses one candidate. Calling it twice on identical input
// yields identical results.
func (s *Scorer) Score(rec domain.CandidateRecord) Result {
	text := rec.Title + " " + rec.Body

	var (
		comp         domain.ScoreComponents
		domainWeight = map[string]int{}
		topTerm      string
		topWeight    int
		positions    []int
		directHit    bool
		keywordHits  int
	)

	for _, kw := range s.keywords {
		loc := kw.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		keywordHits++
		comp.KeywordWeight += kw.weight
		domainWeight[kw.domain] += kw.weight
		positions = append(positions, loc[0])
		if strings.Contains(kw.term, " ") {
			directHit = true
		}
		if kw.weight > topWeight {
			topWeight, topTerm = kw.weight, kw.term
		}
	}
	if comp.KeywordWeight > keywordCap {
		comp.KeywordWeight = keywordCap
	}

	triggerCount := countMatches(s.triggers, text)
	comp.TriggerPoints = min(triggerCount*5, triggerCap)

	severityCount := countMatches(s.severity, text)
	comp.SeverityPoints = min(severityCount*5, severityCap)

	quality := matchQuality(keywordHits, directHit, positions)
	switch quality {
	case MatchDirect:
		comp.MatchBonus = 8
	case MatchWindow:
		comp.MatchBonus = 5
	}

	if keywordHits > 0 && countMatches(s.infra, text) > 0 {
		comp.InfraNudge = 3
	}

	if triggerCount >= 2 {
		comp.ContextualNudges += 4
	}
	if triggerCount >= 3 {
		comp.ContextualNudges += 3
	}
	if severityCount >= 2 {
		comp.ContextualNudges += 3
	}
	if comp.ContextualNudges > contextualCap {
		comp.ContextualNudges = contextualCap
	}

	switch rec.SourceKind {
	case domain.SourceCurated:
		comp.ExternalSignal = 3
	case domain.SourceEventStream:
		comp.ExternalSignal = 2
	}

	total := comp.KeywordWeight + comp.TriggerPoints + comp.SeverityPoints +
		comp.MatchBonus + comp.InfraNudge + comp.ContextualNudges + comp.ExternalSignal
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}

	category, domains := rankDomains(domainWeight)

	return Result{
		Score:       total,
		Confidence:  s.confidence(rec, quality, triggerCount),
		Level:       s.thresholds.Level(total),
		Components:  comp,
		Category:    category,
		Subcategory: topTerm,
		Domains:     domains,
		Triggers:    triggerCount,
		Quality:     quality,
	}
}

// confidence is deliberately decoupled from score magnitude: it grades
// signal quality, not threat size.
func (s *Scorer) confidence(rec domain.CandidateRecord, quality MatchQuality, triggers int) float64 {
	c := 0.50

	switch rec.SourceKind {
	case domain.SourceCurated, domain.SourceEventStream:
		c += 0.12
	case domain.SourceFeed:
		c += 0.04
	}

	switch {
	case rec.Coordinates != nil:
		c += 0.10
	case hasLocationTag(rec.Tags):
		c += 0.05
	}

	switch quality {
	case MatchDirect:
		c += 0.10
	case MatchWindow:
		c += 0.06
	case MatchBroad:
		c += 0.02
	}

	if triggers >= 2 {
		c += 0.05
	}

	if c < confidenceFloor {
		c = confidenceFloor
	}
	if c > confidenceCeiling {
		c = confidenceCeiling
	}
	return c
}

func matchQuality(hits int, direct bool, positions []int) MatchQuality {
	if hits == 0 {
		return MatchNone
	}
	if direct {
		return MatchDirect
	}
	for i := range positions {
		for j := i + 1; j < len(positions); j++ {
			delta := positions[i] - positions[j]
			if delta < 0 {
				delta = -delta
			}
			if delta <= windowChars {
				return MatchWindow
			}
		}
	}
	return MatchBroad
}

// rankDomains returns the dominant domain and all matched domains in
// fixed report order, so output is stable across runs.
func rankDomains(weights map[string]int) (string, []string) {
	category := "general"
	best := 0
	var domains []string
	for _, d := range domainOrder {
		w := weights[d]
		if w == 0 {
			continue
		}
		domains = append(domains, d)
		if w > best {
			best, category = w, d
		}
	}
	return category, domains
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, re := range patterns {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

func hasLocationTag(tags []string) bool {
	for _, t := range tags {
		if strings.HasPrefix(t, "location:") {
			return true
		}
	}
	return false
}
