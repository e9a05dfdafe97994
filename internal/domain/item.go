package domain

import "time"

// RawItem is what a feed adapter delivers before normalization.
// Adapters are interchangeable: the pipeline treats every source the same.
type RawItem struct {
	Title       string
	Body        string
	PublishedAt time.Time
	SourceName  string
	SourceKind  SourceKind
	Coordinates *Coordinates
	Tags        []string
}
