package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"ThreatScanner/internal/domain"
)

// ErrMissingContent marks a permanent validation failure: an item with
// neither title nor body is rejected, never retried.
var ErrMissingContent = errors.New("item has no title and no body")

// Normalizer turns raw feed items into CandidateRecords and performs
// exact (hash-level) dedup against a bounded recent-id cache.
type Normalizer struct {
	cache  *recentCache
	logger *slog.Logger
}

// New builds a normalizer with a recent-id cache of the given size.
func New(cacheSize int, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		cache:  newRecentCache(cacheSize),
		logger: logger,
	}
}

// Normalize validates and cleans a raw item. The returned record's ID is
// a content hash over (title, normalized body, source name), so the same
// raw item always maps to the same record.
func (n *Normalizer) Normalize(item domain.RawItem) (domain.CandidateRecord, error) {
	title := collapseWhitespace(item.Title)
	body := collapseWhitespace(stripMarkup(item.Body))

	if title == "" && body == "" {
		if n.logger != nil {
			n.logger.Warn("rejecting malformed item", "source", item.SourceName)
		}
		return domain.CandidateRecord{}, ErrMissingContent
	}

	return domain.CandidateRecord{
		ID:          contentID(title, body, item.SourceName),
		Title:       title,
		Body:        body,
		PublishedAt: item.PublishedAt.UTC(),
		SourceName:  item.SourceName,
		SourceKind:  item.SourceKind,
		Coordinates: item.Coordinates,
		Tags:        item.Tags,
	}, nil
}

// SeenRecently reports whether the id was already observed in the cache
// window and records it. Covers re-delivery from at-least-once feeds.
func (n *Normalizer) SeenRecently(id string) bool {
	return n.cache.seen(id)
}

func contentID(title, body, sourceName string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(body))
	h.Write([]byte{0})
	h.Write([]byte(sourceName))
	return hex.EncodeToString(h.Sum(nil))
}

// stripMarkup removes HTML tags from body text. Plain text passes through.
func stripMarkup(body string) string {
	if !strings.Contains(body, "<") {
		return body
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}
	return doc.Text()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// recentCache is a bounded FIFO set of recently ingested record ids.
type recentCache struct {
	mu    sync.Mutex
	max   int
	order []string
	set   map[string]struct{}
}

func newRecentCache(max int) *recentCache {
	if max < 1 {
		max = 1
	}
	return &recentCache{max: max, set: make(map[string]struct{}, max)}
}

// seen reports membership and inserts the id, evicting the oldest entry
// once the cache is full.
func (c *recentCache) seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.set[id]; ok {
		return true
	}

	if len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.set, oldest)
	}

	c.set[id] = struct{}{}
	c.order = append(c.order, id)
	return false
}
