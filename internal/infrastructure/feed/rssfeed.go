package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"ThreatScanner/internal/domain"
	"ThreatScanner/internal/feed"
)

// RSSAdapter fetches RSS 2.0 feeds over HTTP.
type RSSAdapter struct {
	client *http.Client
}

// NewRSSAdapter wires an HTTP client; a nil client gets a default with
// a 20s timeout.
func NewRSSAdapter(client *http.Client) *RSSAdapter {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &RSSAdapter{client: client}
}

// Name identifies the strategy inside the registry.
func (a *RSSAdapter) Name() string {
	return "rss"
}

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Description string   `xml:"description"`
	PubDate     string   `xml:"pubDate"`
	Categories  []string `xml:"category"`
}

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

// Fetch downloads the feed and returns items published after req.Since.
func (a *RSSAdapter) Fetch(ctx context.Context, req feed.Request) ([]domain.RawItem, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "ThreatScanner/1.0")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned %s", req.SourceName, resp.Status)
	}

	var doc rssDocument
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var items []domain.RawItem
	for _, item := range doc.Channel.Items {
		publishedAt := parsePubDate(item.PubDate)
		if !req.Since.IsZero() && publishedAt.Before(req.Since) {
			continue
		}

		items = append(items, domain.RawItem{
			Title:       item.Title,
			Body:        item.Description,
			PublishedAt: publishedAt,
			SourceName:  req.SourceName,
			SourceKind:  req.SourceKind,
			Tags:        item.Categories,
		})
	}

	return items, nil
}

func parsePubDate(value string) time.Time {
	for _, layout := range pubDateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}
