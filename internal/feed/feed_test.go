package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"ThreatScanner/internal/config"
	"ThreatScanner/internal/domain"
)

type stubAdapter struct {
	name  string
	items []domain.RawItem
	err   error
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Fetch(context.Context, Request) ([]domain.RawItem, error) {
	return a.items, a.err
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&stubAdapter{name: "rss"})

	if _, err := reg.Resolve("rss"); err != nil {
		t.Fatalf("Resolve(rss) error: %v", err)
	}
	if _, err := reg.Resolve("unknown"); err == nil {
		t.Fatal("expected error for unregistered adapter")
	}
}

func TestMultiSourceIsolatesFeedFailures(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&stubAdapter{name: "broken", err: errors.New("connection refused")})
	reg.Register(&stubAdapter{name: "working", items: []domain.RawItem{
		{Title: "item one"},
		{Title: "item two"},
	}})

	source := NewMultiSource(reg, []config.FeedConfig{
		{Name: "feed-a", Adapter: "broken", SourceKind: "feed"},
		{Name: "feed-b", Adapter: "missing", SourceKind: "feed"},
		{Name: "feed-c", Adapter: "working", SourceKind: "curated"},
	}, nil)

	items, err := source.FetchSince(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("one broken feed must not fail the fetch: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 items from the healthy feed, got %d", len(items))
	}
	for _, item := range items {
		if item.SourceName != "feed-c" {
			t.Errorf("feed name not stamped: %+v", item)
		}
		if item.SourceKind != domain.SourceCurated {
			t.Errorf("source kind not stamped: %+v", item)
		}
	}
}
