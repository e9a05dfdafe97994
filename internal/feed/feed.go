package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ThreatScanner/internal/config"
	"ThreatScanner/internal/domain"
	"ThreatScanner/internal/ports"
)

// Request carries all parameters required to execute one fetch.
type Request struct {
	Since      time.Time
	SourceName string
	URL        string
	SourceKind domain.SourceKind
}

// Adapter captures a single source strategy (RSS feed, curated event
// API, etc.). The pipeline treats every adapter identically.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]domain.RawItem, error)
}

// Registry keeps a mapping from adapter names to their implementations.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register adds or replaces an adapter implementation.
func (r *Registry) Register(adapter Adapter) {
	if r.adapters == nil {
		r.adapters = map[string]Adapter{}
	}
	r.adapters[adapter.Name()] = adapter
}

// Resolve returns an adapter by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Adapter, error) {
	if adapter, ok := r.adapters[name]; ok {
		return adapter, nil
	}
	return nil, fmt.Errorf("feed adapter %s is not registered", name)
}

// MultiSource implements ports.ItemSource across all configured feeds.
// A failure in one feed is logged and isolated; the others still run.
type MultiSource struct {
	registry *Registry
	feeds    []config.FeedConfig
	logger   *slog.Logger
}

var _ ports.ItemSource = (*MultiSource)(nil)

// NewMultiSource wires the adapter registry with config-defined feeds.
func NewMultiSource(reg *Registry, feeds []config.FeedConfig, logger *slog.Logger) *MultiSource {
	return &MultiSource{
		registry: reg,
		feeds:    feeds,
		logger:   logger,
	}
}

// FetchSince iterates over configured feeds and aggregates their items.
func (s *MultiSource) FetchSince(ctx context.Context, since time.Time) ([]domain.RawItem, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("feed registry is not configured")
	}

	var aggregated []domain.RawItem
	for _, feed := range s.feeds {
		adapter, err := s.registry.Resolve(feed.Adapter)
		if err != nil {
			s.warn("skipping feed with unknown adapter", "feed", feed.Name, "error", err)
			continue
		}

		req := Request{
			Since:      since,
			SourceName: feed.Name,
			URL:        feed.URL,
			SourceKind: domain.SourceKind(feed.SourceKind),
		}

		items, err := adapter.Fetch(ctx, req)
		if err != nil {
			s.warn("feed fetch failed", "feed", feed.Name, "error", err)
			continue
		}

		for i := range items {
			if items[i].SourceName == "" {
				items[i].SourceName = feed.Name
			}
			if items[i].SourceKind == "" {
				items[i].SourceKind = req.SourceKind
			}
		}

		s.debug("feed produced items", "feed", feed.Name, "count", len(items))
		aggregated = append(aggregated, items...)
	}

	return aggregated, nil
}

func (s *MultiSource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *MultiSource) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
