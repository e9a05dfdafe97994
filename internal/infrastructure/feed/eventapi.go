package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"ThreatScanner/internal/domain"
	"ThreatScanner/internal/feed"
)

// EventAPIAdapter pulls from a curated conflict-event API that returns
// structured JSON with coordinates already attached.
type EventAPIAdapter struct {
	client *http.Client
	apiKey string
}

// NewEventAPIAdapter wires an HTTP client and optional bearer token.
func NewEventAPIAdapter(client *http.Client, apiKey string) *EventAPIAdapter {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &EventAPIAdapter{client: client, apiKey: apiKey}
}

// Name identifies the strategy inside the registry.
func (a *EventAPIAdapter) Name() string {
	return "eventapi"
}

type apiEvent struct {
	Headline   string   `json:"headline"`
	Summary    string   `json:"summary"`
	OccurredAt string   `json:"occurred_at"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Labels     []string `json:"labels"`
}

// Fetch requests events that occurred after req.Since.
func (a *EventAPIAdapter) Fetch(ctx context.Context, req feed.Request) ([]domain.RawItem, error) {
	endpoint, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid event api url %s: %w", req.URL, err)
	}
	query := endpoint.Query()
	query.Set("since", req.Since.UTC().Format(time.RFC3339))
	endpoint.RawQuery = query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("event api returned %s", resp.Status)
	}

	var decoded struct {
		Events []apiEvent `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}

	items := make([]domain.RawItem, 0, len(decoded.Events))
	for _, event := range decoded.Events {
		occurredAt, err := time.Parse(time.RFC3339, event.OccurredAt)
		if err != nil {
			occurredAt = time.Now().UTC()
		}

		item := domain.RawItem{
			Title:       event.Headline,
			Body:        event.Summary,
			PublishedAt: occurredAt.UTC(),
			SourceName:  req.SourceName,
			SourceKind:  req.SourceKind,
			Tags:        event.Labels,
		}
		if event.Latitude != nil && event.Longitude != nil {
			item.Coordinates = &domain.Coordinates{Lat: *event.Latitude, Lon: *event.Longitude}
		}
		items = append(items, item)
	}

	return items, nil
}
