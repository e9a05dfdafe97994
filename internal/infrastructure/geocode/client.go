package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ThreatScanner/internal/config"
	"ThreatScanner/internal/domain"
	"ThreatScanner/internal/ports"
)

// Client resolves location mentions through an external geocoding
// service, one HTTP call per batch. It is only ever invoked through the
// batch state manager's drain, never per record.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.Geocoder = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(cfg config.GeocodeConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: cfg.Timeout.Std()},
	}
}

// ResolveBatch maps each resolvable query to coordinates. Queries the
// service cannot resolve are simply absent from the result.
func (c *Client) ResolveBatch(ctx context.Context, queries []string) (map[string]domain.Coordinates, error) {
	if len(queries) == 0 {
		return map[string]domain.Coordinates{}, nil
	}

	body, err := json.Marshal(map[string]any{"queries": queries})
	if err != nil {
		return nil, fmt.Errorf("marshal geocode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode service returned %s", resp.Status)
	}

	var decoded struct {
		Results []struct {
			Query string  `json:"query"`
			Lat   float64 `json:"lat"`
			Lon   float64 `json:"lon"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode geocode response: %w", err)
	}

	out := make(map[string]domain.Coordinates, len(decoded.Results))
	for _, r := range decoded.Results {
		out[r.Query] = domain.Coordinates{Lat: r.Lat, Lon: r.Lon}
	}
	return out, nil
}
