package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"ThreatScanner/internal/config"
	"ThreatScanner/internal/ports"
)

// ErrBudgetExhausted signals the daily embedding quota is spent; dedup
// degrades to hash-only mode rather than blocking ingestion.
var ErrBudgetExhausted = errors.New("daily embedding token budget exhausted")

// Client talks to an external embedding service under a daily token
// budget enforced locally, before any network call.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client

	mu     sync.Mutex
	budget int
	spent  int
	day    time.Time
	now    func() time.Time
}

var _ ports.Embedder = (*Client)(nil)

// NewClient creates a reusable HTTP client with the configured budget.
func NewClient(cfg config.EmbeddingConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: cfg.Timeout.Std()},
		budget:   cfg.DailyTokenBudget,
		now:      time.Now,
	}
}

// Embed returns the vector for the given text, or ErrBudgetExhausted
// once the day's quota is spent.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.reserve(estimateTokens(text)); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]string{"input": text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed payload: %w", err)
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
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned %s", resp.Status)
	}

	var decoded struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	if len(decoded.Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned empty vector")
	}

	return decoded.Embedding, nil
}

// reserve charges the estimate against the budget, resetting at day
// boundaries. Zero budget means unlimited.
func (c *Client) reserve(tokens int) error {
	if c.budget <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	today := c.now().UTC().Truncate(24 * time.Hour)
	if !today.Equal(c.day) {
		c.day = today
		c.spent = 0
	}

	if c.spent+tokens > c.budget {
		return ErrBudgetExhausted
	}
	c.spent += tokens
	return nil
}

// estimateTokens approximates the provider's tokenizer at 4 chars/token.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
