package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"ThreatScanner/internal/config"
	"ThreatScanner/internal/enrich"
	"ThreatScanner/internal/ports"
)

// GeminiClient implements ports.CompletionProvider against the Google
// generative AI API. The SDK client is created lazily on first use.
type GeminiClient struct {
	name   string
	model  string
	apiKey string

	mu     sync.Mutex
	client *genai.Client
}

var _ ports.CompletionProvider = (*GeminiClient)(nil)

// NewGeminiClient builds a client from a provider config entry.
func NewGeminiClient(cfg config.ProviderConfig) *GeminiClient {
	return &GeminiClient{
		name:   cfg.Name,
		model:  cfg.Model,
		apiKey: cfg.APIKey,
	}
}

// Name identifies the provider in logs and enriched records.
func (g *GeminiClient) Name() string {
	return g.name
}

// Complete sends the prompt and concatenates the text parts of the
// first candidate.
func (g *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	client, err := g.ensureClient(ctx)
	if err != nil {
		return "", err
	}

	model := client.GenerativeModel(g.model)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", translateError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini response has no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	return strings.TrimSpace(sb.String()), nil
}

// translateError surfaces the HTTP status behind SDK errors so retry
// classification sees a 429 or 5xx even when the SDK wraps it.
func translateError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &enrich.StatusError{Code: apiErr.Code, Body: apiErr.Message}
	}
	return fmt.Errorf("generate content: %w", err)
}

func (g *GeminiClient) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}
	if g.apiKey == "" {
		return nil, fmt.Errorf("gemini client misconfigured")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	g.client = client
	return client, nil
}
