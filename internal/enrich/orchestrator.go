package enrich

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"ThreatScanner/internal/ports"
)

// ModelNone is recorded when no provider produced a narrative and the
// record falls back to its deterministic fields. That outcome is a
// success, not an error.
const ModelNone = "none"

// Policy is the explicit per-provider resilience configuration,
// enumerated at startup.
type Policy struct {
	Timeout    time.Duration
	MaxRetries int
	Backoff    Backoff
}

// Provider bundles one LLM endpoint with its breaker, bucket, and policy.
type Provider struct {
	id       string
	priority int
	client   ports.CompletionProvider
	policy   Policy
	breaker  *CircuitBreaker
	bucket   *TokenBucket
}

// NewProvider wires a completion client with fresh resilience state.
func NewProvider(id string, priority int, client ports.CompletionProvider, policy Policy,
	breaker *CircuitBreaker, bucket *TokenBucket) *Provider {
	return &Provider{
		id:       id,
		priority: priority,
		client:   client,
		policy:   policy,
		breaker:  breaker,
		bucket:   bucket,
	}
}

// Breaker exposes the provider's circuit state for metrics.
func (p *Provider) Breaker() *CircuitBreaker { return p.breaker }

// Orchestrator tries providers in priority order and degrades to the
// deterministic-only result when every one is unavailable.
type Orchestrator struct {
	providers   []*Provider
	totalBudget time.Duration
	logger      *slog.Logger
}

// NewOrchestrator sorts providers by ascending priority value.
func NewOrchestrator(providers []*Provider, totalBudget time.Duration, logger *slog.Logger) *Orchestrator {
	sorted := make([]*Provider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})
	return &Orchestrator{
		providers:   sorted,
		totalBudget: totalBudget,
		logger:      logger,
	}
}

// Complete obtains a narrative for one record. It returns the text and
// the provider that produced it, or ("", ModelNone) when all providers
// were skipped or failed; the caller persists deterministic fields.
func (o *Orchestrator) Complete(ctx context.Context, recordID, prompt string) (string, string) {
	if o.totalBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.totalBudget)
		defer cancel()
	}

	for _, p := range o.providers {
		if ctx.Err() != nil {
			break
		}

		// Open breaker or empty bucket skips the provider without
		// consuming any retry attempt. A bucket denial after breaker
		// admission must hand the probe slot back, or a half-open
		// circuit would stay wedged waiting on a probe that never ran.
		if !p.breaker.Allow() {
			o.log("provider short-circuited", "provider", p.id, "record", recordID)
			continue
		}
		if !p.bucket.Allow() {
			p.breaker.CancelProbe()
			o.log("provider rate-limited, skipping", "provider", p.id, "record", recordID)
			continue
		}

		text, err := o.callWithRetry(ctx, p, recordID, prompt)
		if err == nil {
			return text, p.id
		}
		o.log("provider exhausted", "provider", p.id, "record", recordID,
			"class", Classify(err).String(), "error", err)
	}

	return "", ModelNone
}

// callWithRetry runs the bounded retry sequence against one provider.
// The first token/breaker admission was already granted by the caller;
// every retry re-checks both. Locks are never held across the call.
func (o *Orchestrator) callWithRetry(ctx context.Context, p *Provider, recordID, prompt string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= p.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, p.policy.Backoff.Delay(attempt-1)); err != nil {
				return "", err
			}
			if !p.breaker.Allow() {
				return "", ErrCircuitOpen
			}
			if !p.bucket.Allow() {
				p.breaker.CancelProbe()
				return "", ErrRateLimited
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.policy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.policy.Timeout)
		}

		start := time.Now()
		text, err := p.client.Complete(attemptCtx, prompt)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			p.breaker.RecordSuccess()
			return text, nil
		}

		p.breaker.RecordFailure()
		class := Classify(err)
		o.log("provider attempt failed",
			"provider", p.id, "record", recordID, "attempt", attempt+1,
			"class", class.String(), "elapsed", time.Since(start), "error", err)

		lastErr = err
		if !class.Retryable() {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	return "", lastErr
}

func (o *Orchestrator) log(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, args...)
	}
}
