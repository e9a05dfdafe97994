package llm

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/api/googleapi"

	"ThreatScanner/internal/enrich"
)

func TestTranslateErrorUnwrapsAPIStatus(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("call failed: %w", &googleapi.Error{Code: 429, Message: "quota"})

	translated := translateError(wrapped)

	var statusErr *enrich.StatusError
	if !errors.As(translated, &statusErr) {
		t.Fatalf("expected StatusError, got %T: %v", translated, translated)
	}
	if statusErr.Code != 429 {
		t.Fatalf("code = %d, want 429", statusErr.Code)
	}
	if class := enrich.Classify(translated); !class.Retryable() {
		t.Fatalf("wrapped 429 must classify as retryable, got %s", class)
	}
}

func TestTranslateErrorPassesThroughOtherErrors(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: connection refused")
	translated := translateError(cause)

	if !errors.Is(translated, cause) {
		t.Fatalf("original error must stay unwrappable, got %v", translated)
	}
	var statusErr *enrich.StatusError
	if errors.As(translated, &statusErr) {
		t.Fatal("non-API errors must not gain a status code")
	}
}
