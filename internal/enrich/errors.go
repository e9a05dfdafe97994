package enrich

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel outcomes used when a provider is skipped without a network call.
var (
	ErrCircuitOpen = errors.New("circuit breaker open")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Class buckets provider failures for retry and circuit-breaker logic.
type Class int

const (
	ClassUnknown Class = iota
	ClassTransientNetwork
	ClassTimeout
	ClassServerError
	ClassRateLimit
	ClassAuthentication
	ClassClientError
)

func (c Class) String() string {
	switch c {
	case ClassTransientNetwork:
		return "transient-network"
	case ClassTimeout:
		return "timeout"
	case ClassServerError:
		return "server-error"
	case ClassRateLimit:
		return "rate-limit"
	case ClassAuthentication:
		return "authentication"
	case ClassClientError:
		return "client-error"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt against the same provider
// can succeed. Unknown is treated conservatively as non-retryable.
func (c Class) Retryable() bool {
	switch c {
	case ClassTransientNetwork, ClassTimeout, ClassServerError, ClassRateLimit:
		return true
	default:
		return false
	}
}

// StatusError carries an HTTP status code from a provider response so
// classification can distinguish 4xx from 5xx.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.Code, e.Body)
}

// Classify maps an error from a provider call onto the taxonomy.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == 401 || se.Code == 403:
			return ClassAuthentication
		case se.Code == 429:
			return ClassRateLimit
		case se.Code >= 500:
			return ClassServerError
		case se.Code >= 400:
			return ClassClientError
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ClassTimeout
		}
		return ClassTransientNetwork
	}

	return ClassUnknown
}
