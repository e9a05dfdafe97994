package enrich

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is one of the three circuit positions.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// outcomeWindowCap bounds the per-provider request history.
const outcomeWindowCap = 64

// RequestOutcome pairs one recorded call result with its wall time.
type RequestOutcome struct {
	Success bool
	At      time.Time
}

// BreakerSnapshot is a point-in-time view for metrics.
type BreakerSnapshot struct {
	State               BreakerState
	ConsecutiveFailures int
	ShortCircuits       int64
	LastFailureAt       time.Time
	LastTransitionAt    time.Time

	// RecentRequests is the bounded outcome history, oldest first.
	RecentRequests []RequestOutcome
}

// CircuitBreaker protects one provider. Closed passes requests through;
// Open short-circuits them without a network call; HalfOpen admits a
// single probe after the recovery timeout.
//
// Failures only trip the circuit while they arrive inside the rolling
// window: a streak whose previous failure is older than the window
// restarts from one instead of accumulating.
//
// The lock is held only around state transitions, never across a call.
type CircuitBreaker struct {
	mu            sync.Mutex
	name          string
	state         BreakerState
	failures      int
	threshold     int
	window        time.Duration
	recovery      time.Duration
	lastFailure   time.Time
	transitionAt  time.Time
	shortCircuits int64
	probing       bool
	outcomes      []RequestOutcome
	now           func() time.Time
	logger        *slog.Logger
}

// NewCircuitBreaker starts Closed.
func NewCircuitBreaker(name string, threshold int, window, recovery time.Duration, logger *slog.Logger) *CircuitBreaker {
	b := &CircuitBreaker{
		name:      name,
		state:     StateClosed,
		threshold: threshold,
		window:    window,
		recovery:  recovery,
		now:       time.Now,
		logger:    logger,
	}
	b.transitionAt = b.now()
	return b
}

// Allow reports whether a request may proceed. Denials in the Open state
// increment the short-circuit counter so operators can distinguish "the
// provider is failing" from "we are protecting it".
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.transitionAt) >= b.recovery {
			b.transition(StateHalfOpen)
			b.probing = true
			return true
		}
		b.shortCircuits++
		return false
	default: // HalfOpen: one probe at a time
		if b.probing {
			b.shortCircuits++
			return false
		}
		b.probing = true
		return true
	}
}

// CancelProbe releases an admitted probe that was abandoned before any
// network call, for example when the token bucket denied the request.
// Without this the half-open slot would stay occupied forever.
func (b *CircuitBreaker) CancelProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// RecordSuccess closes the circuit and clears the failure streak.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	b.failures = 0
	b.record(true)
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// RecordFailure counts a failed call. A failed HalfOpen probe reopens
// the circuit immediately; a Closed circuit opens once the failure
// streak within the rolling window reaches the threshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.probing = false
	if b.window > 0 && !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.window {
		b.failures = 0
	}
	b.lastFailure = now
	b.failures++
	b.record(false)

	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.threshold {
			b.transition(StateOpen)
		}
	}
}

// State returns the current position without side effects.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the full observable state.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	recent := make([]RequestOutcome, len(b.outcomes))
	copy(recent, b.outcomes)

	return BreakerSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		ShortCircuits:       b.shortCircuits,
		LastFailureAt:       b.lastFailure,
		LastTransitionAt:    b.transitionAt,
		RecentRequests:      recent,
	}
}

// record appends to the bounded outcome history. Caller holds the lock.
func (b *CircuitBreaker) record(success bool) {
	b.outcomes = append(b.outcomes, RequestOutcome{Success: success, At: b.now()})
	if len(b.outcomes) > outcomeWindowCap {
		b.outcomes = b.outcomes[len(b.outcomes)-outcomeWindowCap:]
	}
}

// transition must be called with the lock held.
func (b *CircuitBreaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	b.transitionAt = b.now()
	if b.logger != nil {
		b.logger.Info("circuit transition",
			"provider", b.name, "from", from.String(), "to", to.String(),
			"consecutive_failures", b.failures, "at", b.transitionAt)
	}
}
