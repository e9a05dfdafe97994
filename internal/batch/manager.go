package batch

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is one queued sub-task input awaiting a batched resolution pass.
type Entry struct {
	Payload    string
	SourceTag  string
	RecordID   string
	EnqueuedAt time.Time
}

// Result pairs a resolved sub-task output with its originating record.
type Result struct {
	RecordID    string
	Data        any
	ProcessedAt time.Time
}

// Stats exposes buffer health for operational visibility.
type Stats struct {
	BufferSize     int
	PendingResults int
	Evicted        uint64
	StaleDropped   uint64
	OldestAge      time.Duration
}

// Manager is the sole owner of cross-call sub-task buffering state.
// All operations take the manager's single lock; drains are atomic with
// respect to concurrent enqueues, so no entry is ever partially visible.
//
// Both stores are bounded two ways: a maximum size (oldest evicted on
// overflow) and a maximum age (stale items dropped and counted), so a
// stalled consumer can grow neither the entry buffer nor the results
// map without bound.
type Manager struct {
	mu        sync.Mutex
	maxBuffer int
	maxAge    time.Duration
	entries   []Entry
	results   map[string]Result
	evicted   uint64
	stale     uint64
	now       func() time.Time
	logger    *slog.Logger
}

// NewManager builds an empty manager with the given bounds.
func NewManager(maxBuffer int, maxAge time.Duration, logger *slog.Logger) *Manager {
	if maxBuffer < 1 {
		maxBuffer = 1
	}
	return &Manager{
		maxBuffer: maxBuffer,
		maxAge:    maxAge,
		results:   make(map[string]Result),
		now:       time.Now,
		logger:    logger,
	}
}

// QueueEntry appends a sub-task input. Returns false for entries missing
// a payload or record id, which could never be matched back.
func (m *Manager) QueueEntry(payload, sourceTag, recordID string) bool {
	if payload == "" || recordID == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropStaleLocked()

	if len(m.entries) >= m.maxBuffer {
		evictedEntry := m.entries[0]
		m.entries = m.entries[1:]
		m.evicted++
		if m.logger != nil {
			m.logger.Warn("batch buffer overflow, evicting oldest",
				"record", evictedEntry.RecordID, "source", evictedEntry.SourceTag,
				"age", m.now().Sub(evictedEntry.EnqueuedAt))
		}
	}

	m.entries = append(m.entries, Entry{
		Payload:    payload,
		SourceTag:  sourceTag,
		RecordID:   recordID,
		EnqueuedAt: m.now(),
	})
	return true
}

// ExtractBufferEntries atomically drains and returns the buffer.
func (m *Manager) ExtractBufferEntries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropStaleLocked()

	out := m.entries
	m.entries = nil
	return out
}

// StoreBatchResults records resolved sub-task outputs keyed by record id.
func (m *Manager) StoreBatchResults(results map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropStaleResultsLocked()

	processedAt := m.now()
	for recordID, data := range results {
		m.results[recordID] = Result{
			RecordID:    recordID,
			Data:        data,
			ProcessedAt: processedAt,
		}
	}

	for len(m.results) > m.maxBuffer {
		oldestID := ""
		var oldestAt time.Time
		for recordID, r := range m.results {
			if oldestID == "" || r.ProcessedAt.Before(oldestAt) {
				oldestID, oldestAt = recordID, r.ProcessedAt
			}
		}
		delete(m.results, oldestID)
		m.evicted++
		if m.logger != nil {
			m.logger.Warn("results overflow, evicting oldest",
				"record", oldestID, "processed_at", oldestAt)
		}
	}
}

// PendingResults atomically drains and returns stored results.
func (m *Manager) PendingResults() map[string]Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.results
	m.results = make(map[string]Result)
	return out
}

// GetStats returns current buffer health counters.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		BufferSize:     len(m.entries),
		PendingResults: len(m.results),
		Evicted:        m.evicted,
		StaleDropped:   m.stale,
	}
	if len(m.entries) > 0 {
		s.OldestAge = m.now().Sub(m.entries[0].EnqueuedAt)
	}
	return s
}

// Reset clears all state; exists to support isolated tests.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = nil
	m.results = make(map[string]Result)
	m.evicted = 0
	m.stale = 0
}

// dropStaleResultsLocked removes results older than maxAge that no
// consumer ever drained. Caller holds the lock.
func (m *Manager) dropStaleResultsLocked() {
	if m.maxAge <= 0 {
		return
	}

	cutoff := m.now().Add(-m.maxAge)
	for recordID, r := range m.results {
		if r.ProcessedAt.Before(cutoff) {
			delete(m.results, recordID)
			m.stale++
			if m.logger != nil {
				m.logger.Warn("dropping stale batch result",
					"record", recordID, "processed_at", r.ProcessedAt)
			}
		}
	}
}

// dropStaleLocked removes entries older than maxAge. Caller holds the lock.
func (m *Manager) dropStaleLocked() {
	if m.maxAge <= 0 {
		return
	}

	cutoff := m.now().Add(-m.maxAge)
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.EnqueuedAt.Before(cutoff) {
			m.stale++
			if m.logger != nil {
				m.logger.Warn("dropping stale batch entry",
					"record", e.RecordID, "source", e.SourceTag, "enqueued_at", e.EnqueuedAt)
			}
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
}
