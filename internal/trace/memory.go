package trace

import (
	"sync"

	"wayfind/internal/types"
)

// MemorySink is the in-process TraceSink used when no database path is
// configured, and in tests.
type MemorySink struct {
	mu        sync.Mutex
	entries   map[string][]types.ActionTraceEntry
	decisions []types.DecisionEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{entries: make(map[string][]types.ActionTraceEntry)}
}

func (m *MemorySink) AppendTrace(sessionID string, e types.ActionTraceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sessionID] = append(m.entries[sessionID], e)
	return nil
}

func (m *MemorySink) AppendDecision(ev types.DecisionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, ev)
	return nil
}

func (m *MemorySink) Close() error { return nil }

// Entries returns a copy of the recorded entries for one session.
func (m *MemorySink) Entries(sessionID string) []types.ActionTraceEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ActionTraceEntry, len(m.entries[sessionID]))
	copy(out, m.entries[sessionID])
	return out
}

// Decisions returns a copy of all recorded decision events.
func (m *MemorySink) Decisions() []types.DecisionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.DecisionEvent, len(m.decisions))
	copy(out, m.decisions)
	return out
}
