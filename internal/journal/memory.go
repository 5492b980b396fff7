package journal

import (
	"context"
	"sync"
)

// Memory is an in-process Store used by tests and single-node setups.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) key(runID, step string) string { return runID + "\x00" + step }

// Get returns the recorded result for the step, if any.
func (m *Memory) Get(_ context.Context, runID, step string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[m.key(runID, step)]
	return data, ok, nil
}

// Record persists the result for the step; first write wins.
func (m *Memory) Record(_ context.Context, runID, step string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(runID, step)
	if _, ok := m.entries[k]; ok {
		return nil
	}
	m.entries[k] = result
	return nil
}
