package runner

import (
	"fmt"
	"sync"
)

// Manager is a registry of live sessions keyed by strategy id. Each strategy
// has at most one session at a time; a finished session must be removed
// before a new one can be registered.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Runner
}

// NewManager creates an empty session registry.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Runner)}
}

// Register stores the session for a strategy. It fails when a session for
// that strategy already exists.
func (m *Manager) Register(strategyID string, r *Runner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[strategyID]; ok {
		return fmt.Errorf("runner: session already exists for strategy %s", strategyID)
	}
	m.sessions[strategyID] = r
	return nil
}

// Get returns the session for a strategy, or false when none exists.
func (m *Manager) Get(strategyID string) (*Runner, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.sessions[strategyID]
	return r, ok
}

// Remove destroys and forgets the session for a strategy.
func (m *Manager) Remove(strategyID string) {
	m.mu.Lock()
	r, ok := m.sessions[strategyID]
	delete(m.sessions, strategyID)
	m.mu.Unlock()
	if ok {
		r.Destroy()
	}
}

// List returns a snapshot of all registered sessions keyed by strategy id.
func (m *Manager) List() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Snapshot, len(m.sessions))
	for id, r := range m.sessions {
		out[id] = r.Status()
	}
	return out
}

// Sessions returns a snapshot of the registry itself, for callers that
// need to operate on the runners directly.
func (m *Manager) Sessions() map[string]*Runner {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Runner, len(m.sessions))
	for id, r := range m.sessions {
		out[id] = r
	}
	return out
}

// Shutdown destroys every session. Used during process teardown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Runner)
	m.mu.Unlock()
	for _, r := range sessions {
		r.Destroy()
	}
}
