package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// drainTimeout bounds how long session removal waits for its goroutines.
const drainTimeout = 2 * time.Second

// Manager tracks the live sessions, one per connected socket. Safe for
// concurrent use.
type Manager struct {
	opts []Option

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty manager. Options are applied to every session
// it creates.
func NewManager(opts ...Option) *Manager {
	return &Manager{opts: opts, sessions: make(map[string]*Session)}
}

// Create registers a new session for the given table.
func (m *Manager) Create(tableID, restaurantID int64, qrToken string) *Session {
	s := New(uuid.NewString(), tableID, restaurantID, qrToken, m.opts...)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	slog.Info("session created", "session_id", s.ID, "table_id", tableID)
	return s
}

// Get returns the session with the given id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Remove cancels the session's tasks, waits briefly for them to finish, and
// forgets the session. Safe to call for unknown ids.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if s == nil {
		return
	}
	if !s.Tasks.Drain(drainTimeout) {
		slog.Warn("session drain timed out", "session_id", id)
	}
	slog.Info("session removed", "session_id", id)
}

// ActiveCount returns how many sessions are live.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
