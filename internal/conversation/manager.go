package conversation

import (
	"sync"

	"github.com/soyeahso/relay/internal/logging"
)

// Key builds the conversation ID for an (agent, user) pair.
func Key(agentID, userID string) string {
	return agentID + ":" + userID
}

// Manager owns all conversation sessions for the process. It is
// constructed once at the composition root and passed by reference;
// sessions live until shutdown (the upstream thread, not the session,
// is the source of truth).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	capacity int
	log      *logging.Logger
}

// NewManager creates a manager whose sessions retain up to capacity
// history entries each.
func NewManager(capacity int, log *logging.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		capacity: capacity,
		log:      log.Sub("conversation"),
	}
}

// GetOrCreate returns the session for the (agent, user) pair, creating
// it on first use.
func (m *Manager) GetOrCreate(agentID, userID string) *Session {
	id := Key(agentID, userID)

	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return sess
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		return sess
	}
	sess = newSession(id, agentID, userID, m.capacity)
	m.sessions[id] = sess
	m.log.Debug().Str("conversation", id).Msg("session created")
	return sess
}

// Get returns the session for a conversation ID, or nil if none exists.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// List returns all conversation IDs.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
