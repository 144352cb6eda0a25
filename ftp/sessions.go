package ftp

import (
	"sync"
)

// SessionManager tracks the open sessions of a server so Close can reach them.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session // keyed by session id
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// Add starts tracking session.
func (m *SessionManager) Add(session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.id] = session
}

// Remove forgets the session with the given id, it is a no-op for unknown ids.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// KillAll closes the connections of every open session and returns how many there were.
// Each session removes itself once its serve loop returns.
func (m *SessionManager) KillAll() int {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		open = append(open, session)
	}
	m.mu.Unlock()

	for _, session := range open {
		session.kill()
	}
	return len(open)
}
