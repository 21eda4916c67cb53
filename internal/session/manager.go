package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/michaelbrown/codepad/internal/language"
)

// Languages provides the current language table.
type Languages interface {
	Table() *language.Table
}

type entry struct {
	sess     *Session
	lastUsed time.Time
}

// Manager tracks the live sessions of this process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	langs    Languages
	now      func() time.Time
}

// NewManager creates an empty Manager.
func NewManager(langs Languages) *Manager {
	return &Manager{
		sessions: make(map[string]*entry),
		langs:    langs,
		now:      time.Now,
	}
}

// Create starts a new session with a fresh id.
func (m *Manager) Create() (*Session, error) {
	s, err := New(uuid.New().String(), m.langs.Table())
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = &entry{sess: s, lastUsed: m.now()}
	return s, nil
}

// Get returns a session if it exists, picking up the current language table.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastUsed = m.now()
	e.sess.SetLanguages(m.langs.Table())
	return e.sess, true
}

// Remove deletes a session and cancels its in-flight runs. It reports
// whether the session existed.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if ok {
		e.sess.Close()
		delete(m.sessions, id)
	}
	return ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Expire removes sessions idle for longer than ttl and returns how many
// were removed.
func (m *Manager) Expire(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, e := range m.sessions {
		if now.Sub(e.lastUsed) > ttl {
			e.sess.Close()
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// CloseAll cancels and removes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.sessions {
		e.sess.Close()
		delete(m.sessions, id)
	}
}
