package process

import (
	"fmt"
	"sort"
	"sync"

	"github.com/user/puppy/internal/loop"
	"github.com/user/puppy/internal/sink"
)

// Manager tracks one Session per pane.
type Manager struct {
	loop loop.Dispatcher
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager whose sessions share d and opts.
func NewManager(d loop.Dispatcher, opts Options) *Manager {
	return &Manager{
		loop:     d,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session registered under id, creating it bound
// to out when absent. An existing session keeps its original sink.
func (m *Manager) GetOrCreate(id string, out sink.TextSink) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[id]; ok {
		return sess, nil
	}
	sess, err := NewSession(id, out, m.loop, m.opts)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = sess
	return sess, nil
}

// Get returns the session with the given id, or an error if not found.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("process: session %q not found", id)
	}
	return sess, nil
}

// Destroy kills the session's process and forgets the session.
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("process: session %q not found", id)
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	return sess.Kill()
}

// List returns a snapshot of every tracked session, ordered by id.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, SessionInfo{
			ID:        sess.id,
			State:     sess.State(),
			PID:       sess.PID(),
			CreatedAt: sess.createdAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close kills and removes all sessions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sess := range m.sessions {
		_ = sess.Kill()
		delete(m.sessions, id)
	}
}
