package session

import (
	"sync"

	"github.com/pkg/errors"

	eksr "github.com/C-broderick-225/EKSR-Instrument"
)

// DefaultMaxSessions mirrors the connection budget of the reference
// instrument's radio stack.
const DefaultMaxSessions = 3

// ErrNoFreeSlot is returned when all session slots are taken. This is the
// only caller-visible refusal in the package; everything else surfaces as
// a state transition.
var ErrNoFreeSlot = errors.New("no connection slots available")

// Manager caps the number of live sessions at a small constant. Each
// session remains an independent state machine; the manager only owns the
// slot accounting.
type Manager struct {
	mu       sync.Mutex
	max      int
	sessions map[*Session]struct{}
}

// NewManager creates a manager with the given slot limit, or
// DefaultMaxSessions when max is 0.
func NewManager(max int) *Manager {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	return &Manager{
		max:      max,
		sessions: make(map[*Session]struct{}),
	}
}

// NewSession creates and starts a session in a free slot. The slot is
// released when the session is stopped or gives up its retry budget.
func (m *Manager) NewSession(central eksr.Central, opts ...eksr.Option) (*Session, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.max {
		m.mu.Unlock()
		return nil, ErrNoFreeSlot
	}
	s, err := New(central, opts...)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[s] = struct{}{}
	s.release = func() { m.remove(s) }
	m.mu.Unlock()

	if err := s.Start(); err != nil {
		m.remove(s)
		return nil, err
	}
	return s, nil
}

// Len returns the number of occupied slots.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StopAll stops every live session.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ss := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		ss = append(ss, s)
	}
	m.mu.Unlock()

	for _, s := range ss {
		s.Stop()
	}
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s)
	m.mu.Unlock()
}
