package mcp

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/memberdir/internal/directory"
)

var (
	// ErrSessionNotFound is returned for an unknown or closed session id
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when the session limit is reached
	ErrTooManySessions = errors.New("too many open sessions")
)

// DefaultMaxSessions bounds concurrently open directory sessions
const DefaultMaxSessions = 64

// sessionRegistry holds the open directory sessions by id
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*directory.Directory
	max      int
}

func newSessionRegistry(max int) *sessionRegistry {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	return &sessionRegistry{sessions: make(map[string]*directory.Directory), max: max}
}

// add registers d under a new id
func (r *sessionRegistry) add(d *directory.Directory) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) >= r.max {
		return "", ErrTooManySessions
	}
	id := uuid.NewString()
	r.sessions[id] = d
	return id, nil
}

func (r *sessionRegistry) get(id string) (*directory.Directory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return d, nil
}

// remove unregisters and closes a session
func (r *sessionRegistry) remove(id string) error {
	r.mu.Lock()
	d, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	d.Close()
	return nil
}

func (r *sessionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// closeAll closes every session
func (r *sessionRegistry) closeAll() {
	r.mu.Lock()
	open := r.sessions
	r.sessions = make(map[string]*directory.Directory)
	r.mu.Unlock()

	for _, d := range open {
		d.Close()
	}
}
