package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/gambit/internal/game/rules"
)

// Registry maps session ids to sessions. It only guards its own map; session
// state is guarded by each Session's lock.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	newID func() string
	now   func() time.Time
}

// NewRegistry creates an empty Registry issuing UUID session ids.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Create inserts a new Open session at pos with occupant already seated in
// color's seat, so no other goroutine can observe it empty.
//
// Precondition: color must be valid; occupant must be non-empty.
// Postcondition: Returns a session whose id is not held by any other session
// in the registry.
func (r *Registry) Create(pos rules.Position, occupant ConnID, color Color) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for _, taken := r.sessions[id]; taken; _, taken = r.sessions[id] {
		id = r.newID()
	}

	s := &Session{
		id:        id,
		position:  pos,
		status:    StatusOpen,
		turn:      White,
		createdAt: r.now(),
	}
	s.seats[color.seat()] = occupant
	r.sessions[id] = s
	return s
}

// Get returns the session with the given id.
//
// Postcondition: Returns the session, or an error wrapping ErrNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return s, nil
}

// Remove deletes the session with the given id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Sessions returns the sessions currently registered, in no particular order.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
