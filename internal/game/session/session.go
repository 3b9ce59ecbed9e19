// Package session coordinates two-player game sessions: it creates and joins
// sessions, assigns seats, enforces turn order, delegates move adjudication to
// a rules engine and tears sessions down when both players have left.
//
// Every mutation of a Session happens under that session's own lock, so
// sessions never contend with each other.
package session

import (
	"slices"
	"sync"
	"time"

	"github.com/cory-johannsen/gambit/internal/game/rules"
)

// Status is the lifecycle state of a Session.
type Status int

const (
	// StatusOpen means fewer than two seats have ever been filled.
	StatusOpen Status = iota
	// StatusActive means the game is in progress.
	StatusActive
	// StatusEnded means the game has a terminal outcome.
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusActive:
		return "active"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Outcome is the result of an ended game.
type Outcome struct {
	// Winner is NoColor for a draw.
	Winner Color
	Draw   bool
	Reason string
}

// Result returns "white", "black" or "draw".
func (o Outcome) Result() string {
	if o.Draw {
		return "draw"
	}
	return o.Winner.String()
}

// Session is one game between two seats.
type Session struct {
	mu sync.Mutex

	id       string
	position rules.Position
	seats    [2]ConnID
	status   Status
	outcome  *Outcome
	turn     Color
	moves    []string

	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time

	// removed is set once the session has left the registry; holders of a
	// stale pointer must treat it as not found.
	removed bool
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// View is a point-in-time copy of a Session.
type View struct {
	ID        string
	Position  rules.Position
	White     ConnID
	Black     ConnID
	Status    Status
	Outcome   *Outcome
	Turn      Color
	Moves     []string
	CreatedAt time.Time
}

// View returns a consistent copy of the session state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		ID:        s.id,
		Position:  s.position,
		White:     s.seats[White.seat()],
		Black:     s.seats[Black.seat()],
		Status:    s.status,
		Turn:      s.turn,
		Moves:     slices.Clone(s.moves),
		CreatedAt: s.createdAt,
	}
	v.Position.History = slices.Clone(s.position.History)
	if s.outcome != nil {
		o := *s.outcome
		v.Outcome = &o
	}
	return v
}

func (s *Session) occupants() int {
	n := 0
	for _, c := range s.seats {
		if c != "" {
			n++
		}
	}
	return n
}

// vacantSeat returns the first empty seat, or NoColor if both are taken.
func (s *Session) vacantSeat() Color {
	for _, c := range []Color{White, Black} {
		if s.seats[c.seat()] == "" {
			return c
		}
	}
	return NoColor
}
