package session

import (
	"errors"

	"github.com/cory-johannsen/gambit/internal/game/rules"
)

// Errors reported to the originating connection. Operations wrap these with
// detail, so compare with errors.Is.
var (
	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned when a session id is unknown.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned when the request clashes with current occupancy.
	ErrConflict = errors.New("conflict")
	// ErrNotBound is returned when a connection acts without being seated.
	ErrNotBound = errors.New("not in a session")
	// ErrInternalInconsistency marks a binding/registry mismatch. It indicates
	// a coordinator bug and is always logged.
	ErrInternalInconsistency = errors.New("internal inconsistency")
	// ErrGameNotActive is returned for moves outside an active game.
	ErrGameNotActive = errors.New("game not active")
	// ErrOutOfTurn is returned when the mover's seat is not the side to move.
	ErrOutOfTurn = errors.New("out of turn")
	// ErrIllegalMove is returned when the rules engine rejects a move.
	ErrIllegalMove = rules.ErrIllegalMove
)
