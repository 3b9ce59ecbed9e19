// Package rules adjudicates moves for the session coordinator.
//
// The coordinator treats a Position as an opaque handle: it stores the value an
// Engine returns and hands it back on the next Apply call, without inspecting it.
package rules

import (
	"errors"
	"fmt"
)

// ErrIllegalMove is returned by Engine.Apply when the move is not legal in the
// given position.
var ErrIllegalMove = errors.New("illegal move")

// Position is an engine-owned board state.
type Position struct {
	// Start is the FEN the game began from; empty means the standard start.
	Start string
	// History holds the moves played from Start, in UCI form.
	History []string
	// FEN is the serialized current board state sent to clients.
	FEN string
}

// String returns the serialized board state.
func (p Position) String() string {
	return p.FEN
}

// Move is a candidate move as submitted by a client.
type Move struct {
	From      string
	To        string
	Promotion string
}

// Validate checks the shape of the move without consulting any position.
//
// Postcondition: Returns nil if From and To are squares in a1..h8 and
// Promotion is empty or one of q, r, b, n.
func (m Move) Validate() error {
	if !isSquare(m.From) {
		return fmt.Errorf("invalid from-square %q", m.From)
	}
	if !isSquare(m.To) {
		return fmt.Errorf("invalid to-square %q", m.To)
	}
	if m.From == m.To {
		return fmt.Errorf("from-square and to-square are both %q", m.From)
	}
	switch m.Promotion {
	case "", "q", "r", "b", "n":
	default:
		return fmt.Errorf("invalid promotion piece %q", m.Promotion)
	}
	return nil
}

// UCI returns the move in UCI long-algebraic form, e.g. "e7e8q".
func (m Move) UCI() string {
	return m.From + m.To + m.Promotion
}

func isSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

// ResultKind classifies the position after an accepted move.
type ResultKind int

const (
	// Ongoing means the game continues.
	Ongoing ResultKind = iota
	// Checkmate means the side that just moved has won.
	Checkmate
	// Draw means the game is drawn; Result.Reason names the rule.
	Draw
)

func (k ResultKind) String() string {
	switch k {
	case Ongoing:
		return "ongoing"
	case Checkmate:
		return "checkmate"
	case Draw:
		return "draw"
	default:
		return "unknown"
	}
}

// Result is the engine's classification of a position.
type Result struct {
	Kind   ResultKind
	Reason string
}

// Terminal reports whether no further moves may be played.
func (r Result) Terminal() bool {
	return r.Kind != Ongoing
}

// Verdict is the outcome of applying a legal move.
type Verdict struct {
	Position Position
	// Notation is the move in standard algebraic notation.
	Notation string
	Result   Result
}

// Engine validates and applies moves.
type Engine interface {
	// Initial returns the position every new session starts from.
	Initial() Position
	// Apply plays mv from pos.
	//
	// Postcondition: Returns the resulting Verdict, or an error wrapping
	// ErrIllegalMove if mv is not legal in pos. pos is never modified.
	Apply(pos Position, mv Move) (Verdict, error)
}
