package session

import (
	"fmt"
	"strings"
)

// Color identifies a seat. White is the first mover, Black the second.
type Color int

const (
	NoColor Color = iota
	White
	Black
)

// ParseColor converts a client-supplied color name.
//
// Postcondition: Returns White or Black, or an error wrapping ErrInvalidArgument.
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w", "first":
		return White, nil
	case "black", "b", "second":
		return Black, nil
	default:
		return NoColor, fmt.Errorf("%w: unknown color %q", ErrInvalidArgument, s)
	}
}

// Valid reports whether c names a seat.
func (c Color) Valid() bool {
	return c == White || c == Black
}

// Opponent returns the other seat.
func (c Color) Opponent() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	default:
		return NoColor
	}
}

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return "none"
	}
}

// seat returns the index of c in Session.seats. c must be valid.
func (c Color) seat() int {
	return int(c) - 1
}
