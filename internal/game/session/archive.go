package session

import (
	"context"
	"time"
)

// GameResult is the record of a finished game handed to a ResultArchive.
type GameResult struct {
	SessionID string
	White     ConnID
	Black     ConnID
	// Result is "white", "black" or "draw".
	Result        string
	Reason        string
	FinalPosition string
	// Moves lists every accepted move in standard notation.
	Moves     []string
	StartedAt time.Time
	EndedAt   time.Time
}

// ResultArchive stores finished games.
type ResultArchive interface {
	SaveResult(ctx context.Context, r GameResult) error
}
