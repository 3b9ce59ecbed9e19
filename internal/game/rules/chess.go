package rules

import (
	"fmt"
	"slices"
	"strings"

	"github.com/corentings/chess/v2"
)

// ChessEngine implements Engine for standard chess.
type ChessEngine struct {
	start string
	fen   string
}

// NewChessEngine creates an engine whose sessions begin at startFEN, or at the
// standard starting position when startFEN is empty.
//
// Precondition: startFEN must be empty or a valid FEN string.
// Postcondition: Returns a ready engine or an error describing the bad FEN.
func NewChessEngine(startFEN string) (*ChessEngine, error) {
	g, err := newGame(startFEN)
	if err != nil {
		return nil, err
	}
	if g.Outcome() != chess.NoOutcome {
		return nil, fmt.Errorf("start position is already decided (%s)", g.Outcome())
	}
	// Sessions always hand the first move to the white seat.
	if g.Position().Turn() != chess.White {
		return nil, fmt.Errorf("start position must have white to move")
	}
	return &ChessEngine{start: startFEN, fen: g.FEN()}, nil
}

// Initial returns the configured start position.
func (e *ChessEngine) Initial() Position {
	return Position{Start: e.start, FEN: e.fen}
}

// Apply plays mv from pos.
//
// The game is rebuilt from pos.Start and pos.History so the library can apply
// repetition rules, which a FEN alone cannot express.
func (e *ChessEngine) Apply(pos Position, mv Move) (Verdict, error) {
	if err := mv.Validate(); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}

	g, err := replay(pos)
	if err != nil {
		return Verdict{}, err
	}
	if g.Outcome() != chess.NoOutcome {
		return Verdict{}, fmt.Errorf("%w: game is already over", ErrIllegalMove)
	}

	before := g.Position()
	uci := mv.UCI()
	legal, ok := findLegal(g, uci)
	if !ok {
		return Verdict{}, fmt.Errorf("%w: %s is not legal here", ErrIllegalMove, uci)
	}
	san := chess.AlgebraicNotation{}.Encode(before, legal)
	if err := g.Move(legal, nil); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}

	history := append(slices.Clone(pos.History), uci)
	return Verdict{
		Position: Position{Start: pos.Start, History: history, FEN: g.FEN()},
		Notation: san,
		Result:   classify(g),
	}, nil
}

func newGame(startFEN string) (*chess.Game, error) {
	if startFEN == "" {
		return chess.NewGame(), nil
	}
	opt, err := chess.FEN(startFEN)
	if err != nil {
		return nil, fmt.Errorf("parsing start FEN %q: %w", startFEN, err)
	}
	return chess.NewGame(opt), nil
}

func replay(pos Position) (*chess.Game, error) {
	g, err := newGame(pos.Start)
	if err != nil {
		return nil, err
	}
	for i, uci := range pos.History {
		if err := g.PushNotationMove(uci, chess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replaying move %d (%s): %w", i+1, uci, err)
		}
	}
	return g, nil
}

// findLegal returns the legal move in g's current position matching uci.
func findLegal(g *chess.Game, uci string) (*chess.Move, bool) {
	for _, m := range g.ValidMoves() {
		if strings.EqualFold(chess.UCINotation{}.Encode(nil, &m), uci) {
			return &m, true
		}
	}
	return nil, false
}

func classify(g *chess.Game) Result {
	switch g.Outcome() {
	case chess.WhiteWon, chess.BlackWon:
		return Result{Kind: Checkmate, Reason: methodReason(g.Method())}
	case chess.Draw:
		return Result{Kind: Draw, Reason: methodReason(g.Method())}
	default:
		return Result{Kind: Ongoing}
	}
}

func methodReason(m chess.Method) string {
	switch m {
	case chess.Checkmate:
		return "checkmate"
	case chess.Stalemate:
		return "stalemate"
	case chess.InsufficientMaterial:
		return "insufficient material"
	case chess.FivefoldRepetition:
		return "fivefold repetition"
	case chess.ThreefoldRepetition:
		return "threefold repetition"
	case chess.SeventyFiveMoveRule:
		return "seventy-five move rule"
	case chess.FiftyMoveRule:
		return "fifty move rule"
	case chess.DrawOffer:
		return "agreement"
	case chess.Resignation:
		return "resignation"
	default:
		return "unknown"
	}
}
