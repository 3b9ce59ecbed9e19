package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/gambit/internal/game/session"
)

// ErrResultNotFound is returned when a result lookup yields no rows.
var ErrResultNotFound = errors.New("game result not found")

// ErrResultExists is returned when a session's result was already archived.
var ErrResultExists = errors.New("game result already archived")

// StoredResult is an archived game as read back from the database.
type StoredResult struct {
	ID int64
	session.GameResult
	CreatedAt time.Time
}

// ResultRepository archives finished games. It implements session.ResultArchive.
type ResultRepository struct {
	db *pgxpool.Pool
}

// NewResultRepository creates a ResultRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewResultRepository(db *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{db: db}
}

// SaveResult inserts r.
//
// Precondition: r.SessionID must be non-empty; r.Result must be white, black, or draw.
// Postcondition: The result is stored, or ErrResultExists is returned if the
// session was already archived.
func (r *ResultRepository) SaveResult(ctx context.Context, res session.GameResult) error {
	moves := res.Moves
	if moves == nil {
		moves = []string{}
	}
	startedAt := res.StartedAt
	if startedAt.IsZero() {
		startedAt = res.EndedAt
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO game_results
		   (session_id, white_conn, black_conn, result, reason, final_fen, moves, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		res.SessionID, string(res.White), string(res.Black), res.Result, res.Reason,
		res.FinalPosition, moves, startedAt, res.EndedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrResultExists, res.SessionID)
		}
		return fmt.Errorf("inserting game result: %w", err)
	}
	return nil
}

// Get returns the archived result of sessionID.
//
// Postcondition: Returns the result, or ErrResultNotFound.
func (r *ResultRepository) Get(ctx context.Context, sessionID string) (StoredResult, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, session_id, white_conn, black_conn, result, reason, final_fen, moves,
		        started_at, ended_at, created_at
		 FROM game_results WHERE session_id = $1`,
		sessionID,
	)
	res, err := scanResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StoredResult{}, ErrResultNotFound
		}
		return StoredResult{}, fmt.Errorf("querying game result: %w", err)
	}
	return res, nil
}

// Recent returns up to limit results, most recently ended first.
//
// Precondition: limit must be > 0.
func (r *ResultRepository) Recent(ctx context.Context, limit int) ([]StoredResult, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, session_id, white_conn, black_conn, result, reason, final_fen, moves,
		        started_at, ended_at, created_at
		 FROM game_results ORDER BY ended_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent results: %w", err)
	}
	defer rows.Close()

	var out []StoredResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning game result: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating game results: %w", err)
	}
	return out, nil
}

func scanResult(row pgx.Row) (StoredResult, error) {
	var (
		res          StoredResult
		white, black string
	)
	err := row.Scan(
		&res.ID, &res.SessionID, &white, &black, &res.Result, &res.Reason,
		&res.FinalPosition, &res.Moves, &res.StartedAt, &res.EndedAt, &res.CreatedAt,
	)
	if err != nil {
		return StoredResult{}, err
	}
	res.White = session.ConnID(white)
	res.Black = session.ConnID(black)
	return res, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
