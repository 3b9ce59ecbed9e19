package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gambit/internal/game/rules"
)

const defaultArchiveTimeout = 10 * time.Second

// Binding records which session and seat a connection occupies.
type Binding struct {
	SessionID string
	Color     Color
}

// Option configures a Manager.
type Option func(*Manager)

// WithArchive sets the archive that receives every finished game.
func WithArchive(a ResultArchive) Option {
	return func(m *Manager) { m.archive = a }
}

// WithArchiveTimeout bounds each archive write.
func WithArchiveTimeout(d time.Duration) Option {
	return func(m *Manager) { m.archiveTimeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager applies connection requests to sessions.
//
// Requests from one connection must be delivered serially; requests from
// different connections may arrive concurrently. Each session is mutated only
// under its own lock. Lock order is session, then registry or bindings.
type Manager struct {
	registry *Registry
	engine   rules.Engine
	gateway  Gateway
	logger   *zap.Logger

	archive        ResultArchive
	archiveTimeout time.Duration
	archiveWG      sync.WaitGroup

	mu       sync.Mutex
	bindings map[ConnID]Binding

	now func() time.Time
}

// NewManager creates a Manager.
//
// Precondition: registry, engine, gateway, and logger must be non-nil.
func NewManager(registry *Registry, engine rules.Engine, gateway Gateway, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		registry:       registry,
		engine:         engine,
		gateway:        gateway,
		logger:         logger,
		archiveTimeout: defaultArchiveTimeout,
		bindings:       make(map[ConnID]Binding),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle dispatches one inbound request. Rejections are reported to conn by
// the operation itself, so Handle never fails.
func (m *Manager) Handle(conn ConnID, req Request) {
	var err error
	switch r := req.(type) {
	case CreateRequest:
		_, err = m.CreateSession(conn, r.Color)
	case JoinRequest:
		err = m.JoinSession(conn, r.SessionID)
	case MoveRequest:
		err = m.SubmitMove(conn, r.Move)
	case DisconnectRequest:
		m.Disconnect(conn)
	default:
		m.logger.Warn("unhandled request",
			zap.String("conn", string(conn)),
			zap.String("type", fmt.Sprintf("%T", req)),
		)
		return
	}
	if err != nil {
		m.logger.Debug("request rejected",
			zap.String("conn", string(conn)),
			zap.String("type", fmt.Sprintf("%T", req)),
			zap.Error(err),
		)
	}
}

// CreateSession opens a new session with conn seated at color.
//
// Precondition: conn must be non-empty.
// Postcondition: On success the session is Open with conn bound to it and
// SessionCreated has been sent to conn. On failure CreateError has been sent
// and no state changed.
func (m *Manager) CreateSession(conn ConnID, color Color) (string, error) {
	if !color.Valid() {
		return "", m.reject(conn, CreateError{}, fmt.Errorf("%w: color must be white or black", ErrInvalidArgument))
	}
	if b, ok := m.Binding(conn); ok {
		return "", m.reject(conn, CreateError{}, fmt.Errorf("%w: already in session %s", ErrConflict, b.SessionID))
	}

	s := m.registry.Create(m.engine.Initial(), conn, color)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return "", m.reject(conn, CreateError{}, fmt.Errorf("%w: %q", ErrNotFound, s.id))
	}
	m.bind(conn, Binding{SessionID: s.id, Color: color})
	m.gateway.JoinRoom(conn, s.id)
	m.gateway.Send(conn, SessionCreated{SessionID: s.id})

	m.logger.Info("session created",
		zap.String("session_id", s.id),
		zap.String("conn", string(conn)),
		zap.Stringer("color", color),
	)
	return s.id, nil
}

// JoinSession seats conn in the vacant seat of session id.
//
// Precondition: conn must be non-empty.
// Postcondition: On success the session is Active with conn bound to the
// previously vacant seat and Joined has been sent to conn. On failure
// JoinError has been sent and no state changed.
func (m *Manager) JoinSession(conn ConnID, id string) error {
	if id == "" {
		return m.reject(conn, JoinError{}, fmt.Errorf("%w: session id is required", ErrInvalidArgument))
	}
	if b, ok := m.Binding(conn); ok {
		return m.reject(conn, JoinError{}, fmt.Errorf("%w: already in session %s", ErrConflict, b.SessionID))
	}
	s, err := m.registry.Get(id)
	if err != nil {
		return m.reject(conn, JoinError{}, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return m.reject(conn, JoinError{}, fmt.Errorf("%w: %q", ErrNotFound, id))
	}
	switch s.occupants() {
	case 0:
		err := fmt.Errorf("%w: session %s has no occupants", ErrInternalInconsistency, id)
		m.fault(conn, id, err)
		return m.reject(conn, JoinError{}, err)
	case 2:
		return m.reject(conn, JoinError{}, fmt.Errorf("%w: session is full", ErrConflict))
	}
	if s.status == StatusEnded {
		return m.reject(conn, JoinError{}, fmt.Errorf("%w: game has ended", ErrConflict))
	}

	color := s.vacantSeat()
	s.seats[color.seat()] = conn
	if s.status == StatusOpen {
		s.status = StatusActive
		s.startedAt = m.now()
	}
	m.bind(conn, Binding{SessionID: id, Color: color})
	m.gateway.JoinRoom(conn, id)
	m.gateway.Send(conn, Joined{SessionID: id, Color: color, Position: s.position.String()})

	m.logger.Info("session joined",
		zap.String("session_id", id),
		zap.String("conn", string(conn)),
		zap.Stringer("color", color),
	)
	return nil
}

// SubmitMove adjudicates mv for the seat conn occupies.
//
// Precondition: conn must be non-empty.
// Postcondition: On success the position and turn have advanced, the session
// is Ended if the move was terminal, and MoveAccepted has been broadcast to
// the room. On failure InvalidMove has been sent to conn and no state changed.
func (m *Manager) SubmitMove(conn ConnID, mv rules.Move) error {
	b, ok := m.Binding(conn)
	if !ok {
		return m.reject(conn, InvalidMove{}, ErrNotBound)
	}
	s, err := m.registry.Get(b.SessionID)
	if err != nil {
		err = fmt.Errorf("%w: bound session %s is not registered", ErrInternalInconsistency, b.SessionID)
		m.fault(conn, b.SessionID, err)
		return m.reject(conn, InvalidMove{}, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		err := fmt.Errorf("%w: bound session %s was removed", ErrInternalInconsistency, b.SessionID)
		m.fault(conn, b.SessionID, err)
		return m.reject(conn, InvalidMove{}, err)
	}
	if s.seats[b.Color.seat()] != conn {
		err := fmt.Errorf("%w: %s seat of session %s is not held by this connection", ErrInternalInconsistency, b.Color, b.SessionID)
		m.fault(conn, b.SessionID, err)
		return m.reject(conn, InvalidMove{}, err)
	}
	if s.status != StatusActive {
		return m.reject(conn, InvalidMove{}, fmt.Errorf("%w: session is %s", ErrGameNotActive, s.status))
	}
	if s.turn != b.Color {
		return m.reject(conn, InvalidMove{}, fmt.Errorf("%w: it is %s's turn to move", ErrOutOfTurn, s.turn))
	}

	verdict, err := m.engine.Apply(s.position, mv)
	if err != nil {
		if !errors.Is(err, rules.ErrIllegalMove) {
			err = fmt.Errorf("%w: rules engine: %v", ErrInternalInconsistency, err)
			m.fault(conn, b.SessionID, err)
		}
		return m.reject(conn, InvalidMove{}, err)
	}

	s.position = verdict.Position
	s.turn = b.Color.Opponent()
	s.moves = append(s.moves, verdict.Notation)

	var outcome *Outcome
	switch verdict.Result.Kind {
	case rules.Checkmate:
		outcome = &Outcome{Winner: b.Color, Reason: verdict.Result.Reason}
	case rules.Draw:
		outcome = &Outcome{Draw: true, Reason: verdict.Result.Reason}
	}
	if outcome != nil {
		s.status = StatusEnded
		s.outcome = outcome
		s.endedAt = m.now()
	}

	evt := MoveAccepted{
		SessionID: s.id,
		Position:  s.position.String(),
		Mover:     b.Color,
		Notation:  verdict.Notation,
	}
	if outcome != nil {
		o := *outcome
		evt.Outcome = &o
	}
	m.gateway.Broadcast(s.id, evt)

	if outcome != nil {
		m.logger.Info("game ended",
			zap.String("session_id", s.id),
			zap.String("result", outcome.Result()),
			zap.String("reason", outcome.Reason),
			zap.Int("moves", len(s.moves)),
		)
		m.saveResult(s.resultLocked())
	}
	return nil
}

// Disconnect vacates conn's seat and removes the session once both seats are
// vacant. It is a no-op for an unbound connection. An Active game with one
// remaining occupant stays Active so the seat can be rejoined.
func (m *Manager) Disconnect(conn ConnID) {
	b, ok := m.unbind(conn)
	if !ok {
		return
	}
	m.gateway.LeaveRoom(conn, b.SessionID)

	s, err := m.registry.Get(b.SessionID)
	if err != nil {
		m.fault(conn, b.SessionID, fmt.Errorf("%w: bound session %s is not registered", ErrInternalInconsistency, b.SessionID))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return
	}
	if s.seats[b.Color.seat()] == conn {
		s.seats[b.Color.seat()] = ""
	}
	if s.occupants() > 0 {
		m.logger.Info("seat vacated",
			zap.String("session_id", s.id),
			zap.String("conn", string(conn)),
			zap.Stringer("color", b.Color),
			zap.Stringer("status", s.status),
		)
		return
	}
	s.removed = true
	m.registry.Remove(s.id)
	m.logger.Info("session removed",
		zap.String("session_id", s.id),
		zap.Stringer("status", s.status),
	)
}

// ReapStaleOpen removes every Open session created at least ttl ago and
// tells its occupant with CreateError. It returns the number removed.
func (m *Manager) ReapStaleOpen(ttl time.Duration) int {
	cutoff := m.now().Add(-ttl)
	reaped := 0
	for _, s := range m.registry.Sessions() {
		if m.reapIfStale(s, cutoff) {
			reaped++
		}
	}
	return reaped
}

func (m *Manager) reapIfStale(s *Session, cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed || s.status != StatusOpen || s.createdAt.After(cutoff) {
		return false
	}
	s.removed = true
	m.registry.Remove(s.id)
	for _, conn := range s.seats {
		if conn == "" {
			continue
		}
		m.mu.Lock()
		if b, ok := m.bindings[conn]; ok && b.SessionID == s.id {
			delete(m.bindings, conn)
		}
		m.mu.Unlock()
		m.gateway.LeaveRoom(conn, s.id)
		m.gateway.Send(conn, CreateError{Reason: "session expired"})
	}
	m.logger.Info("stale session reaped",
		zap.String("session_id", s.id),
		zap.Time("created_at", s.createdAt),
	)
	return true
}

// Binding returns the session binding of conn.
func (m *Manager) Binding(conn ConnID) (Binding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[conn]
	return b, ok
}

// Session returns a snapshot of the session with the given id.
//
// Postcondition: Returns the snapshot, or an error wrapping ErrNotFound.
func (m *Manager) Session(id string) (View, error) {
	s, err := m.registry.Get(id)
	if err != nil {
		return View{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return View{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return s.viewLocked(), nil
}

// Wait blocks until every pending archive write has finished.
func (m *Manager) Wait() {
	m.archiveWG.Wait()
}

func (m *Manager) bind(conn ConnID, b Binding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[conn] = b
}

func (m *Manager) unbind(conn ConnID) (Binding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[conn]
	if ok {
		delete(m.bindings, conn)
	}
	return b, ok
}

// reject sends the reason of err to conn as the given error event and
// returns err.
func (m *Manager) reject(conn ConnID, evt Event, err error) error {
	switch evt.(type) {
	case CreateError:
		evt = CreateError{Reason: err.Error()}
	case JoinError:
		evt = JoinError{Reason: err.Error()}
	default:
		evt = InvalidMove{Reason: err.Error()}
	}
	m.gateway.Send(conn, evt)
	return err
}

func (m *Manager) fault(conn ConnID, sessionID string, err error) {
	m.logger.Error("session state inconsistent",
		zap.String("session_id", sessionID),
		zap.String("conn", string(conn)),
		zap.Error(err),
	)
}

func (s *Session) resultLocked() GameResult {
	return GameResult{
		SessionID:     s.id,
		White:         s.seats[White.seat()],
		Black:         s.seats[Black.seat()],
		Result:        s.outcome.Result(),
		Reason:        s.outcome.Reason,
		FinalPosition: s.position.String(),
		Moves:         slices.Clone(s.moves),
		StartedAt:     s.startedAt,
		EndedAt:       s.endedAt,
	}
}

// saveResult archives r in the background. Failures are logged and dropped.
func (m *Manager) saveResult(r GameResult) {
	if m.archive == nil {
		return
	}
	m.archiveWG.Add(1)
	go func() {
		defer m.archiveWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.archiveTimeout)
		defer cancel()
		if err := m.archive.SaveResult(ctx, r); err != nil {
			m.logger.Warn("archiving game result failed",
				zap.String("session_id", r.SessionID),
				zap.Error(err),
			)
			return
		}
		m.logger.Debug("game result archived", zap.String("session_id", r.SessionID))
	}()
}
