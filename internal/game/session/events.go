package session

import "github.com/cory-johannsen/gambit/internal/game/rules"

// ConnID identifies a live connection in the gateway.
type ConnID string

// Request is an inbound connection event, already validated and typed.
type Request interface {
	request()
}

// CreateRequest asks for a new session with the requester in Color's seat.
type CreateRequest struct {
	Color Color
}

func (CreateRequest) request() {}

// JoinRequest asks to take the vacant seat of an existing session.
type JoinRequest struct {
	SessionID string
}

func (JoinRequest) request() {}

// MoveRequest submits a move in the requester's session.
type MoveRequest struct {
	Move rules.Move
}

func (MoveRequest) request() {}

// DisconnectRequest reports that the connection has gone away.
type DisconnectRequest struct{}

func (DisconnectRequest) request() {}

// Event is an outbound message to one connection or a whole room.
type Event interface {
	sessionEvent()
}

// SessionCreated acknowledges a create request.
type SessionCreated struct {
	SessionID string
}

func (SessionCreated) sessionEvent() {}

// CreateError rejects a create request, or tells the occupant of an Open
// session that it expired.
type CreateError struct {
	Reason string
}

func (CreateError) sessionEvent() {}

// Joined acknowledges a join request.
type Joined struct {
	SessionID string
	Color     Color
	// Position is the serialized board state.
	Position string
}

func (Joined) sessionEvent() {}

// JoinError rejects a join request.
type JoinError struct {
	Reason string
}

func (JoinError) sessionEvent() {}

// MoveAccepted is broadcast to the room after every accepted move.
type MoveAccepted struct {
	SessionID string
	Position  string
	Mover     Color
	Notation  string
	// Outcome is set when the move ended the game.
	Outcome *Outcome
}

func (MoveAccepted) sessionEvent() {}

// InvalidMove rejects a move request.
type InvalidMove struct {
	Reason string
}

func (InvalidMove) sessionEvent() {}

// Gateway delivers events to connections and manages broadcast rooms.
// Implementations must not block on network I/O.
type Gateway interface {
	Send(conn ConnID, evt Event)
	Broadcast(room string, evt Event)
	JoinRoom(conn ConnID, room string)
	LeaveRoom(conn ConnID, room string)
}
