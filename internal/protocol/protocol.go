// Package protocol converts between WebSocket JSON frames and the typed
// requests and events of the session package.
//
// Every frame is an Envelope: {"event": "<name>", "data": {...}}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cory-johannsen/gambit/internal/game/rules"
	"github.com/cory-johannsen/gambit/internal/game/session"
)

// Inbound event names.
const (
	EventCreateSession = "createSession"
	EventJoinSession   = "joinSession"
	EventSubmitMove    = "submitMove"
)

// Outbound event names.
const (
	EventSessionCreated = "sessionCreated"
	EventCreateError    = "createError"
	EventJoined         = "joined"
	EventJoinError      = "joinError"
	EventMoveAccepted   = "moveAccepted"
	EventInvalidMove    = "invalidMove"
)

// Envelope is the outer shape of every frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CreateSessionPayload is the data of a createSession frame.
type CreateSessionPayload struct {
	Color string `json:"color"`
}

// JoinSessionPayload is the data of a joinSession frame.
type JoinSessionPayload struct {
	SessionID string `json:"sessionId"`
}

// SubmitMovePayload is the data of a submitMove frame.
type SubmitMovePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// SessionCreatedPayload is the data of a sessionCreated frame.
type SessionCreatedPayload struct {
	SessionID string `json:"sessionId"`
}

// ReasonPayload is the data of every error frame.
type ReasonPayload struct {
	Reason string `json:"reason"`
}

// JoinedPayload is the data of a joined frame.
type JoinedPayload struct {
	Color     string `json:"color"`
	FEN       string `json:"fen"`
	SessionID string `json:"sessionId"`
}

// OutcomePayload describes how a game ended.
type OutcomePayload struct {
	// Result is "white", "black" or "draw".
	Result string `json:"result"`
	Reason string `json:"reason,omitempty"`
}

// MoveAcceptedPayload is the data of a moveAccepted frame.
type MoveAcceptedPayload struct {
	FEN     string          `json:"fen"`
	Mover   string          `json:"mover"`
	SAN     string          `json:"san"`
	Outcome *OutcomePayload `json:"outcome,omitempty"`
}

// DecodeError reports a frame that could not be turned into a request. It
// wraps session.ErrInvalidArgument.
type DecodeError struct {
	// Event is the inbound event name, possibly empty or unknown.
	Event string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", session.ErrInvalidArgument, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{session.ErrInvalidArgument, e.Err}
}

// Reply returns the error event answering the rejected frame.
func (e *DecodeError) Reply() session.Event {
	switch e.Event {
	case EventCreateSession:
		return session.CreateError{Reason: e.Error()}
	case EventJoinSession:
		return session.JoinError{Reason: e.Error()}
	default:
		return session.InvalidMove{Reason: e.Error()}
	}
}

// Decode parses one inbound frame.
//
// Postcondition: Returns a fully typed request, or a *DecodeError.
func Decode(frame []byte) (session.Request, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("malformed frame: %w", err)}
	}

	switch env.Event {
	case EventCreateSession:
		var p CreateSessionPayload
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		color, err := session.ParseColor(p.Color)
		if err != nil {
			return nil, &DecodeError{Event: env.Event, Err: fmt.Errorf("unknown color %q", p.Color)}
		}
		return session.CreateRequest{Color: color}, nil

	case EventJoinSession:
		var p JoinSessionPayload
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		id := strings.TrimSpace(p.SessionID)
		if id == "" {
			return nil, &DecodeError{Event: env.Event, Err: errors.New("sessionId is required")}
		}
		return session.JoinRequest{SessionID: id}, nil

	case EventSubmitMove:
		var p SubmitMovePayload
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		m := rules.Move{
			From:      strings.ToLower(p.From),
			To:        strings.ToLower(p.To),
			Promotion: strings.ToLower(p.Promotion),
		}
		if err := m.Validate(); err != nil {
			return nil, &DecodeError{Event: env.Event, Err: err}
		}
		return session.MoveRequest{Move: m}, nil

	case "":
		return nil, &DecodeError{Err: errors.New("missing event name")}
	default:
		return nil, &DecodeError{Event: env.Event, Err: fmt.Errorf("unknown event %q", env.Event)}
	}
}

func decodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return &DecodeError{Event: env.Event, Err: errors.New("missing data")}
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return &DecodeError{Event: env.Event, Err: fmt.Errorf("malformed %s data: %w", env.Event, err)}
	}
	return nil
}

// Encode renders an outbound event as a frame.
//
// Postcondition: Returns the JSON frame, or an error for an unknown event type.
func Encode(evt session.Event) ([]byte, error) {
	var (
		name string
		data any
	)
	switch e := evt.(type) {
	case session.SessionCreated:
		name, data = EventSessionCreated, SessionCreatedPayload{SessionID: e.SessionID}
	case session.CreateError:
		name, data = EventCreateError, ReasonPayload{Reason: e.Reason}
	case session.Joined:
		name, data = EventJoined, JoinedPayload{Color: e.Color.String(), FEN: e.Position, SessionID: e.SessionID}
	case session.JoinError:
		name, data = EventJoinError, ReasonPayload{Reason: e.Reason}
	case session.MoveAccepted:
		p := MoveAcceptedPayload{FEN: e.Position, Mover: e.Mover.String(), SAN: e.Notation}
		if e.Outcome != nil {
			p.Outcome = &OutcomePayload{Result: e.Outcome.Result(), Reason: e.Outcome.Reason}
		}
		name, data = EventMoveAccepted, p
	case session.InvalidMove:
		name, data = EventInvalidMove, ReasonPayload{Reason: e.Reason}
	default:
		return nil, fmt.Errorf("encoding %T: unknown event", evt)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", name, err)
	}
	return json.Marshal(Envelope{Event: name, Data: raw})
}
