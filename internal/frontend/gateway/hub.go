package gateway

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gambit/internal/game/session"
	"github.com/cory-johannsen/gambit/internal/protocol"
)

// errOutboxFull is returned by client.Push when the writer has fallen behind.
var errOutboxFull = errors.New("outbox full")

// client is the outbound half of one connection. Frames pushed here are
// drained to the socket by the connection's writer goroutine.
type client struct {
	id     session.ConnID
	outbox chan []byte
	mu     sync.Mutex
	closed bool
}

func newClient(id session.ConnID, outboxSize int) *client {
	if outboxSize <= 0 {
		outboxSize = 64
	}
	return &client{
		id:     id,
		outbox: make(chan []byte, outboxSize),
	}
}

// Push enqueues a frame without blocking.
//
// Postcondition: Returns nil if the frame was queued, or an error if the
// client is closed or its outbox is full.
func (c *client) Push(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection %s is closed", c.id)
	}
	select {
	case c.outbox <- frame:
		return nil
	default:
		return fmt.Errorf("connection %s: %w", c.id, errOutboxFull)
	}
}

// Frames returns the channel the writer drains. It is closed by Close.
func (c *client) Frames() <-chan []byte {
	return c.outbox
}

// Close closes the outbox. Frames already queued are still delivered.
func (c *client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.outbox)
	}
}

// Hub tracks live connections and broadcast rooms. It implements
// session.Gateway; no method blocks on network I/O.
// All methods are safe for concurrent use.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[session.ConnID]*client
	rooms   map[string]map[session.ConnID]bool
}

// NewHub creates an empty Hub.
//
// Precondition: logger must be non-nil.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[session.ConnID]*client),
		rooms:   make(map[string]map[session.ConnID]bool),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

// unregister forgets the connection, removes it from every room and closes
// its outbox.
func (h *Hub) unregister(id session.ConnID) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	for room, members := range h.rooms {
		delete(members, id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	if ok {
		c.Close()
	}
}

// Send delivers evt to a single connection. Unknown connections are ignored.
func (h *Hub) Send(conn session.ConnID, evt session.Event) {
	frame, err := protocol.Encode(evt)
	if err != nil {
		h.logger.Error("encoding event", zap.Error(err))
		return
	}
	h.mu.RLock()
	c, ok := h.clients[conn]
	h.mu.RUnlock()
	if ok {
		h.push(c, frame)
	}
}

// Broadcast delivers evt to every connection in room.
func (h *Hub) Broadcast(room string, evt session.Event) {
	frame, err := protocol.Encode(evt)
	if err != nil {
		h.logger.Error("encoding event", zap.Error(err))
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.push(c, frame)
	}
}

// JoinRoom adds a live connection to room.
func (h *Hub) JoinRoom(conn session.ConnID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[session.ConnID]bool)
	}
	h.rooms[room][conn] = true
}

// LeaveRoom removes conn from room.
func (h *Hub) LeaveRoom(conn session.ConnID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomMembers returns the connections in room.
func (h *Hub) RoomMembers(room string) []session.ConnID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]session.ConnID, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		out = append(out, id)
	}
	return out
}

// push queues frame on c. A client whose outbox is full is closed, which ends
// its connection.
func (h *Hub) push(c *client, frame []byte) {
	err := c.Push(frame)
	if err == nil {
		return
	}
	if errors.Is(err, errOutboxFull) {
		h.logger.Warn("dropping slow connection", zap.String("conn", string(c.id)))
		c.Close()
		return
	}
	h.logger.Debug("push to closed connection", zap.String("conn", string(c.id)), zap.Error(err))
}
