package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/cory-johannsen/gambit/internal/protocol"
)

// WSClient is a simple WebSocket test client speaking the gateway's JSON
// envelope protocol.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials the given ws:// URL and returns a test client.
//
// Precondition: url must point at a listening gateway.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", url, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close(websocket.StatusNormalClosure, "")
	})

	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Send writes one envelope with data marshalled as its payload.
//
// Postcondition: The frame is written to the connection, or the test fails.
func (c *WSClient) Send(event string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("marshalling %s payload: %v", event, err)
	}
	c.SendRaw(protocol.Envelope{Event: event, Data: raw})
}

// SendRaw writes v as a JSON text frame without further wrapping.
func (c *WSClient) SendRaw(v any) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, v); err != nil {
		c.t.Fatalf("sending frame: %v", err)
	}
}

// Read returns the next envelope, or fails the test on timeout.
func (c *WSClient) Read(timeout time.Duration) protocol.Envelope {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var env protocol.Envelope
	if err := wsjson.Read(ctx, c.conn, &env); err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	return env
}

// Expect reads the next envelope, requires it to carry event and decodes its
// payload into out.
//
// Postcondition: out holds the payload, or the test fails.
func (c *WSClient) Expect(event string, out any, timeout time.Duration) {
	c.t.Helper()
	env := c.Read(timeout)
	if env.Event != event {
		c.t.Fatalf("expected %q frame, got %q: %s", event, env.Event, env.Data)
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		c.t.Fatalf("decoding %s payload: %v", event, err)
	}
}

// Close closes the connection with a normal closure.
func (c *WSClient) Close() {
	c.conn.Close(websocket.StatusNormalClosure, "")
}
