package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/gambit/internal/game/rules"
)

// scriptEngine accepts every well-formed move not listed in illegal. The
// position FEN counts accepted moves; verdicts maps a ply count to the result
// reported when that ply is played.
type scriptEngine struct {
	illegal  map[string]bool
	verdicts map[int]rules.Result
	fail     error
}

func (e *scriptEngine) Initial() rules.Position {
	return rules.Position{FEN: "ply-0"}
}

func (e *scriptEngine) Apply(pos rules.Position, mv rules.Move) (rules.Verdict, error) {
	if e.fail != nil {
		return rules.Verdict{}, e.fail
	}
	if err := mv.Validate(); err != nil {
		return rules.Verdict{}, fmt.Errorf("%w: %v", rules.ErrIllegalMove, err)
	}
	if e.illegal[mv.UCI()] {
		return rules.Verdict{}, fmt.Errorf("%w: %s", rules.ErrIllegalMove, mv.UCI())
	}
	history := append(append([]string(nil), pos.History...), mv.UCI())
	return rules.Verdict{
		Position: rules.Position{History: history, FEN: fmt.Sprintf("ply-%d", len(history))},
		Notation: mv.From + "-" + mv.To,
		Result:   e.verdicts[len(history)],
	}, nil
}

type sent struct {
	conn ConnID
	evt  Event
}

// recordingGateway records every event delivered to each connection.
type recordingGateway struct {
	mu    sync.Mutex
	rooms map[string]map[ConnID]bool
	log   []sent
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{rooms: make(map[string]map[ConnID]bool)}
}

func (g *recordingGateway) Send(conn ConnID, evt Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.log = append(g.log, sent{conn: conn, evt: evt})
}

func (g *recordingGateway) Broadcast(room string, evt Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for conn := range g.rooms[room] {
		g.log = append(g.log, sent{conn: conn, evt: evt})
	}
}

func (g *recordingGateway) JoinRoom(conn ConnID, room string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[room] == nil {
		g.rooms[room] = make(map[ConnID]bool)
	}
	g.rooms[room][conn] = true
}

func (g *recordingGateway) LeaveRoom(conn ConnID, room string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rooms[room], conn)
	if len(g.rooms[room]) == 0 {
		delete(g.rooms, room)
	}
}

// events returns every event delivered to conn, oldest first.
func (g *recordingGateway) events(conn ConnID) []Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Event
	for _, s := range g.log {
		if s.conn == conn {
			out = append(out, s.evt)
		}
	}
	return out
}

func (g *recordingGateway) last(t *testing.T, conn ConnID) Event {
	t.Helper()
	evts := g.events(conn)
	require.NotEmpty(t, evts, "no events for %s", conn)
	return evts[len(evts)-1]
}

func (g *recordingGateway) members(room string) []ConnID {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []ConnID
	for conn := range g.rooms[room] {
		out = append(out, conn)
	}
	return out
}

type memArchive struct {
	mu      sync.Mutex
	results []GameResult
	err     error
}

func (a *memArchive) SaveResult(_ context.Context, r GameResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.results = append(a.results, r)
	return nil
}

func (a *memArchive) saved() []GameResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]GameResult(nil), a.results...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	reg     *Registry
	gw      *recordingGateway
	manager *Manager
}

func newFixture(t *testing.T, engine rules.Engine, opts ...Option) *fixture {
	t.Helper()
	reg := NewRegistry()
	gw := newRecordingGateway()
	return &fixture{
		reg:     reg,
		gw:      gw,
		manager: NewManager(reg, engine, gw, zaptest.NewLogger(t), opts...),
	}
}

// activeGame creates a session with white at "w" and black at "b".
func (f *fixture) activeGame(t *testing.T) string {
	t.Helper()
	id, err := f.manager.CreateSession("w", White)
	require.NoError(t, err)
	require.NoError(t, f.manager.JoinSession("b", id))
	return id
}

func (f *fixture) view(t *testing.T, id string) View {
	t.Helper()
	v, err := f.manager.Session(id)
	require.NoError(t, err)
	return v
}

func mv(uci string) rules.Move {
	m := rules.Move{From: uci[0:2], To: uci[2:4]}
	if len(uci) > 4 {
		m.Promotion = uci[4:]
	}
	return m
}
