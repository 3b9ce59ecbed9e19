package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/gambit/internal/game/rules"
)

func TestCreateSession(t *testing.T) {
	f := newFixture(t, &scriptEngine{})

	id, err := f.manager.CreateSession("c1", White)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Equal(t, SessionCreated{SessionID: id}, f.gw.last(t, "c1"))
	assert.Equal(t, []ConnID{"c1"}, f.gw.members(id))

	v := f.view(t, id)
	assert.Equal(t, StatusOpen, v.Status)
	assert.Equal(t, ConnID("c1"), v.White)
	assert.Empty(t, v.Black)
	assert.Nil(t, v.Outcome)
	assert.Equal(t, "ply-0", v.Position.String())

	b, ok := f.manager.Binding("c1")
	require.True(t, ok)
	assert.Equal(t, Binding{SessionID: id, Color: White}, b)
}

func TestCreateSession_InvalidColor(t *testing.T) {
	f := newFixture(t, &scriptEngine{})

	_, err := f.manager.CreateSession("c1", NoColor)
	require.ErrorIs(t, err, ErrInvalidArgument)

	assert.IsType(t, CreateError{}, f.gw.last(t, "c1"))
	assert.Equal(t, 0, f.reg.Count())
	_, ok := f.manager.Binding("c1")
	assert.False(t, ok)
}

func TestCreateSession_AlreadyBound(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	first, err := f.manager.CreateSession("c1", White)
	require.NoError(t, err)

	_, err = f.manager.CreateSession("c1", Black)
	require.ErrorIs(t, err, ErrConflict)
	assert.IsType(t, CreateError{}, f.gw.last(t, "c1"))
	assert.Equal(t, 1, f.reg.Count())

	b, _ := f.manager.Binding("c1")
	assert.Equal(t, first, b.SessionID)
}

func TestCreateSession_UniqueIDs(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := f.manager.CreateSession(ConnID(fmt.Sprintf("c%d", i)), White)
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestRegistry_CreateRetriesTakenID(t *testing.T) {
	reg := NewRegistry()
	ids := []string{"dup", "dup", "fresh"}
	reg.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	a := reg.Create(rules.Position{}, "c1", White)
	b := reg.Create(rules.Position{}, "c2", White)
	assert.Equal(t, "dup", a.ID())
	assert.Equal(t, "fresh", b.ID())
}

func TestJoinSession_NeverCreated(t *testing.T) {
	f := newFixture(t, &scriptEngine{})

	err := f.manager.JoinSession("c1", "no-such-session")
	require.ErrorIs(t, err, ErrNotFound)
	assert.IsType(t, JoinError{}, f.gw.last(t, "c1"))
	assert.Equal(t, 0, f.reg.Count())
	_, err = f.manager.Session("no-such-session")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJoinSession_AssignsVacantSeat(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	id, err := f.manager.CreateSession("creator", Black)
	require.NoError(t, err)

	require.NoError(t, f.manager.JoinSession("joiner", id))

	assert.Equal(t, Joined{SessionID: id, Color: White, Position: "ply-0"}, f.gw.last(t, "joiner"))
	v := f.view(t, id)
	assert.Equal(t, StatusActive, v.Status)
	assert.Equal(t, White, v.Turn)
	assert.Equal(t, ConnID("joiner"), v.White)
	assert.Equal(t, ConnID("creator"), v.Black)
	assert.ElementsMatch(t, []ConnID{"creator", "joiner"}, f.gw.members(id))

	// The creator hears nothing about the join.
	assert.Len(t, f.gw.events("creator"), 1)
}

func TestJoinSession_Full(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	id := f.activeGame(t)
	before := f.view(t, id)

	err := f.manager.JoinSession("third", id)
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "full")
	assert.IsType(t, JoinError{}, f.gw.last(t, "third"))

	after := f.view(t, id)
	assert.Equal(t, before.White, after.White)
	assert.Equal(t, before.Black, after.Black)
	_, ok := f.manager.Binding("third")
	assert.False(t, ok)
}

func TestJoinSession_AlreadyBound(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	id, err := f.manager.CreateSession("c1", White)
	require.NoError(t, err)

	err = f.manager.JoinSession("c1", id)
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, StatusOpen, f.view(t, id).Status)
}

func TestJoinSession_EmptyID(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	err := f.manager.JoinSession("c1", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestJoinSession_EmptySessionIsInconsistent(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	id, err := f.manager.CreateSession("c1", White)
	require.NoError(t, err)

	s, err := f.reg.Get(id)
	require.NoError(t, err)
	s.mu.Lock()
	s.seats = [2]ConnID{}
	s.mu.Unlock()

	err = f.manager.JoinSession("c2", id)
	require.ErrorIs(t, err, ErrInternalInconsistency)
	assert.IsType(t, JoinError{}, f.gw.last(t, "c2"))
	assert.Equal(t, StatusOpen, f.view(t, id).Status)
}

func TestJoinSession_EndedGame(t *testing.T) {
	f := newFixture(t, &scriptEngine{verdicts: map[int]rules.Result{1: {Kind: rules.Checkmate, Reason: "checkmate"}}})
	id := f.activeGame(t)
	require.NoError(t, f.manager.SubmitMove("w", mv("e2e4")))
	f.manager.Disconnect("b")

	err := f.manager.JoinSession("late", id)
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "ended")
}

func TestScenario_CreateJoinMoveOutOfTurnDisconnect(t *testing.T) {
	f := newFixture(t, &scriptEngine{})

	s1, err := f.manager.CreateSession("first", White)
	require.NoError(t, err)
	assert.Equal(t, ConnID("first"), f.view(t, s1).White)

	require.NoError(t, f.manager.JoinSession("second", s1))
	v := f.view(t, s1)
	assert.Equal(t, ConnID("second"), v.Black)
	assert.Equal(t, StatusActive, v.Status)
	assert.Equal(t, White, v.Turn)

	require.NoError(t, f.manager.SubmitMove("first", mv("e2e4")))
	want := MoveAccepted{SessionID: s1, Position: "ply-1", Mover: White, Notation: "e2-e4"}
	assert.Equal(t, want, f.gw.last(t, "first"))
	assert.Equal(t, want, f.gw.last(t, "second"))
	assert.Equal(t, Black, f.view(t, s1).Turn)

	err = f.manager.SubmitMove("first", mv("d2d4"))
	require.ErrorIs(t, err, ErrOutOfTurn)
	assert.Contains(t, err.Error(), "black")
	last := f.gw.last(t, "first")
	require.IsType(t, InvalidMove{}, last)
	assert.Contains(t, last.(InvalidMove).Reason, "black")
	// The rejection is not broadcast.
	assert.Equal(t, want, f.gw.last(t, "second"))

	f.manager.Disconnect("first")
	f.manager.Disconnect("second")
	_, err = f.reg.Get(s1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.manager.Session(s1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitMove_NotBound(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	err := f.manager.SubmitMove("stranger", mv("e2e4"))
	require.ErrorIs(t, err, ErrNotBound)
	assert.IsType(t, InvalidMove{}, f.gw.last(t, "stranger"))
}

func TestSubmitMove_OpenSessionNotActive(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	id, err := f.manager.CreateSession("w", White)
	require.NoError(t, err)

	err = f.manager.SubmitMove("w", mv("e2e4"))
	require.ErrorIs(t, err, ErrGameNotActive)
	assert.Equal(t, "ply-0", f.view(t, id).Position.String())
}

func TestSubmitMove_IllegalLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, &scriptEngine{illegal: map[string]bool{"e2e5": true}})
	id := f.activeGame(t)

	err := f.manager.SubmitMove("w", mv("e2e5"))
	require.ErrorIs(t, err, ErrIllegalMove)
	assert.IsType(t, InvalidMove{}, f.gw.last(t, "w"))
	assert.Len(t, f.gw.events("b"), 1, "black saw only its join ack")

	v := f.view(t, id)
	assert.Equal(t, White, v.Turn)
	assert.Equal(t, "ply-0", v.Position.String())
	assert.Empty(t, v.Moves)
}

func TestSubmitMove_EngineFailureIsInconsistency(t *testing.T) {
	f := newFixture(t, &scriptEngine{fail: errors.New("corrupt position")})
	id := f.activeGame(t)

	err := f.manager.SubmitMove("w", mv("e2e4"))
	require.ErrorIs(t, err, ErrInternalInconsistency)
	assert.False(t, errors.Is(err, ErrIllegalMove))
	assert.Equal(t, White, f.view(t, id).Turn)
}

func TestSubmitMove_SeatMismatchIsInconsistency(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	id := f.activeGame(t)

	s, err := f.reg.Get(id)
	require.NoError(t, err)
	s.mu.Lock()
	s.seats[White.seat()] = "impostor"
	s.mu.Unlock()

	err = f.manager.SubmitMove("w", mv("e2e4"))
	require.ErrorIs(t, err, ErrInternalInconsistency)
	assert.Equal(t, "ply-0", f.view(t, id).Position.String())
}

func TestSubmitMove_MissingSessionIsInconsistency(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	id := f.activeGame(t)
	f.reg.Remove(id)

	err := f.manager.SubmitMove("w", mv("e2e4"))
	require.ErrorIs(t, err, ErrInternalInconsistency)
	assert.IsType(t, InvalidMove{}, f.gw.last(t, "w"))
}

func TestSubmitMove_CheckmateEndsGame(t *testing.T) {
	engine, err := rules.NewChessEngine("")
	require.NoError(t, err)
	archive := &memArchive{}
	f := newFixture(t, engine, WithArchive(archive))
	id := f.activeGame(t)

	for i, uci := range []string{"f2f3", "e7e5", "g2g4"} {
		conn := ConnID("w")
		if i%2 == 1 {
			conn = "b"
		}
		require.NoError(t, f.manager.SubmitMove(conn, mv(uci)))
	}
	require.NoError(t, f.manager.SubmitMove("b", mv("d8h4")))

	evt := f.gw.last(t, "w")
	require.IsType(t, MoveAccepted{}, evt)
	accepted := evt.(MoveAccepted)
	assert.Equal(t, Black, accepted.Mover)
	assert.Equal(t, "Qh4#", accepted.Notation)
	require.NotNil(t, accepted.Outcome)
	assert.Equal(t, Outcome{Winner: Black, Reason: "checkmate"}, *accepted.Outcome)
	assert.Equal(t, accepted, f.gw.last(t, "b"))

	v := f.view(t, id)
	assert.Equal(t, StatusEnded, v.Status)
	require.NotNil(t, v.Outcome)
	assert.Equal(t, Black, v.Outcome.Winner)

	err = f.manager.SubmitMove("w", mv("e2e4"))
	require.ErrorIs(t, err, ErrGameNotActive)
	assert.Equal(t, v.Position.String(), f.view(t, id).Position.String())

	f.manager.Wait()
	saved := archive.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, id, saved[0].SessionID)
	assert.Equal(t, "black", saved[0].Result)
	assert.Equal(t, ConnID("w"), saved[0].White)
	assert.Equal(t, ConnID("b"), saved[0].Black)
	assert.Equal(t, []string{"f3", "e5", "g4", "Qh4#"}, saved[0].Moves)
}

func TestSubmitMove_DrawVerdictForwarded(t *testing.T) {
	f := newFixture(t, &scriptEngine{verdicts: map[int]rules.Result{2: {Kind: rules.Draw, Reason: "stalemate"}}})
	id := f.activeGame(t)

	require.NoError(t, f.manager.SubmitMove("w", mv("e2e4")))
	require.NoError(t, f.manager.SubmitMove("b", mv("e7e5")))

	evt := f.gw.last(t, "w").(MoveAccepted)
	require.NotNil(t, evt.Outcome)
	assert.True(t, evt.Outcome.Draw)
	assert.Equal(t, "draw", evt.Outcome.Result())
	assert.Equal(t, "stalemate", evt.Outcome.Reason)
	assert.Equal(t, StatusEnded, f.view(t, id).Status)
}

func TestSubmitMove_ArchiveFailureIsNotFatal(t *testing.T) {
	archive := &memArchive{err: errors.New("database down")}
	f := newFixture(t, &scriptEngine{verdicts: map[int]rules.Result{1: {Kind: rules.Checkmate, Reason: "checkmate"}}}, WithArchive(archive))
	id := f.activeGame(t)

	require.NoError(t, f.manager.SubmitMove("w", mv("e2e4")))
	f.manager.Wait()
	assert.Empty(t, archive.saved())
	assert.Equal(t, StatusEnded, f.view(t, id).Status)
}

func TestDisconnect_Unbound(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	f.manager.Disconnect("nobody")
	assert.Empty(t, f.gw.events("nobody"))
}

func TestDisconnect_OpenSessionRemoved(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	id, err := f.manager.CreateSession("c1", Black)
	require.NoError(t, err)

	f.manager.Disconnect("c1")

	_, err = f.reg.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.gw.members(id))
	_, ok := f.manager.Binding("c1")
	assert.False(t, ok)
}

func TestDisconnect_ActiveWaitsForRejoin(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	id := f.activeGame(t)
	require.NoError(t, f.manager.SubmitMove("w", mv("e2e4")))

	f.manager.Disconnect("b")

	v := f.view(t, id)
	assert.Equal(t, StatusActive, v.Status)
	assert.Empty(t, v.Black)
	assert.Nil(t, v.Outcome)
	assert.Equal(t, []ConnID{"w"}, f.gw.members(id))

	// White cannot move for black while the seat is empty.
	err := f.manager.SubmitMove("w", mv("d2d4"))
	require.ErrorIs(t, err, ErrOutOfTurn)

	require.NoError(t, f.manager.JoinSession("b2", id))
	assert.Equal(t, Joined{SessionID: id, Color: Black, Position: "ply-1"}, f.gw.last(t, "b2"))
	require.NoError(t, f.manager.SubmitMove("b2", mv("e7e5")))
	assert.Equal(t, White, f.view(t, id).Turn)
}

func TestDisconnect_EndedRemovedOnlyWhenBothLeave(t *testing.T) {
	f := newFixture(t, &scriptEngine{verdicts: map[int]rules.Result{1: {Kind: rules.Checkmate, Reason: "checkmate"}}})
	id := f.activeGame(t)
	require.NoError(t, f.manager.SubmitMove("w", mv("e2e4")))

	f.manager.Disconnect("w")
	v := f.view(t, id)
	assert.Equal(t, StatusEnded, v.Status)
	assert.Equal(t, "ply-1", v.Position.String())

	f.manager.Disconnect("b")
	_, err := f.manager.Session(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDisconnect_StalePointerSeesRemoval(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	id, err := f.manager.CreateSession("c1", White)
	require.NoError(t, err)
	s, err := f.reg.Get(id)
	require.NoError(t, err)

	f.manager.Disconnect("c1")

	s.mu.Lock()
	removed := s.removed
	s.mu.Unlock()
	assert.True(t, removed)
	err = f.manager.JoinSession("c2", id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandle_Dispatch(t *testing.T) {
	f := newFixture(t, &scriptEngine{})

	f.manager.Handle("w", CreateRequest{Color: White})
	created := f.gw.last(t, "w")
	require.IsType(t, SessionCreated{}, created)
	id := created.(SessionCreated).SessionID

	f.manager.Handle("b", JoinRequest{SessionID: id})
	assert.IsType(t, Joined{}, f.gw.last(t, "b"))

	f.manager.Handle("w", MoveRequest{Move: mv("e2e4")})
	assert.IsType(t, MoveAccepted{}, f.gw.last(t, "b"))

	f.manager.Handle("b", CreateRequest{Color: NoColor})
	assert.IsType(t, CreateError{}, f.gw.last(t, "b"))

	f.manager.Handle("x", JoinRequest{SessionID: "missing"})
	assert.IsType(t, JoinError{}, f.gw.last(t, "x"))

	f.manager.Handle("x", MoveRequest{Move: mv("e2e4")})
	assert.IsType(t, InvalidMove{}, f.gw.last(t, "x"))

	f.manager.Handle("w", DisconnectRequest{})
	f.manager.Handle("b", DisconnectRequest{})
	assert.Equal(t, 0, f.reg.Count())
}

func TestReapStaleOpen(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	f := newFixture(t, &scriptEngine{}, WithClock(clk.Now))
	f.reg.now = clk.Now

	stale, err := f.manager.CreateSession("old", White)
	require.NoError(t, err)
	active := f.activeGame(t)
	clk.Advance(10 * time.Minute)
	fresh, err := f.manager.CreateSession("new", Black)
	require.NoError(t, err)

	n := f.manager.ReapStaleOpen(5 * time.Minute)
	assert.Equal(t, 1, n)

	_, err = f.manager.Session(stale)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, CreateError{Reason: "session expired"}, f.gw.last(t, "old"))
	_, ok := f.manager.Binding("old")
	assert.False(t, ok)

	assert.Equal(t, StatusActive, f.view(t, active).Status)
	assert.Equal(t, StatusOpen, f.view(t, fresh).Status)

	// The reaped player may start over.
	_, err = f.manager.CreateSession("old", White)
	assert.NoError(t, err)
}

func TestReaper_StartStop(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	f := newFixture(t, &scriptEngine{}, WithClock(clk.Now))
	f.reg.now = clk.Now
	id, err := f.manager.CreateSession("old", White)
	require.NoError(t, err)
	clk.Advance(time.Hour)

	r := NewReaper(f.manager, time.Minute, 5*time.Millisecond, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- r.Start() }()

	assert.Eventually(t, func() bool {
		_, err := f.manager.Session(id)
		return errors.Is(err, ErrNotFound)
	}, 2*time.Second, 5*time.Millisecond)

	r.Stop()
	r.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestConcurrentMovesSameSession(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	id := f.activeGame(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); errs[0] = f.manager.SubmitMove("w", mv("e2e4")) }()
	go func() { defer wg.Done(); errs[1] = f.manager.SubmitMove("b", mv("e7e5")) }()
	wg.Wait()

	// White always has the move first; black either lost the race or moved
	// after white.
	require.NoError(t, errs[0])
	v := f.view(t, id)
	if errs[1] != nil {
		assert.ErrorIs(t, errs[1], ErrOutOfTurn)
		assert.Len(t, v.Moves, 1)
		assert.Equal(t, Black, v.Turn)
	} else {
		assert.Len(t, v.Moves, 2)
		assert.Equal(t, White, v.Turn)
	}
}

func TestConcurrentSessionsIndependent(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	const games = 32

	var wg sync.WaitGroup
	for i := 0; i < games; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := ConnID(fmt.Sprintf("w%d", i))
			b := ConnID(fmt.Sprintf("b%d", i))
			id, err := f.manager.CreateSession(w, White)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, f.manager.JoinSession(b, id))
			assert.NoError(t, f.manager.SubmitMove(w, mv("e2e4")))
			assert.NoError(t, f.manager.SubmitMove(b, mv("e7e5")))
			f.manager.Disconnect(w)
			f.manager.Disconnect(b)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, f.reg.Count())
}

func TestConcurrentJoinSingleWinner(t *testing.T) {
	f := newFixture(t, &scriptEngine{})
	id, err := f.manager.CreateSession("host", White)
	require.NoError(t, err)

	const joiners = 16
	var wg sync.WaitGroup
	results := make([]error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.manager.JoinSession(ConnID(fmt.Sprintf("j%d", i)), id)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrConflict)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, StatusActive, f.view(t, id).Status)
}

var squares = []string{"a2a3", "b7b6", "c2c4", "d7d5", "g1f3", "g8f6", "h2h3", "h7h6"}

func TestPropertyTurnParity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		reg := NewRegistry()
		m := NewManager(reg, &scriptEngine{}, newRecordingGateway(), zap.NewNop())
		id, err := m.CreateSession("w", White)
		require.NoError(t, err)
		require.NoError(t, m.JoinSession("b", id))

		n := rapid.IntRange(0, 40).Draw(t, "moves")
		for i := 0; i < n; i++ {
			conn := ConnID("w")
			if i%2 == 1 {
				conn = "b"
			}
			require.NoError(t, m.SubmitMove(conn, mv(squares[i%len(squares)])))
		}

		v, err := m.Session(id)
		require.NoError(t, err)
		want := White
		if n%2 == 1 {
			want = Black
		}
		assert.Equal(t, want, v.Turn)
		assert.Len(t, v.Moves, n)
	})
}

func TestPropertyOutOfTurnLeavesStateUnchanged(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewManager(NewRegistry(), &scriptEngine{}, newRecordingGateway(), zap.NewNop())
		id, err := m.CreateSession("w", White)
		require.NoError(t, err)
		require.NoError(t, m.JoinSession("b", id))

		n := rapid.IntRange(0, 20).Draw(t, "moves")
		for i := 0; i < n; i++ {
			conn := ConnID("w")
			if i%2 == 1 {
				conn = "b"
			}
			require.NoError(t, m.SubmitMove(conn, mv(squares[i%len(squares)])))
		}
		before, err := m.Session(id)
		require.NoError(t, err)

		wrong := ConnID("b")
		if before.Turn == Black {
			wrong = "w"
		}
		err = m.SubmitMove(wrong, mv(rapid.SampledFrom(squares).Draw(t, "move")))
		require.ErrorIs(t, err, ErrOutOfTurn)

		after, err := m.Session(id)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

func TestPropertyEndedRejectsMoves(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		end := rapid.IntRange(1, 10).Draw(t, "end_ply")
		kind := rapid.SampledFrom([]rules.ResultKind{rules.Checkmate, rules.Draw}).Draw(t, "kind")
		engine := &scriptEngine{verdicts: map[int]rules.Result{end: {Kind: kind, Reason: "scripted"}}}
		m := NewManager(NewRegistry(), engine, newRecordingGateway(), zap.NewNop())
		id, err := m.CreateSession("w", White)
		require.NoError(t, err)
		require.NoError(t, m.JoinSession("b", id))

		for i := 0; i < end; i++ {
			conn := ConnID("w")
			if i%2 == 1 {
				conn = "b"
			}
			require.NoError(t, m.SubmitMove(conn, mv(squares[i%len(squares)])))
		}
		before, err := m.Session(id)
		require.NoError(t, err)
		require.Equal(t, StatusEnded, before.Status)

		for _, conn := range []ConnID{"w", "b"} {
			err := m.SubmitMove(conn, mv("e2e4"))
			require.ErrorIs(t, err, ErrGameNotActive)
		}
		after, err := m.Session(id)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

func TestPropertyBothVacateRemovesSession(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		reg := NewRegistry()
		m := NewManager(reg, &scriptEngine{verdicts: map[int]rules.Result{1: {Kind: rules.Checkmate}}}, newRecordingGateway(), zap.NewNop())

		games := rapid.IntRange(1, 8).Draw(t, "games")
		var ids []string
		var conns []ConnID
		for i := 0; i < games; i++ {
			host := ConnID(fmt.Sprintf("h%d", i))
			id, err := m.CreateSession(host, rapid.SampledFrom([]Color{White, Black}).Draw(t, "color"))
			require.NoError(t, err)
			ids = append(ids, id)
			conns = append(conns, host)

			switch rapid.IntRange(0, 2).Draw(t, "status") {
			case 1:
				guest := ConnID(fmt.Sprintf("g%d", i))
				require.NoError(t, m.JoinSession(guest, id))
				conns = append(conns, guest)
			case 2:
				guest := ConnID(fmt.Sprintf("g%d", i))
				require.NoError(t, m.JoinSession(guest, id))
				conns = append(conns, guest)
				v, err := m.Session(id)
				require.NoError(t, err)
				require.NoError(t, m.SubmitMove(v.White, mv("e2e4")))
			}
		}

		order := rapid.Permutation(conns).Draw(t, "order")
		for _, c := range order {
			m.Disconnect(c)
		}
		for _, id := range ids {
			_, err := reg.Get(id)
			assert.ErrorIs(t, err, ErrNotFound)
		}
		assert.Equal(t, 0, reg.Count())
	})
}

func TestPropertyFullJoinConflict(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewManager(NewRegistry(), &scriptEngine{}, newRecordingGateway(), zap.NewNop())
		color := rapid.SampledFrom([]Color{White, Black}).Draw(t, "color")
		id, err := m.CreateSession("host", color)
		require.NoError(t, err)
		require.NoError(t, m.JoinSession("guest", id))
		before, err := m.Session(id)
		require.NoError(t, err)

		attempts := rapid.IntRange(1, 5).Draw(t, "attempts")
		for i := 0; i < attempts; i++ {
			err := m.JoinSession(ConnID(fmt.Sprintf("x%d", i)), id)
			require.ErrorIs(t, err, ErrConflict)
		}
		after, err := m.Session(id)
		require.NoError(t, err)
		assert.Equal(t, before.White, after.White)
		assert.Equal(t, before.Black, after.Black)
	})
}

func TestParseColor(t *testing.T) {
	for in, want := range map[string]Color{"white": White, "W": White, "first": White, "black": Black, " b ": Black, "second": Black} {
		got, err := ParseColor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseColor("green")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, Black, White.Opponent())
	assert.Equal(t, NoColor, NoColor.Opponent())
}
