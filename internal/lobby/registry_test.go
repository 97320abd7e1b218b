package lobby

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emittr/fourinarow/internal/game"
	"emittr/fourinarow/internal/storage"
	"emittr/fourinarow/internal/validation"
)

type fakeConn struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *fakeConn) Send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *fakeConn) count(typ string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func (c *fakeConn) last(t *testing.T, typ string) Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].Type == typ {
			return c.msgs[i]
		}
	}
	t.Fatalf("no %s message", typ)
	return Message{}
}

func (c *fakeConn) moves() []MoveMade {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []MoveMade
	for _, m := range c.msgs {
		if m.Type == EventMoveMade {
			out = append(out, m.Data.(MoveMade))
		}
	}
	return out
}

type recordingTracker struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingTracker) Track(_ context.Context, event string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingTracker) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

type harness struct {
	r       *Registry
	clock   *quartz.Mock
	store   *storage.MemoryStore
	tracker *recordingTracker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:   quartz.NewMock(t),
		store:   storage.NewMemoryStore(),
		tracker: &recordingTracker{},
	}
	h.r = New(Config{
		Clock:     h.clock,
		Logger:    log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel}),
		Validator: validation.Rules{},
		Store:     h.store,
		Analytics: h.tracker,
	})
	return h
}

func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.clock.Advance(d).MustWait(ctx)
}

// pair seats alice (seat 1) against bob (seat 2).
func (h *harness) pair(t *testing.T) (alice, bob *fakeConn, id string) {
	t.Helper()
	alice, bob = &fakeConn{}, &fakeConn{}
	require.NoError(t, h.r.Join(alice, "alice"))
	assert.Equal(t, 1, alice.count(EventWaiting))
	require.NoError(t, h.r.Join(bob, "bob"))

	started := alice.last(t, EventGameStarted).Data.(GameStarted)
	assert.Equal(t, game.Seat1, started.YourPlayer)
	assert.Equal(t, "bob", started.Opponent)
	assert.False(t, started.VsBot)
	other := bob.last(t, EventGameStarted).Data.(GameStarted)
	assert.Equal(t, game.Seat2, other.YourPlayer)
	assert.Equal(t, started.GameID, other.GameID)
	return alice, bob, started.GameID
}

func TestQueueEscalatesToBot(t *testing.T) {
	h := newHarness(t)
	alice := &fakeConn{}
	require.NoError(t, h.r.Join(alice, "alice"))
	assert.Equal(t, Stats{Queued: 1}, h.r.Stats())

	h.advance(t, 10*time.Second)

	started := alice.last(t, EventGameStarted).Data.(GameStarted)
	assert.True(t, started.VsBot)
	assert.Equal(t, game.Seat1, started.YourPlayer)
	assert.Equal(t, game.BotName, started.Opponent)
	assert.Equal(t, game.Seat1, started.CurrentPlayer)
	assert.Equal(t, Stats{Sessions: 1}, h.r.Stats())
}

func TestPairingCancelsEscalation(t *testing.T) {
	h := newHarness(t)
	h.pair(t)
	h.advance(t, 10*time.Second)
	assert.Equal(t, Stats{Sessions: 1}, h.r.Stats())
}

func TestDuplicateJoinKeepsQueueEntry(t *testing.T) {
	h := newHarness(t)
	alice := &fakeConn{}
	require.NoError(t, h.r.Join(alice, "alice"))
	require.NoError(t, h.r.Join(alice, " alice "))
	assert.Equal(t, 2, alice.count(EventWaiting))
	assert.Equal(t, 1, h.r.Stats().Queued)
}

func TestJoinRejectsBadUsername(t *testing.T) {
	h := newHarness(t)
	err := h.r.Join(&fakeConn{}, "a")
	assert.ErrorIs(t, err, game.ErrInvalidUsername)
	assert.Equal(t, Stats{}, h.r.Stats())
}

func TestConnectionKeepsItsUsername(t *testing.T) {
	h := newHarness(t)
	conn := &fakeConn{}
	require.NoError(t, h.r.Join(conn, "alice"))
	assert.ErrorIs(t, h.r.Join(conn, "mallory"), game.ErrInvalidUsername)
}

func TestHorizontalWinEndsAndPersists(t *testing.T) {
	h := newHarness(t)
	alice, bob, id := h.pair(t)

	for _, col := range []int{0, 1, 2} {
		require.NoError(t, h.r.Move(alice, id, col))
		require.NoError(t, h.r.Move(bob, id, col))
	}
	require.NoError(t, h.r.Move(alice, id, float64(3)))

	for _, c := range []*fakeConn{alice, bob} {
		assert.Equal(t, 7, c.count(EventMoveMade))
		ended := c.last(t, EventGameEnded).Data.(GameEnded)
		assert.Equal(t, game.WinnerSeat1, ended.Winner)
		assert.Equal(t, game.ReasonWin, ended.Reason)
	}
	last := bob.last(t, EventMoveMade).Data.(MoveMade)
	assert.Equal(t, MoveMade{Column: 3, Row: 5, Player: game.Seat1, Board: last.Board, CurrentPlayer: game.Seat1}, last)

	assert.ErrorIs(t, h.r.Move(bob, id, 4), game.ErrNotActive)

	h.r.Drain()
	rows, err := h.r.Leaderboard(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, storage.LeaderboardRow{Username: "alice", GamesPlayed: 1, GamesWon: 1, WinRate: 100}, rows[0])
	assert.Equal(t, storage.LeaderboardRow{Username: "bob", GamesPlayed: 1, GamesWon: 0, WinRate: 0}, rows[1])

	games := h.store.Games()
	require.Len(t, games, 1)
	assert.Equal(t, "alice", games[0].WinnerName)
	assert.Equal(t, 7, games[0].Moves)

	assert.Equal(t, 1, h.tracker.count(TrackGameStarted))
	assert.Equal(t, 7, h.tracker.count(TrackMoveMade))
	assert.Equal(t, 1, h.tracker.count(TrackGameEnded))
}

func TestFinishedSessionIsEvicted(t *testing.T) {
	h := newHarness(t)
	alice, bob, id := h.pair(t)
	for _, col := range []int{0, 1, 2} {
		require.NoError(t, h.r.Move(alice, id, col))
		require.NoError(t, h.r.Move(bob, id, col))
	}
	require.NoError(t, h.r.Move(alice, id, 3))

	h.advance(t, 29*time.Second)
	assert.Equal(t, 1, h.r.Stats().Sessions)
	h.advance(t, time.Second)
	assert.Equal(t, 0, h.r.Stats().Sessions)
	assert.ErrorIs(t, h.r.Move(alice, id, 4), game.ErrSessionNotFound)

	// Players are free to queue again.
	require.NoError(t, h.r.Join(alice, "alice"))
	assert.Equal(t, 2, alice.count(EventWaiting))
}

func TestMoveErrors(t *testing.T) {
	h := newHarness(t)
	alice, bob, id := h.pair(t)

	assert.ErrorIs(t, h.r.Move(&fakeConn{}, id, 0), game.ErrUnknownPlayer)
	assert.ErrorIs(t, h.r.Move(alice, "nope", 0), game.ErrSessionNotFound)
	assert.ErrorIs(t, h.r.Move(bob, id, 0), game.ErrWrongTurn)
	assert.ErrorIs(t, h.r.Move(alice, id, "left"), game.ErrInvalidColumn)
	assert.ErrorIs(t, h.r.Move(alice, id, 7), game.ErrInvalidColumn)
	assert.Equal(t, 0, alice.count(EventMoveMade))

	// The current session is used when no id is given.
	require.NoError(t, h.r.Move(alice, "", 3))
	assert.Equal(t, 1, bob.count(EventMoveMade))
}

func TestMoveIntoForeignSession(t *testing.T) {
	h := newHarness(t)
	alice, bob, id := h.pair(t)

	carol := &fakeConn{}
	require.NoError(t, h.r.Join(carol, "carol"))
	assert.ErrorIs(t, h.r.Move(carol, id, 0), game.ErrSessionNotFound)

	require.NoError(t, h.r.Move(alice, id, 0))
	err := h.r.Move(carol, id, 1)
	assert.ErrorIs(t, err, game.ErrSessionNotFound)
	kind, _ := game.KindOf(err)
	assert.Equal(t, game.KindNotFound, kind)

	assert.Equal(t, 1, bob.count(EventMoveMade))
	assert.Equal(t, 0, carol.count(EventMoveMade))
	require.NoError(t, h.r.Move(bob, id, 1))
}

func TestColumnFullRejected(t *testing.T) {
	h := newHarness(t)
	alice, bob, id := h.pair(t)
	conns := []*fakeConn{alice, bob}
	for i := 0; i < game.Rows; i++ {
		require.NoError(t, h.r.Move(conns[i%2], id, 0))
	}
	err := h.r.Move(alice, id, 0)
	assert.ErrorIs(t, err, game.ErrColumnFull)
	kind, _ := game.KindOf(err)
	assert.Equal(t, game.KindState, kind)
}

func TestDisconnectForfeitsAfterGrace(t *testing.T) {
	h := newHarness(t)
	alice, bob, _ := h.pair(t)

	h.r.Disconnect(bob)
	notice := alice.last(t, EventPlayerDisconnected).Data.(PlayerDisconnected)
	assert.Equal(t, PlayerDisconnected{Username: "bob", GraceSeconds: 30}, notice)
	assert.Equal(t, 1, h.r.Stats().Disconnected)

	h.advance(t, 30*time.Second)
	h.r.Sweep()
	assert.Equal(t, 0, alice.count(EventGameEnded))

	h.advance(t, time.Second)
	h.r.Sweep()
	ended := alice.last(t, EventGameEnded).Data.(GameEnded)
	assert.Equal(t, game.WinnerSeat1, ended.Winner)
	assert.Equal(t, game.ReasonForfeit, ended.Reason)
	assert.Equal(t, 0, bob.count(EventGameEnded))
	assert.Equal(t, 0, h.r.Stats().Disconnected)

	h.r.Drain()
	rows, err := h.r.Leaderboard(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0].Username)
	assert.Equal(t, 1, h.tracker.count(TrackPlayerDisconnected))
}

func TestSweepForfeitsFirstDisconnecter(t *testing.T) {
	h := newHarness(t)
	alice, bob, id := h.pair(t)

	h.r.Disconnect(alice)
	h.advance(t, time.Second)
	h.r.Disconnect(bob)
	assert.Equal(t, 2, h.r.Stats().Disconnected)

	h.advance(t, 40*time.Second)
	h.r.Sweep()
	assert.Equal(t, 0, h.r.Stats().Disconnected)
	assert.Equal(t, 0, alice.count(EventGameEnded))
	assert.Equal(t, 0, bob.count(EventGameEnded))

	h.r.Drain()
	games := h.store.Games()
	require.Len(t, games, 1)
	assert.Equal(t, id, games[0].ID)
	assert.Equal(t, int(game.Seat2), games[0].WinnerSeat)
	assert.Equal(t, "bob", games[0].WinnerName)
	assert.Equal(t, "forfeit", games[0].Reason)
}

func TestRejoinWithinGraceKeepsGame(t *testing.T) {
	h := newHarness(t)
	alice, bob, id := h.pair(t)

	h.r.Disconnect(bob)
	h.advance(t, 20*time.Second)

	bob2 := &fakeConn{}
	require.NoError(t, h.r.Rejoin(bob2, "bob", ""))
	rejoined := bob2.last(t, EventGameRejoined).Data.(GameStarted)
	assert.Equal(t, id, rejoined.GameID)
	assert.Equal(t, game.Seat2, rejoined.YourPlayer)
	assert.Equal(t, "alice", rejoined.Opponent)
	assert.Equal(t, 0, h.r.Stats().Disconnected)

	h.advance(t, 20*time.Second)
	h.r.Sweep()
	assert.Equal(t, 0, alice.count(EventGameEnded))

	require.NoError(t, h.r.Move(alice, id, 3))
	require.NoError(t, h.r.Move(bob2, id, 3))
	assert.Equal(t, 2, bob2.count(EventMoveMade))

	h.r.Drain()
	assert.Equal(t, 1, h.tracker.count(TrackPlayerRejoined))
}

func TestRejoinErrors(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.r.Rejoin(&fakeConn{}, "ghost", ""), game.ErrNoReconnectableGame)

	_, _, id := h.pair(t)
	assert.ErrorIs(t, h.r.Rejoin(&fakeConn{}, "carol", id), game.ErrNoReconnectableGame)
	assert.ErrorIs(t, h.r.Rejoin(&fakeConn{}, "bob", "nope"), game.ErrNoReconnectableGame)
}

func TestStaleHandleDisconnectIgnored(t *testing.T) {
	h := newHarness(t)
	alice, bob, id := h.pair(t)

	bob2 := &fakeConn{}
	require.NoError(t, h.r.Join(bob2, "bob"))
	assert.Equal(t, id, bob2.last(t, EventGameRejoined).Data.(GameStarted).GameID)

	h.r.Disconnect(bob)
	assert.Equal(t, 0, alice.count(EventPlayerDisconnected))
	assert.Equal(t, 0, h.r.Stats().Disconnected)

	require.NoError(t, h.r.Move(alice, id, 0))
	assert.Equal(t, 1, bob2.count(EventMoveMade))
	assert.Equal(t, 0, bob.count(EventMoveMade))
}

func TestDisconnectWhileQueued(t *testing.T) {
	h := newHarness(t)
	alice := &fakeConn{}
	require.NoError(t, h.r.Join(alice, "alice"))
	h.r.Disconnect(alice)
	assert.Equal(t, Stats{}, h.r.Stats())

	h.advance(t, 10*time.Second)
	assert.Equal(t, 0, h.r.Stats().Sessions)
	assert.Equal(t, 0, alice.count(EventGameStarted))
}

func TestBotAnswersAfterDelay(t *testing.T) {
	h := newHarness(t)
	alice := &fakeConn{}
	require.NoError(t, h.r.Join(alice, "alice"))
	h.advance(t, 10*time.Second)
	id := alice.last(t, EventGameStarted).Data.(GameStarted).GameID

	require.NoError(t, h.r.Move(alice, id, 3))
	assert.Equal(t, 1, alice.count(EventMoveMade))
	assert.ErrorIs(t, h.r.Move(alice, id, 3), game.ErrWrongTurn)

	h.advance(t, time.Second)
	require.Equal(t, 2, alice.count(EventMoveMade))
	reply := alice.last(t, EventMoveMade).Data.(MoveMade)
	assert.Equal(t, game.Seat2, reply.Player)
	assert.Equal(t, game.Seat1, reply.CurrentPlayer)

	h.r.Drain()
	assert.Equal(t, 1, h.tracker.count(TrackBotMove))
}

func TestPairedWhileDisconnectedStartsInGrace(t *testing.T) {
	h := newHarness(t)
	alice := &fakeConn{}
	require.NoError(t, h.r.Join(alice, "alice"))

	// Simulate alice's handle vanishing after she was queued but before the
	// pairing completed.
	h.r.mu.Lock()
	delete(h.r.handles, alice)
	delete(h.r.presence, "alice")
	h.r.mu.Unlock()

	bob := &fakeConn{}
	require.NoError(t, h.r.Join(bob, "bob"))
	assert.Equal(t, "alice", bob.last(t, EventPlayerDisconnected).Data.(PlayerDisconnected).Username)
	assert.Equal(t, 1, h.r.Stats().Disconnected)

	h.advance(t, 31*time.Second)
	h.r.Sweep()
	ended := bob.last(t, EventGameEnded).Data.(GameEnded)
	assert.Equal(t, game.WinnerSeat2, ended.Winner)
}

func TestParallelSessionsAlternateSeats(t *testing.T) {
	r := New(Config{
		GracePeriod:   time.Minute,
		SweepInterval: 5 * time.Millisecond,
		Logger:        log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel}),
		Validator:     validation.Rules{},
		Store:         storage.NewMemoryStore(),
		Analytics:     &recordingTracker{},
	})

	const players = 16
	conns := make([]*fakeConn, players)
	var wg sync.WaitGroup
	for i := range conns {
		conns[i] = &fakeConn{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Join(conns[i], fmt.Sprintf("player%02d", i)))
		}()
	}
	wg.Wait()
	require.Equal(t, Stats{Sessions: players / 2}, r.Stats())

	type seats struct {
		first, second *fakeConn
		secondName    string
	}
	sessions := make(map[string]*seats)
	for i, c := range conns {
		started := c.last(t, EventGameStarted).Data.(GameStarted)
		s := sessions[started.GameID]
		if s == nil {
			s = &seats{}
			sessions[started.GameID] = s
		}
		if started.YourPlayer == game.Seat1 {
			s.first = c
		} else {
			s.second, s.secondName = c, fmt.Sprintf("player%02d", i)
		}
	}
	require.Len(t, sessions, players/2)

	ctx, cancel := context.WithCancel(context.Background())
	swept := make(chan error, 1)
	go func() { swept <- r.Run(ctx) }()

	// The second seat drops and rejoins mid-game.
	play := func(id, name string, conn *fakeConn, reconnect bool) {
		defer wg.Done()
		col := 0
		for attempt := 0; attempt < 2000; attempt++ {
			if conn.count(EventGameEnded) > 0 {
				return
			}
			if reconnect && attempt == 3 {
				r.Disconnect(conn)
				conn = &fakeConn{}
				if err := r.Rejoin(conn, name, id); err != nil {
					return
				}
			}
			err := r.Move(conn, id, col)
			switch {
			case err == nil, errors.Is(err, game.ErrColumnFull):
				col = (col + 1) % game.Columns
			case errors.Is(err, game.ErrNotActive):
				return
			default:
				runtime.Gosched()
			}
		}
	}
	for id, s := range sessions {
		wg.Add(2)
		go play(id, "", s.first, false)
		go play(id, s.secondName, s.second, true)
	}
	wg.Wait()
	cancel()
	require.NoError(t, <-swept)
	r.Drain()

	assert.Equal(t, 0, r.Stats().Disconnected)
	for id, s := range sessions {
		moves := s.first.moves()
		require.NotEmpty(t, moves, id)
		for i, m := range moves {
			want := game.Seat1
			if i%2 == 1 {
				want = game.Seat2
			}
			assert.Equal(t, want, m.Player, "session %s move %d", id, i)
			assert.Equal(t, i+1, m.Board.Count(), "session %s move %d", id, i)
		}
	}
}
