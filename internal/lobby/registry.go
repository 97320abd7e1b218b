package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"emittr/fourinarow/internal/analytics"
	"emittr/fourinarow/internal/game"
	"emittr/fourinarow/internal/storage"
)

const (
	DefaultEscalateAfter     = 10 * time.Second
	DefaultGracePeriod       = 30 * time.Second
	DefaultSweepInterval     = 30 * time.Second
	DefaultEvictAfter        = 30 * time.Second
	DefaultBotMoveDelay      = time.Second
	DefaultSideEffectTimeout = 5 * time.Second
)

type Config struct {
	EscalateAfter     time.Duration
	GracePeriod       time.Duration
	SweepInterval     time.Duration
	EvictAfter        time.Duration
	BotMoveDelay      time.Duration
	SideEffectTimeout time.Duration

	Clock     quartz.Clock
	Logger    *log.Logger
	Validator Validator
	Store     storage.Store
	Analytics analytics.Tracker
	NewID     func() string
}

func (c *Config) setDefaults() {
	if c.EscalateAfter <= 0 {
		c.EscalateAfter = DefaultEscalateAfter
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.EvictAfter <= 0 {
		c.EvictAfter = DefaultEvictAfter
	}
	if c.BotMoveDelay <= 0 {
		c.BotMoveDelay = DefaultBotMoveDelay
	}
	if c.SideEffectTimeout <= 0 {
		c.SideEffectTimeout = DefaultSideEffectTimeout
	}
	if c.Clock == nil {
		c.Clock = quartz.NewReal()
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Store == nil {
		c.Store = storage.NewMemoryStore()
	}
	if c.Analytics == nil {
		c.Analytics = analytics.Discard{}
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
}

// entry guards one session. Every mutation of the session, and every
// notification about it, happens under mu.
type entry struct {
	mu      sync.Mutex
	session *game.Session
	bot     *game.Bot
}

// binding is a player's current handle and session. A nil conn means the
// player is disconnected but still seated.
type binding struct {
	conn      Conn
	sessionID string
}

// Registry routes inbound events to sessions and owns the queue, the
// reconnection tracker and every timer.
//
// Lock order: entry.mu before Registry.mu. Queue and tracker locks are
// leaves.
type Registry struct {
	cfg     Config
	clock   quartz.Clock
	logger  *log.Logger
	queue   *Queue
	tracker *ReconnectTracker
	effects *effects

	mu       sync.RWMutex
	sessions map[string]*entry
	presence map[string]*binding
	handles  map[Conn]string
}

func New(cfg Config) *Registry {
	cfg.setDefaults()
	logger := cfg.Logger.WithPrefix("registry")
	return &Registry{
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   logger,
		queue:    NewQueue(cfg.Clock, cfg.EscalateAfter),
		tracker:  NewReconnectTracker(),
		effects:  &effects{timeout: cfg.SideEffectTimeout, logger: logger},
		sessions: make(map[string]*entry),
		presence: make(map[string]*binding),
		handles:  make(map[Conn]string),
	}
}

// Join binds conn to username and either resumes the player's running
// game or puts them in the queue.
func (r *Registry) Join(conn Conn, raw string) error {
	username, err := r.validUsername(raw)
	if err != nil {
		return err
	}
	if sid := r.sessionOf(username); sid != "" {
		if err := r.rejoin(conn, username, sid); err == nil {
			return nil
		}
	}
	if err := r.bind(conn, username, ""); err != nil {
		return err
	}

	player := &game.Player{Username: username}
	opponent, paired := r.queue.Join(player, r.escalate)
	if !paired {
		r.logger.Debug("queued", "user", username)
		conn.Send(Message{Type: EventWaiting})
		return nil
	}
	r.startSession(opponent, player)
	return nil
}

// Move plays column for the player bound to conn. An empty sessionID means
// the player's current session.
func (r *Registry) Move(conn Conn, sessionID string, column any) error {
	col, err := r.validColumn(column)
	if err != nil {
		return err
	}
	username, ok := r.userOf(conn)
	if !ok {
		return game.ErrUnknownPlayer
	}
	if sessionID == "" {
		sessionID = r.sessionOf(username)
	}
	e := r.lookup(sessionID)
	if e == nil {
		return game.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Sessions the caller is not seated in are invisible to them.
	if e.session.SeatOf(username) == game.Empty {
		return game.ErrSessionNotFound
	}
	res, err := e.session.ApplyMove(col, username, r.clock.Now())
	if err != nil {
		return err
	}
	r.afterMoveLocked(e, res)
	return nil
}

// Rejoin rebinds username to its playing session, either the one named by
// sessionID or the one its disconnect record points at.
func (r *Registry) Rejoin(conn Conn, raw, sessionID string) error {
	username, err := r.validUsername(raw)
	if err != nil {
		return err
	}
	if sessionID == "" {
		if rec, ok := r.tracker.Lookup(username); ok {
			sessionID = rec.SessionID
		} else {
			sessionID = r.sessionOf(username)
		}
	}
	if sessionID == "" {
		return game.ErrNoReconnectableGame
	}
	return r.rejoin(conn, username, sessionID)
}

func (r *Registry) rejoin(conn Conn, username, sessionID string) error {
	e := r.lookup(sessionID)
	if e == nil {
		return game.ErrNoReconnectableGame
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	seat := s.SeatOf(username)
	if s.Status != game.StatusPlaying || seat == game.Empty {
		return game.ErrNoReconnectableGame
	}
	if err := r.bind(conn, username, s.ID); err != nil {
		return err
	}
	r.tracker.Clear(username)

	conn.Send(Message{Type: EventGameRejoined, Data: r.snapshot(s, seat)})
	r.logger.Info("player rejoined", "session", s.ID, "user", username)
	r.track(analytics.Event{Event: TrackPlayerRejoined, Payload: map[string]any{
		"gameId":   s.ID,
		"username": username,
	}})
	return nil
}

// Disconnect releases conn. Handles already replaced by a newer connection
// are ignored.
func (r *Registry) Disconnect(conn Conn) {
	r.mu.Lock()
	username, ok := r.handles[conn]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.handles, conn)
	b := r.presence[username]
	if b == nil || b.conn != conn {
		r.mu.Unlock()
		return
	}
	b.conn = nil
	sessionID := b.sessionID
	if sessionID == "" {
		delete(r.presence, username)
	}
	r.mu.Unlock()

	if sessionID == "" {
		if r.queue.Remove(username) {
			r.logger.Debug("left queue", "user", username)
		}
		return
	}
	r.markDisconnected(username, sessionID)
}

func (r *Registry) markDisconnected(username, sessionID string) {
	e := r.lookup(sessionID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	seat := s.SeatOf(username)
	if s.Status != game.StatusPlaying || seat == game.Empty {
		return
	}
	if r.connOf(username) != nil {
		return
	}
	r.disconnectedLocked(s, seat)
}

// disconnectedLocked starts the grace period for the player in seat.
func (r *Registry) disconnectedLocked(s *game.Session, seat game.Seat) {
	username := s.Occupant(seat).Username
	r.tracker.Record(username, s.ID, r.clock.Now())
	r.send(s.Occupant(seat.Opponent()), Message{Type: EventPlayerDisconnected, Data: PlayerDisconnected{
		Username:     username,
		GraceSeconds: int(r.cfg.GracePeriod / time.Second),
	}})
	r.logger.Info("player disconnected", "session", s.ID, "user", username)
	r.track(analytics.Event{Event: TrackPlayerDisconnected, Payload: map[string]any{
		"gameId":   s.ID,
		"username": username,
	}})
}

// Sweep forfeits every session whose disconnected player has been gone
// longer than the grace period.
func (r *Registry) Sweep() {
	for _, rec := range r.tracker.Expired(r.clock.Now(), r.cfg.GracePeriod) {
		r.forfeit(rec)
	}
}

func (r *Registry) forfeit(rec DisconnectRecord) {
	e := r.lookup(rec.SessionID)
	if e == nil {
		r.tracker.Take(rec)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !r.tracker.Take(rec) {
		return
	}
	s := e.session
	if !s.Forfeit(s.SeatOf(rec.Username), r.clock.Now()) {
		return
	}
	r.logger.Info("forfeit", "session", s.ID, "user", rec.Username)
	r.finishLocked(e)
}

// Run sweeps on every interval until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	w := r.clock.TickerFunc(ctx, r.cfg.SweepInterval, func() error {
		r.Sweep()
		return nil
	}, "sweep")
	err := w.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (r *Registry) Leaderboard(ctx context.Context, limit int) ([]storage.LeaderboardRow, error) {
	return r.cfg.Store.FetchLeaderboard(ctx, limit)
}

// Stats reports the sizes of the live tables.
type Stats struct {
	Sessions     int `json:"sessions"`
	Queued       int `json:"queued"`
	Disconnected int `json:"disconnected"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	n := len(r.sessions)
	r.mu.RUnlock()
	return Stats{Sessions: n, Queued: r.queue.Len(), Disconnected: r.tracker.Len()}
}

// Drain blocks until detached persistence and analytics calls finish.
func (r *Registry) Drain() {
	r.effects.Wait()
}

func (r *Registry) escalate(p *game.Player) {
	r.logger.Info("no opponent found, starting bot game", "user", p.Username)
	r.startSession(p, game.NewBotPlayer())
}

// startSession seats first and second and starts play. Either player may
// have lost their connection while the pairing was in flight; such a
// player starts the game inside the grace period.
func (r *Registry) startSession(first, second *game.Player) {
	now := r.clock.Now()
	s := game.NewSession(r.cfg.NewID(), first, now)
	s.AddSecondPlayer(second)
	e := &entry{session: s}
	if second.IsBot {
		e.bot = game.NewBot(game.Seat2)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var absent []game.Seat
	r.mu.Lock()
	r.sessions[s.ID] = e
	for i, p := range s.Players {
		if p.IsBot {
			continue
		}
		b := r.presence[p.Username]
		if b == nil {
			b = &binding{}
			r.presence[p.Username] = b
		}
		b.sessionID = s.ID
		if b.conn == nil {
			absent = append(absent, game.Seat(i+1))
		}
	}
	r.mu.Unlock()

	for i := range s.Players {
		seat := game.Seat(i + 1)
		r.send(s.Players[i], Message{Type: EventGameStarted, Data: r.snapshot(s, seat)})
	}
	r.logger.Info("session started", "session", s.ID, "p1", first.Username, "p2", second.Username, "bot", s.IsBot)
	r.track(analytics.Event{Event: TrackGameStarted, Payload: map[string]any{
		"gameId":  s.ID,
		"players": []string{first.Username, second.Username},
		"isBot":   s.IsBot,
	}})
	for _, seat := range absent {
		r.disconnectedLocked(s, seat)
	}
}

func (r *Registry) afterMoveLocked(e *entry, res game.MoveResult) {
	s := e.session
	r.broadcast(s, Message{Type: EventMoveMade, Data: MoveMade{
		Column:        res.Column,
		Row:           res.Row,
		Player:        res.Seat,
		Board:         s.Board,
		CurrentPlayer: s.Turn,
	}})
	event := TrackMoveMade
	if mover := s.Occupant(res.Seat); mover != nil && mover.IsBot {
		event = TrackBotMove
	}
	r.track(analytics.Event{Event: event, Payload: map[string]any{
		"gameId":    s.ID,
		"player":    int(res.Seat),
		"username":  s.Occupant(res.Seat).Username,
		"column":    res.Column,
		"row":       res.Row,
		"moveIndex": len(s.Moves) - 1,
	}})

	if res.GameOver {
		r.finishLocked(e)
		return
	}
	if e.bot != nil && s.Turn == e.bot.Seat {
		moves := len(s.Moves)
		r.clock.AfterFunc(r.cfg.BotMoveDelay, func() {
			r.playBotTurn(e, moves)
		}, "bot", "move")
	}
}

// playBotTurn searches on a copy of the board without holding the lock,
// then plays only if nothing changed in the meantime.
func (r *Registry) playBotTurn(e *entry, moves int) {
	e.mu.Lock()
	s := e.session
	if !r.botMayMove(e, moves) {
		e.mu.Unlock()
		return
	}
	board := s.Board
	e.mu.Unlock()

	col := e.bot.ChooseMove(board)

	e.mu.Lock()
	defer e.mu.Unlock()
	if col < 0 || !r.botMayMove(e, moves) {
		return
	}
	res, err := s.ApplyMove(col, game.BotName, r.clock.Now())
	if err != nil {
		r.logger.Error("bot move rejected", "session", s.ID, "column", col, "err", err)
		return
	}
	r.afterMoveLocked(e, res)
}

func (r *Registry) botMayMove(e *entry, moves int) bool {
	s := e.session
	return s.Status == game.StatusPlaying && s.Turn == e.bot.Seat && len(s.Moves) == moves
}

// finishLocked is the shared end of a session: notify, persist, and
// schedule eviction.
func (r *Registry) finishLocked(e *entry) {
	s := e.session
	r.broadcast(s, Message{Type: EventGameEnded, Data: GameEnded{
		Winner:     s.Winner,
		Board:      s.Board,
		DurationMs: s.Duration().Milliseconds(),
		Reason:     s.Reason,
	}})
	r.tracker.ClearSession(s.ID)

	summary := storage.GameSummary{
		ID:         s.ID,
		Player1:    s.Players[0].Username,
		Player2:    s.Players[1].Username,
		WinnerSeat: int(s.Winner.Seat()),
		Draw:       s.Winner == game.WinnerDraw,
		Reason:     s.Reason,
		Moves:      len(s.Moves),
		IsBot:      s.IsBot,
		StartedAt:  s.CreatedAt,
		EndedAt:    s.EndedAt,
	}
	winnerLabel := ""
	switch {
	case summary.Draw:
		winnerLabel = "draw"
	case s.Winner.Seat() != game.Empty:
		summary.WinnerName = s.Occupant(s.Winner.Seat()).Username
		winnerLabel = summary.WinnerName
	}

	store := r.cfg.Store
	r.effects.Go("save game", func(ctx context.Context) error {
		return store.SaveFinishedGame(ctx, summary)
	})
	if !summary.Draw {
		for _, p := range s.Players {
			if p.IsBot {
				continue
			}
			username, won := p.Username, p.Username == summary.WinnerName
			r.effects.Go("record outcome", func(ctx context.Context) error {
				return store.RecordOutcome(ctx, username, won)
			})
		}
	}
	r.track(analytics.Event{Event: TrackGameEnded, Payload: map[string]any{
		"gameId":     s.ID,
		"players":    []string{summary.Player1, summary.Player2},
		"winner":     winnerLabel,
		"reason":     s.Reason,
		"durationMs": s.Duration().Milliseconds(),
		"moves":      len(s.Moves),
		"isBot":      s.IsBot,
	}})
	r.logger.Info("session finished", "session", s.ID, "winner", s.Winner, "reason", s.Reason)

	id := s.ID
	r.clock.AfterFunc(r.cfg.EvictAfter, func() {
		r.evict(id, e)
	}, "evict")
}

func (r *Registry) evict(id string, e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status != game.StatusFinished {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[id] == e {
		delete(r.sessions, id)
	}
	for name, b := range r.presence {
		if b.sessionID != id {
			continue
		}
		if b.conn == nil {
			delete(r.presence, name)
		} else {
			b.sessionID = ""
		}
	}
	r.logger.Debug("session evicted", "session", id)
}

// bind makes conn the current handle for username. A connection is tied
// to one username for its lifetime.
func (r *Registry) bind(conn Conn, username, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.handles[conn]; ok && prev != username {
		return fmt.Errorf("%w: connection already joined as %q", game.ErrInvalidUsername, prev)
	}
	b := r.presence[username]
	if b == nil {
		b = &binding{}
		r.presence[username] = b
	}
	if b.conn != nil && b.conn != conn {
		delete(r.handles, b.conn)
	}
	b.conn = conn
	b.sessionID = sessionID
	r.handles[conn] = username
	return nil
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

func (r *Registry) userOf(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.handles[conn]
	return name, ok
}

func (r *Registry) sessionOf(username string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b := r.presence[username]; b != nil {
		return b.sessionID
	}
	return ""
}

func (r *Registry) connOf(username string) Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b := r.presence[username]; b != nil {
		return b.conn
	}
	return nil
}

func (r *Registry) send(p *game.Player, msg Message) {
	if p == nil || p.IsBot {
		return
	}
	if conn := r.connOf(p.Username); conn != nil {
		conn.Send(msg)
	}
}

func (r *Registry) broadcast(s *game.Session, msg Message) {
	for _, p := range s.Players {
		r.send(p, msg)
	}
}

func (r *Registry) snapshot(s *game.Session, seat game.Seat) GameStarted {
	opponent := ""
	if p := s.Occupant(seat.Opponent()); p != nil {
		opponent = p.Username
	}
	return GameStarted{
		GameID:        s.ID,
		Board:         s.Board,
		YourPlayer:    seat,
		Opponent:      opponent,
		CurrentPlayer: s.Turn,
		VsBot:         s.IsBot,
	}
}

func (r *Registry) track(e analytics.Event) {
	tracker := r.cfg.Analytics
	r.effects.Go("track "+e.Event, func(ctx context.Context) error {
		return tracker.Track(ctx, e.Event, e.Payload)
	})
}

func (r *Registry) validUsername(raw string) (string, error) {
	if r.cfg.Validator == nil {
		return raw, nil
	}
	return r.cfg.Validator.Username(raw)
}

func (r *Registry) validColumn(raw any) (int, error) {
	if r.cfg.Validator != nil {
		return r.cfg.Validator.Column(raw)
	}
	if col, ok := raw.(int); ok {
		return col, nil
	}
	return 0, game.ErrInvalidColumn
}
