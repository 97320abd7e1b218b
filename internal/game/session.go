package game

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Winner mirrors Seat for the two seats and adds a draw marker.
type Winner int

const (
	WinnerNone Winner = iota
	WinnerSeat1
	WinnerSeat2
	WinnerDraw
)

// WinnerOf converts a seat into the matching winner value.
func WinnerOf(seat Seat) Winner {
	switch seat {
	case Seat1:
		return WinnerSeat1
	case Seat2:
		return WinnerSeat2
	}
	return WinnerNone
}

// Seat returns the winning seat, or Empty for none and draw.
func (w Winner) Seat() Seat {
	switch w {
	case WinnerSeat1:
		return Seat1
	case WinnerSeat2:
		return Seat2
	}
	return Empty
}

func (w Winner) String() string {
	switch w {
	case WinnerSeat1:
		return "1"
	case WinnerSeat2:
		return "2"
	case WinnerDraw:
		return "draw"
	}
	return "none"
}

// MarshalJSON encodes seats as numbers, a draw as "draw" and no winner as null.
func (w Winner) MarshalJSON() ([]byte, error) {
	switch w {
	case WinnerSeat1, WinnerSeat2:
		return json.Marshal(int(w))
	case WinnerDraw:
		return []byte(`"draw"`), nil
	}
	return []byte("null"), nil
}

const (
	ReasonWin     = "win"
	ReasonDraw    = "draw"
	ReasonForfeit = "forfeit"
)

// BotName is the synthetic second player. It contains a space so the
// username validator never lets a human claim it.
const BotName = "AI Bot"

type Player struct {
	Username string
	IsBot    bool
}

func NewBotPlayer() *Player {
	return &Player{Username: BotName, IsBot: true}
}

type Move struct {
	Seat   Seat      `json:"player"`
	Row    int       `json:"row"`
	Column int       `json:"column"`
	Index  int       `json:"index"`
	At     time.Time `json:"timestamp"`
}

type MoveResult struct {
	Row      int
	Column   int
	Seat     Seat
	GameOver bool
	Winner   Winner
}

// Session is the per-game state machine. It does no locking of its own:
// the registry serialises every call on a given session.
type Session struct {
	ID         string
	Players    [2]*Player
	Board      Board
	Turn       Seat
	Status     Status
	Winner     Winner
	Reason     string
	Moves      []Move
	CreatedAt  time.Time
	LastMoveAt time.Time
	EndedAt    time.Time
	IsBot      bool
}

// NewSession opens a session in the waiting state with first in seat 1.
func NewSession(id string, first *Player, now time.Time) *Session {
	return &Session{
		ID:         id,
		Players:    [2]*Player{first, nil},
		Turn:       Seat1,
		Status:     StatusWaiting,
		CreatedAt:  now,
		LastMoveAt: now,
	}
}

// AddSecondPlayer fills seat 2 and starts play. It returns false when the
// session is not waiting or seat 2 is already taken.
func (s *Session) AddSecondPlayer(p *Player) bool {
	if s.Status != StatusWaiting || s.Players[1] != nil {
		return false
	}
	s.Players[1] = p
	s.IsBot = p.IsBot
	s.Status = StatusPlaying
	return true
}

// SeatOf returns the seat held by username, or Empty.
func (s *Session) SeatOf(username string) Seat {
	for i, p := range s.Players {
		if p != nil && p.Username == username {
			return Seat(i + 1)
		}
	}
	return Empty
}

// Occupant returns the player in seat, or nil.
func (s *Session) Occupant(seat Seat) *Player {
	if seat != Seat1 && seat != Seat2 {
		return nil
	}
	return s.Players[seat-1]
}

// ApplyMove validates and plays a move for username. Checks run in a fixed
// order: status, turn, column range, column capacity.
func (s *Session) ApplyMove(col int, username string, now time.Time) (MoveResult, error) {
	if s.Status != StatusPlaying {
		return MoveResult{}, ErrNotActive
	}
	seat := s.SeatOf(username)
	if seat == Empty || seat != s.Turn {
		return MoveResult{}, ErrWrongTurn
	}
	if col < 0 || col >= Columns {
		return MoveResult{}, ErrInvalidColumn
	}
	next, row, err := s.Board.Drop(col, seat)
	if err != nil {
		return MoveResult{}, err
	}
	s.Board = next
	s.Moves = append(s.Moves, Move{Seat: seat, Row: row, Column: col, Index: len(s.Moves), At: now})
	s.LastMoveAt = now

	res := MoveResult{Row: row, Column: col, Seat: seat}
	switch {
	case DetectRun(s.Board, row, col, seat):
		s.finish(WinnerOf(seat), ReasonWin, now)
	case s.Board.IsFull():
		s.finish(WinnerDraw, ReasonDraw, now)
	default:
		s.Turn = seat.Opponent()
	}
	res.GameOver = s.Status == StatusFinished
	res.Winner = s.Winner
	return res, nil
}

// Forfeit ends a playing session in favour of loser's opponent.
func (s *Session) Forfeit(loser Seat, now time.Time) bool {
	if s.Status != StatusPlaying || loser == Empty {
		return false
	}
	s.finish(WinnerOf(loser.Opponent()), ReasonForfeit, now)
	return true
}

func (s *Session) finish(w Winner, reason string, now time.Time) {
	s.Status = StatusFinished
	s.Winner = w
	s.Reason = reason
	s.EndedAt = now
}

// Duration is the wall time from creation to the end, or to the last move
// while the game is still running.
func (s *Session) Duration() time.Duration {
	if s.Status == StatusFinished {
		return s.EndedAt.Sub(s.CreatedAt)
	}
	return s.LastMoveAt.Sub(s.CreatedAt)
}
