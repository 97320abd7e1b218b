package lobby

import "emittr/fourinarow/internal/game"

// Outbound notification types.
const (
	EventWaiting            = "waiting_for_opponent"
	EventGameStarted        = "game_started"
	EventMoveMade           = "move_made"
	EventGameEnded          = "game_ended"
	EventPlayerDisconnected = "player_disconnected"
	EventGameRejoined       = "game_rejoined"
	EventError              = "error"
)

// Analytics event types.
const (
	TrackGameStarted        = "game_started"
	TrackMoveMade           = "move_made"
	TrackBotMove            = "bot_move"
	TrackGameEnded          = "game_ended"
	TrackPlayerDisconnected = "player_disconnected"
	TrackPlayerRejoined     = "player_rejoined"
)

// Message is one outbound frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Conn is a player's current transport handle. Send is called while a
// session lock is held and must not block.
type Conn interface {
	Send(msg Message)
}

type GameStarted struct {
	GameID        string     `json:"gameId"`
	Board         game.Board `json:"board"`
	YourPlayer    game.Seat  `json:"yourPlayer"`
	Opponent      string     `json:"opponent"`
	CurrentPlayer game.Seat  `json:"currentPlayer"`
	VsBot         bool       `json:"vsBot"`
}

type MoveMade struct {
	Column        int        `json:"column"`
	Row           int        `json:"row"`
	Player        game.Seat  `json:"player"`
	Board         game.Board `json:"board"`
	CurrentPlayer game.Seat  `json:"currentPlayer"`
}

type GameEnded struct {
	Winner     game.Winner `json:"winner"`
	Board      game.Board  `json:"board"`
	DurationMs int64       `json:"durationMs"`
	Reason     string      `json:"reason"`
}

type PlayerDisconnected struct {
	Username     string `json:"username"`
	GraceSeconds int    `json:"graceSeconds"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// ErrorFrame wraps err for the originating connection.
func ErrorFrame(err error) Message {
	return Message{Type: EventError, Data: ErrorMessage{Message: err.Error()}}
}

// Validator is the input checking capability handed to the registry once
// at construction.
type Validator interface {
	Username(raw string) (string, error)
	Column(raw any) (int, error)
}
