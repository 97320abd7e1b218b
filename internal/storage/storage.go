package storage

import (
	"context"
	"time"
)

// GameSummary is what survives a finished session.
type GameSummary struct {
	ID         string
	Player1    string
	Player2    string
	WinnerSeat int
	WinnerName string
	Draw       bool
	Reason     string
	Moves      int
	IsBot      bool
	StartedAt  time.Time
	EndedAt    time.Time
}

func (g GameSummary) Duration() time.Duration {
	return g.EndedAt.Sub(g.StartedAt)
}

type LeaderboardRow struct {
	Username    string  `json:"username" db:"username"`
	GamesPlayed int     `json:"gamesPlayed" db:"games_played"`
	GamesWon    int     `json:"gamesWon" db:"games_won"`
	WinRate     float64 `json:"winRate" db:"win_rate"`
}

// Store persists finished games and per-player aggregates. Callers treat
// every method as best effort.
type Store interface {
	SaveFinishedGame(ctx context.Context, game GameSummary) error
	RecordOutcome(ctx context.Context, username string, won bool) error
	FetchLeaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error)
}

type Stats struct {
	TotalGames        int     `json:"totalGames"`
	TotalPlayers      int     `json:"totalPlayers"`
	BotGames          int     `json:"botGames"`
	Draws             int     `json:"draws"`
	Forfeits          int     `json:"forfeits"`
	AvgDurationSecond float64 `json:"avgDurationSeconds"`
}

// StatsProvider is implemented by stores that can aggregate their history.
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}

func winRate(played, won int) float64 {
	if played == 0 {
		return 0
	}
	return float64(int(float64(won)/float64(played)*1000+0.5)) / 10
}
