package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) EnsureTables(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS games (
	id TEXT PRIMARY KEY,
	player1 TEXT NOT NULL,
	player2 TEXT NOT NULL,
	winner TEXT,
	winner_seat INTEGER NOT NULL DEFAULT 0,
	is_draw BOOLEAN NOT NULL DEFAULT FALSE,
	reason TEXT NOT NULL,
	moves INTEGER NOT NULL,
	is_bot BOOLEAN NOT NULL DEFAULT FALSE,
	duration_ms BIGINT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS players (
	username TEXT PRIMARY KEY,
	games_played INTEGER NOT NULL DEFAULT 0,
	games_won INTEGER NOT NULL DEFAULT 0,
	last_played TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_games_ended_at ON games(ended_at);
CREATE INDEX IF NOT EXISTS idx_players_games_won ON players(games_won DESC);
`)
	return err
}

func (p *PostgresStore) SaveFinishedGame(ctx context.Context, g GameSummary) error {
	var winner *string
	if g.WinnerName != "" {
		winner = &g.WinnerName
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO games (id, player1, player2, winner, winner_seat, is_draw, reason, moves, is_bot, duration_ms, started_at, ended_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) ON CONFLICT (id) DO NOTHING`,
		g.ID, g.Player1, g.Player2, winner, g.WinnerSeat, g.Draw, g.Reason, g.Moves, g.IsBot,
		g.Duration().Milliseconds(), g.StartedAt, g.EndedAt)
	if err != nil {
		return fmt.Errorf("save game %s: %w", g.ID, err)
	}
	return nil
}

func (p *PostgresStore) RecordOutcome(ctx context.Context, username string, won bool) error {
	wins := 0
	if won {
		wins = 1
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO players (username, games_played, games_won, last_played)
VALUES ($1, 1, $2, NOW())
ON CONFLICT (username) DO UPDATE SET
	games_played = players.games_played + 1,
	games_won = players.games_won + EXCLUDED.games_won,
	last_played = NOW()`, username, wins)
	if err != nil {
		return fmt.Errorf("record outcome for %s: %w", username, err)
	}
	return nil
}

func (p *PostgresStore) FetchLeaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	rows, err := p.pool.Query(ctx, `
SELECT username, games_played, games_won,
	ROUND((games_won::NUMERIC / GREATEST(games_played, 1)) * 100, 1)::FLOAT8 AS win_rate
FROM players
WHERE games_played > 0
ORDER BY games_won DESC, win_rate DESC, games_played DESC, username
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[LeaderboardRow])
}

func (p *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := p.pool.QueryRow(ctx, `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE is_bot),
	COUNT(*) FILTER (WHERE is_draw),
	COUNT(*) FILTER (WHERE reason = 'forfeit'),
	COALESCE(AVG(duration_ms), 0)::FLOAT8 / 1000
FROM games`).Scan(&s.TotalGames, &s.BotGames, &s.Draws, &s.Forfeits, &s.AvgDurationSecond)
	if err != nil {
		return Stats{}, fmt.Errorf("game stats: %w", err)
	}
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM players WHERE games_played > 0`).Scan(&s.TotalPlayers); err != nil {
		return Stats{}, fmt.Errorf("player stats: %w", err)
	}
	return s, nil
}
