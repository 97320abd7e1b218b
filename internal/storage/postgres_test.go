package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	ctx := context.Background()
	pg, err := NewPostgresStore(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pg.Close)
	require.NoError(t, pg.EnsureTables(ctx))
	return pg
}

func TestPostgresRoundTrip(t *testing.T) {
	pg := newPostgres(t)
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	winner, loser := "w_"+suffix, "l_"+suffix

	now := time.Now().UTC()
	g := GameSummary{
		ID: uuid.NewString(), Player1: winner, Player2: loser,
		WinnerSeat: 1, WinnerName: winner, Reason: "win", Moves: 7,
		StartedAt: now.Add(-time.Minute), EndedAt: now,
	}
	require.NoError(t, pg.SaveFinishedGame(ctx, g))
	require.NoError(t, pg.SaveFinishedGame(ctx, g))
	require.NoError(t, pg.RecordOutcome(ctx, winner, true))
	require.NoError(t, pg.RecordOutcome(ctx, loser, false))
	require.NoError(t, pg.RecordOutcome(ctx, winner, true))

	rows, err := pg.FetchLeaderboard(ctx, 1000)
	require.NoError(t, err)
	byName := map[string]LeaderboardRow{}
	for _, r := range rows {
		byName[r.Username] = r
	}
	assert.Equal(t, LeaderboardRow{Username: winner, GamesPlayed: 2, GamesWon: 2, WinRate: 100}, byName[winner])
	assert.Equal(t, LeaderboardRow{Username: loser, GamesPlayed: 1, GamesWon: 0, WinRate: 0}, byName[loser])

	st, err := pg.Stats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st.TotalGames, 1)
}
