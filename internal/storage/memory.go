package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps results in process. It backs the server when no
// database is configured or the database is unreachable.
type MemoryStore struct {
	mu      sync.Mutex
	games   []GameSummary
	players map[string]*LeaderboardRow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{players: make(map[string]*LeaderboardRow)}
}

func (m *MemoryStore) SaveFinishedGame(_ context.Context, g GameSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.games {
		if existing.ID == g.ID {
			return nil
		}
	}
	m.games = append(m.games, g)
	return nil
}

func (m *MemoryStore) RecordOutcome(_ context.Context, username string, won bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.players[username]
	if !ok {
		row = &LeaderboardRow{Username: username}
		m.players[username] = row
	}
	row.GamesPlayed++
	if won {
		row.GamesWon++
	}
	row.WinRate = winRate(row.GamesPlayed, row.GamesWon)
	return nil
}

func (m *MemoryStore) FetchLeaderboard(_ context.Context, limit int) ([]LeaderboardRow, error) {
	m.mu.Lock()
	rows := make([]LeaderboardRow, 0, len(m.players))
	for _, row := range m.players {
		rows = append(rows, *row)
	}
	m.mu.Unlock()

	slices.SortFunc(rows, func(a, b LeaderboardRow) int {
		switch {
		case a.GamesWon != b.GamesWon:
			return b.GamesWon - a.GamesWon
		case a.WinRate != b.WinRate:
			if a.WinRate > b.WinRate {
				return -1
			}
			return 1
		case a.GamesPlayed != b.GamesPlayed:
			return b.GamesPlayed - a.GamesPlayed
		}
		return strings.Compare(a.Username, b.Username)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *MemoryStore) Games() []GameSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.games)
}

func (m *MemoryStore) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{TotalGames: len(m.games), TotalPlayers: len(m.players)}
	var total float64
	for _, g := range m.games {
		if g.IsBot {
			s.BotGames++
		}
		if g.Draw {
			s.Draws++
		}
		if g.Reason == "forfeit" {
			s.Forfeits++
		}
		total += g.Duration().Seconds()
	}
	if len(m.games) > 0 {
		s.AvgDurationSecond = total / float64(len(m.games))
	}
	return s, nil
}
