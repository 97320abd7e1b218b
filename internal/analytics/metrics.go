package analytics

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"emittr/fourinarow/internal/game"
)

// ErrMalformed marks a stream entry that could not be decoded. Consume
// skips such entries.
var ErrMalformed = errors.New("malformed event")

// Source yields events from a stream.
type Source interface {
	Next(ctx context.Context) (Event, error)
}

// Metrics folds finished games into running aggregates.
type Metrics struct {
	mu           sync.Mutex
	totalGames   int
	botGames     int
	draws        int
	forfeits     int
	durations    []float64
	winnerCounts map[string]int
	gamesPerDay  map[string]int
	gamesPerHour map[string]int
	userGames    map[string]int
	userWins     map[string]int
	events       map[string]int
}

func NewMetrics() *Metrics {
	return &Metrics{
		winnerCounts: make(map[string]int),
		gamesPerDay:  make(map[string]int),
		gamesPerHour: make(map[string]int),
		userGames:    make(map[string]int),
		userWins:     make(map[string]int),
		events:       make(map[string]int),
	}
}

// Observe counts e and, for game_ended, folds its payload into the totals.
func (m *Metrics) Observe(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.Event]++
	if e.Event != "game_ended" {
		return
	}

	m.totalGames++
	p := e.Payload
	isBot, _ := p["isBot"].(bool)
	if isBot {
		m.botGames++
	}
	if reason, _ := p["reason"].(string); reason == "forfeit" {
		m.forfeits++
	}
	winner, _ := p["winner"].(string)
	switch {
	case winner == "draw":
		m.draws++
	case winner != "" && winner != game.BotName:
		m.winnerCounts[winner]++
		m.userWins[winner]++
	}
	if ms, ok := p["durationMs"].(float64); ok {
		m.durations = append(m.durations, ms/1000)
	}
	if players, ok := p["players"].([]any); ok {
		for _, v := range players {
			if name, ok := v.(string); ok && name != game.BotName {
				m.userGames[name]++
			}
		}
	}

	ts := e.Timestamp.UTC()
	m.gamesPerDay[ts.Format("2006-01-02")]++
	m.gamesPerHour[ts.Format("2006-01-02 15:00")]++
}

// Summary is a point-in-time copy of the aggregates.
type Summary struct {
	TotalGames      int            `json:"totalGames"`
	BotGames        int            `json:"botGames"`
	Draws           int            `json:"draws"`
	Forfeits        int            `json:"forfeits"`
	AvgDurationSecs float64        `json:"avgDurationSeconds"`
	Winners         map[string]int `json:"winners"`
	GamesPerDay     map[string]int `json:"gamesPerDay"`
	GamesPerHour    map[string]int `json:"gamesPerHour"`
	UserGames       map[string]int `json:"userGames"`
	UserWins        map[string]int `json:"userWins"`
	Events          map[string]int `json:"events"`
}

func (m *Metrics) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Summary{
		TotalGames:   m.totalGames,
		BotGames:     m.botGames,
		Draws:        m.draws,
		Forfeits:     m.forfeits,
		Winners:      maps.Clone(m.winnerCounts),
		GamesPerDay:  maps.Clone(m.gamesPerDay),
		GamesPerHour: maps.Clone(m.gamesPerHour),
		UserGames:    maps.Clone(m.userGames),
		UserWins:     maps.Clone(m.userWins),
		Events:       maps.Clone(m.events),
	}
	if len(m.durations) > 0 {
		var sum float64
		for _, d := range m.durations {
			sum += d
		}
		s.AvgDurationSecs = sum / float64(len(m.durations))
	}
	return s
}

func (m *Metrics) Log(logger *log.Logger) {
	s := m.Summary()
	logger.Info("analytics summary",
		"games", s.TotalGames,
		"botGames", s.BotGames,
		"draws", s.Draws,
		"forfeits", s.Forfeits,
		"avgDuration", time.Duration(s.AvgDurationSecs*float64(time.Second)).Round(time.Millisecond),
	)
	logger.Info("winners", "counts", s.Winners)
	logger.Info("games per day", "counts", s.GamesPerDay)
	logger.Info("games per hour", "counts", s.GamesPerHour)
	logger.Info("user games", "counts", s.UserGames, "wins", s.UserWins)
}

// Consume feeds src into m until ctx is done or src fails. Malformed
// entries are logged and skipped.
func Consume(ctx context.Context, src Source, m *Metrics, logger *log.Logger) error {
	for {
		e, err := src.Next(ctx)
		if errors.Is(err, ErrMalformed) {
			logger.Warn("skipping event", "err", err)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		m.Observe(e)
		logger.Debug("event", "type", e.Event, "game", e.Payload["gameId"], "winner", e.Payload["winner"])
	}
}
