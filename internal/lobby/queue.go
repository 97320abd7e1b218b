package lobby

import (
	"sync"
	"time"

	"github.com/coder/quartz"

	"emittr/fourinarow/internal/game"
)

type queueEntry struct {
	player *game.Player
	timer  *quartz.Timer
}

// Queue holds players waiting for an opponent.
type Queue struct {
	mu      sync.Mutex
	clock   quartz.Clock
	timeout time.Duration
	entries []*queueEntry
}

func NewQueue(clock quartz.Clock, timeout time.Duration) *Queue {
	return &Queue{clock: clock, timeout: timeout}
}

// Join pairs p with the longest-waiting player under a different name, or
// queues p. A queued player that is still waiting after the timeout is
// removed and handed to onEscalate. Joining twice under the same name keeps
// the existing entry and timer.
func (q *Queue) Join(p *game.Player, onEscalate func(*game.Player)) (*game.Player, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.player.Username == p.Username {
			return nil, false
		}
	}
	for i, e := range q.entries {
		if e.player.Username != p.Username {
			q.removeAt(i)
			return e.player, true
		}
	}

	entry := &queueEntry{player: p}
	entry.timer = q.clock.AfterFunc(q.timeout, func() {
		if q.take(entry) {
			onEscalate(p)
		}
	}, "queue", "escalate")
	q.entries = append(q.entries, entry)
	return nil, false
}

// Remove drops username's entry and cancels its timer.
func (q *Queue) Remove(username string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.player.Username == username {
			q.removeAt(i)
			return true
		}
	}
	return false
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// take removes entry if it is still queued. A timer that lost the race to
// a pairing or removal finds nothing and reports false.
func (q *Queue) take(entry *queueEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e == entry {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) removeAt(i int) {
	e := q.entries[i]
	if e.timer != nil {
		e.timer.Stop()
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
}
