package lobby

import (
	"slices"
	"strings"
	"sync"
	"time"
)

type DisconnectRecord struct {
	Username       string
	SessionID      string
	DisconnectedAt time.Time
}

// ReconnectTracker keeps at most one disconnect record per username.
type ReconnectTracker struct {
	mu      sync.Mutex
	records map[string]DisconnectRecord
}

func NewReconnectTracker() *ReconnectTracker {
	return &ReconnectTracker{records: make(map[string]DisconnectRecord)}
}

// Record stores or replaces the record for username.
func (t *ReconnectTracker) Record(username, sessionID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[username] = DisconnectRecord{Username: username, SessionID: sessionID, DisconnectedAt: at}
}

func (t *ReconnectTracker) Lookup(username string) (DisconnectRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[username]
	return rec, ok
}

func (t *ReconnectTracker) Clear(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, username)
}

// ClearSession drops every record pointing at sessionID.
func (t *ReconnectTracker) ClearSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, rec := range t.records {
		if rec.SessionID == sessionID {
			delete(t.records, name)
		}
	}
}

// Expired lists records older than grace at now, oldest disconnect first.
// Records are not removed; the sweep claims each one with Take after
// re-checking session state.
func (t *ReconnectTracker) Expired(now time.Time, grace time.Duration) []DisconnectRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []DisconnectRecord
	for _, rec := range t.records {
		if now.Sub(rec.DisconnectedAt) > grace {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b DisconnectRecord) int {
		if c := a.DisconnectedAt.Compare(b.DisconnectedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Username, b.Username)
	})
	return out
}

// Take removes rec only if the stored record is still exactly rec, so a
// rejoin (or a newer disconnect) that raced the sweep wins.
func (t *ReconnectTracker) Take(rec DisconnectRecord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.records[rec.Username]
	if !ok || cur != rec {
		return false
	}
	delete(t.records, rec.Username)
	return true
}

func (t *ReconnectTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
