package analytics

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultTopic is used for both the Kafka topic and the Redis list.
const DefaultTopic = "game-events"

// Tracker receives gameplay events. Implementations must be safe for
// concurrent use; callers ignore failures beyond logging them.
type Tracker interface {
	Track(ctx context.Context, event string, payload map[string]any) error
}

// Event is the envelope written to the stream.
type Event struct {
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

func encode(event string, payload map[string]any, now time.Time) ([]byte, error) {
	return json.Marshal(Event{Event: event, Payload: payload, Timestamp: now.UTC()})
}

func decode(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Discard drops every event.
type Discard struct{}

func (Discard) Track(context.Context, string, map[string]any) error { return nil }
