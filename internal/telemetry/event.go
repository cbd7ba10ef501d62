package telemetry

import (
	"encoding/json"
	"time"
)

// Event types emitted by the tracker.
const (
	EventSnapshotRecorded      = "snapshot_recorded"
	EventBatchRefreshCompleted = "batch_refresh_completed"
)

// Event is one telemetry record. It is serialized as JSON on the Kafka topic.
type Event struct {
	Type      string          `json:"eventType"`
	Source    string          `json:"source"`
	Username  string          `json:"username,omitempty"`
	RunID     string          `json:"runId,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewEvent builds an event of eventType from source, encoding metadata as JSON.
// Metadata that cannot be encoded is dropped.
func NewEvent(eventType, source string, metadata any) *Event {
	e := &Event{Type: eventType, Source: source, CreatedAt: time.Now().UTC()}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			e.Metadata = raw
		}
	}
	return e
}
