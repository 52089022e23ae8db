package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"fintrack/internal/core"
)

// EventType tells what happened to a record.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// RecordEvent is a lightweight notification about a record write. It
// carries only identifiers; consumers fetch the record from storage.
type RecordEvent struct {
	Type      EventType       `json:"type"`
	Kind      core.RecordKind `json:"kind"`
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewRecordEvent(t EventType, kind core.RecordKind, id int64, userID string) *RecordEvent {
	return &RecordEvent{
		Type:      t,
		Kind:      kind,
		ID:        id,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *RecordEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// RecordEventFromJSON decodes and sanity-checks an event.
func RecordEventFromJSON(data []byte) (*RecordEvent, error) {
	var evt RecordEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	switch evt.Type {
	case EventCreated, EventUpdated, EventDeleted:
	default:
		return nil, fmt.Errorf("unknown event type %q", evt.Type)
	}
	if evt.ID <= 0 || evt.UserID == "" || evt.Kind == "" {
		return nil, fmt.Errorf("incomplete event: kind=%q id=%d", evt.Kind, evt.ID)
	}
	return &evt, nil
}
