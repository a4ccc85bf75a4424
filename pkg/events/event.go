package events

import (
	"context"
	"time"
)

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "DOCUMENT_INDEXED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Publisher is anything events can be handed to.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

const (
	SessionCreated      = "SESSION_CREATED"
	SessionBusy         = "SESSION_BUSY"
	SessionIdle         = "SESSION_IDLE"
	DocumentIndexed     = "DOCUMENT_INDEXED"
	DocumentReused      = "DOCUMENT_REUSED"
	DocumentFailed      = "DOCUMENT_FAILED"
	QuestionAnswered    = "QUESTION_ANSWERED"
	QuestionFailed      = "QUESTION_FAILED"
	SessionReset        = "SESSION_RESET"
	VectorStoreOrphaned = "VECTOR_STORE_ORPHANED"
)

// BaseEvent is the only Event implementation; the payload always carries session_id.
type BaseEvent struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// SessionID returns the session the event belongs to, or "".
func SessionID(e Event) string {
	id, _ := e.Payload()["session_id"].(string)
	return id
}

// New builds a session scoped event.
func New(eventType, sessionID string, data map[string]interface{}) BaseEvent {
	if data == nil {
		data = make(map[string]interface{})
	}
	data["session_id"] = sessionID
	return BaseEvent{
		Type:       eventType,
		Data:       data,
		OccurredAt: time.Now(),
	}
}
