package outbox

import (
	"time"

	"github.com/perfdesk/eventcore/internal/domain"
)

// Status is the delivery state of an outbox message.
type Status string

const (
	// StatusPending marks a message staged but not yet published.
	StatusPending Status = "pending"
	// StatusProcessed marks a message successfully published.
	StatusProcessed Status = "processed"
	// StatusFailed marks a message whose last publish attempt failed.
	StatusFailed Status = "failed"
)

// Message is the durable staging record for one domain event. It is created
// atomically with the aggregate state change that produced the event and
// reuses the event's id, so duplicate staging is structurally impossible.
type Message struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Payload       map[string]any  `json:"payload"`
	Metadata      domain.Metadata `json:"metadata"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CreatedAt     time.Time       `json:"created_at"`
	Status        Status          `json:"status"`
	RetryCount    int             `json:"retry_count"`
	LastError     string          `json:"last_error,omitempty"`
}

// FromEvent stages ev under the owning aggregate's type.
func FromEvent(ev domain.Event, aggregateType string) Message {
	return Message{
		ID:            ev.ID,
		AggregateID:   ev.AggregateID,
		AggregateType: aggregateType,
		EventType:     ev.Type,
		Payload:       ev.Payload,
		Metadata:      ev.Metadata,
		OccurredAt:    ev.OccurredAt,
		CreatedAt:     time.Now().UTC(),
		Status:        StatusPending,
	}
}

// FromEvents stages a batch in order.
func FromEvents(events []domain.Event, aggregateType string) []Message {
	out := make([]Message, len(events))
	for i, ev := range events {
		out[i] = FromEvent(ev, aggregateType)
	}
	return out
}

// Event reconstructs the staged domain event for publishing. The occurrence
// timestamp round-trips losslessly.
func (m Message) Event() domain.Event {
	return domain.Event{
		ID:          m.ID,
		AggregateID: m.AggregateID,
		Type:        m.EventType,
		Payload:     m.Payload,
		OccurredAt:  m.OccurredAt,
		Metadata:    m.Metadata,
	}
}
