package domain

import (
	"time"

	"github.com/google/uuid"
)

// Metadata carries the request context an event or command was produced under.
// All fields are opaque strings to the kernel.
type Metadata struct {
	TenantID      string `json:"tenant_id"`
	UserID        string `json:"user_id"`
	CorrelationID string `json:"correlation_id"`
	CausationID   string `json:"causation_id,omitempty"`
	// Version is the aggregate version at which the event occurred.
	Version int `json:"version,omitempty"`
}

// Event is an immutable fact about an aggregate state change. Events are never
// mutated or deleted after creation; they are the only way state changes
// propagate outside an aggregate.
type Event struct {
	ID          string         `json:"id"`
	AggregateID string         `json:"aggregate_id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Metadata    Metadata       `json:"metadata"`
}

// NewEvent creates an event with a fresh id and the current time.
func NewEvent(aggregateID, eventType string, payload map[string]any, meta Metadata) Event {
	return Event{
		ID:          uuid.New().String(),
		AggregateID: aggregateID,
		Type:        eventType,
		Payload:     payload,
		OccurredAt:  time.Now().UTC(),
		Metadata:    meta,
	}
}
