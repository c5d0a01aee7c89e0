package domain

import "github.com/google/uuid"

// Entity has a stable generated identity; two entities are equal iff their
// identities match, regardless of attribute values.
type Entity struct {
	id string
}

// NewEntity creates an entity with a generated id.
func NewEntity() Entity {
	return Entity{id: uuid.New().String()}
}

// NewEntityWithID creates an entity with an existing id (rehydration).
func NewEntityWithID(id string) Entity {
	return Entity{id: id}
}

// ID returns the entity's identity.
func (e Entity) ID() string { return e.id }

// Equals reports identity equality.
func (e Entity) Equals(other Entity) bool { return e.id == other.id }

// AggregateRoot is the transactional consistency boundary for a cluster of
// state. Business methods mutate state only through the aggregate itself,
// bump the version, and buffer a domain event per change.
type AggregateRoot struct {
	Entity
	version int
	events  []Event
}

// NewAggregateRoot creates a root with a generated id at version 0.
func NewAggregateRoot() AggregateRoot {
	return AggregateRoot{Entity: NewEntity()}
}

// NewAggregateRootWithID rehydrates a root at the given version.
func NewAggregateRootWithID(id string, version int) AggregateRoot {
	return AggregateRoot{Entity: NewEntityWithID(id), version: version}
}

// Version returns the current version (the number of recorded changes).
func (a *AggregateRoot) Version() int { return a.version }

// Record bumps the version and buffers a domain event for the change.
// The event's metadata version is set to the post-change version.
func (a *AggregateRoot) Record(eventType string, payload map[string]any, meta Metadata) Event {
	a.version++
	meta.Version = a.version
	ev := NewEvent(a.ID(), eventType, payload, meta)
	a.events = append(a.events, ev)
	return ev
}

// UncommittedEvents returns the buffered, not-yet-staged events.
func (a *AggregateRoot) UncommittedEvents() []Event {
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}

// ClearUncommittedEvents empties the buffer. Call exactly once, after the
// events have been durably staged.
func (a *AggregateRoot) ClearUncommittedEvents() {
	a.events = nil
}
