package eventstore

import (
	"context"
	"sort"
	"sync"

	"github.com/perfdesk/eventcore/internal/domain"
	"github.com/perfdesk/eventcore/internal/metrics"
)

// MemoryStore keeps streams in process memory. Suitable for tests and
// embedded use; production deployments use the sqlite store behind the same
// interface.
type MemoryStore struct {
	mu        sync.RWMutex
	streams   map[string][]domain.Event
	snapshots map[string]Snapshot
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:   make(map[string][]domain.Event),
		snapshots: make(map[string]Snapshot),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, streamID string, events []domain.Event, expectedVersion int) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := len(s.streams[streamID])
	if current != expectedVersion {
		return &ConflictError{StreamID: streamID, Expected: expectedVersion, Actual: current}
	}
	for i, ev := range events {
		ev.Metadata.Version = expectedVersion + i + 1
		s.streams[streamID] = append(s.streams[streamID], ev)
	}
	metrics.EventsAppended.Add(float64(len(events)))
	return nil
}

// Events implements Store.
func (s *MemoryStore) Events(_ context.Context, streamID string, fromVersion, toVersion int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[streamID]
	if fromVersion <= 0 {
		fromVersion = 1
	}
	if toVersion <= 0 || toVersion > len(stream) {
		toVersion = len(stream)
	}
	if fromVersion > toVersion {
		return nil, nil
	}
	out := make([]domain.Event, toVersion-fromVersion+1)
	copy(out, stream[fromVersion-1:toVersion])
	return out, nil
}

// AllEvents implements Store. Events are ordered by occurrence time across
// streams.
func (s *MemoryStore) AllEvents(_ context.Context) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Event
	for _, stream := range s.streams {
		out = append(out, stream...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		if out[i].AggregateID == out[j].AggregateID {
			return out[i].Metadata.Version < out[j].Metadata.Version
		}
		return out[i].AggregateID < out[j].AggregateID
	})
	return out, nil
}

// Snapshot implements Store.
func (s *MemoryStore) Snapshot(_ context.Context, streamID string) (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[streamID]
	return snap, ok, nil
}

// SaveSnapshot implements Store.
func (s *MemoryStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.StreamID] = snap
	return nil
}
