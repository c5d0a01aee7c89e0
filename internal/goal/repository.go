package goal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/perfdesk/eventcore/internal/eventstore"
	"github.com/perfdesk/eventcore/internal/outbox"
)

// ErrNotFound indicates no goal exists at the given id for the tenant.
var ErrNotFound = errors.New("goal not found")

// Repository loads and persists goal aggregates. Save must persist the
// aggregate's state, append its buffered events to the event store, and
// stage them in the outbox as one atomic unit, then clear the buffer.
type Repository interface {
	FindByID(ctx context.Context, id, tenantID string) (*Goal, error)
	// ListByOwner returns the owner's goals within the tenant, ordered by
	// target date.
	ListByOwner(ctx context.Context, tenantID, ownerID string) ([]*Goal, error)
	Save(ctx context.Context, g *Goal) error
}

// MemoryRepository keeps goals in memory, backed by the in-memory event
// store and outbox. One mutex stands in for the storage transaction.
type MemoryRepository struct {
	mu     sync.Mutex
	goals  map[string]*Goal
	events *eventstore.MemoryStore
	outbox *outbox.MemoryStore
}

// NewMemoryRepository creates a repository staging into the given stores.
func NewMemoryRepository(events *eventstore.MemoryStore, ob *outbox.MemoryStore) *MemoryRepository {
	return &MemoryRepository{
		goals:  make(map[string]*Goal),
		events: events,
		outbox: ob,
	}
}

// FindByID implements Repository.
func (r *MemoryRepository) FindByID(_ context.Context, id, tenantID string) (*Goal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.goals[id]
	if !ok || g.TenantID().String() != tenantID {
		return nil, ErrNotFound
	}
	clone := *g
	return &clone, nil
}

// ListByOwner implements Repository.
func (r *MemoryRepository) ListByOwner(_ context.Context, tenantID, ownerID string) ([]*Goal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Goal
	for _, g := range r.goals {
		if g.TenantID().String() != tenantID || g.OwnerID() != ownerID {
			continue
		}
		clone := *g
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TargetDate().Equal(out[j].TargetDate()) {
			return out[i].TargetDate().Before(out[j].TargetDate())
		}
		return out[i].ID() < out[j].ID()
	})
	return out, nil
}

// Save implements Repository.
func (r *MemoryRepository) Save(ctx context.Context, g *Goal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := g.UncommittedEvents()
	expected := g.Version() - len(events)
	if err := r.events.Append(ctx, g.ID(), events, expected); err != nil {
		return err
	}
	if err := r.outbox.StoreAll(ctx, outbox.FromEvents(events, AggregateType)); err != nil {
		return fmt.Errorf("stage outbox: %w", err)
	}
	g.ClearUncommittedEvents()
	clone := *g
	r.goals[g.ID()] = &clone
	return nil
}
