package projection

import (
	"context"
	"fmt"
	"sync"

	"github.com/perfdesk/eventcore/internal/domain"
	"github.com/perfdesk/eventcore/internal/eventbus"
)

// Projection folds events into a derived, query-optimized state. Apply must
// be pure: same state and event, same result. Projection state is never the
// system of record; it is rebuildable from event replay.
type Projection interface {
	Name() string
	InitialState() any
	Apply(state any, ev domain.Event) any
}

// Manager holds the current state of every registered projection and folds
// incoming events into each one independently.
type Manager struct {
	mu          sync.RWMutex
	projections map[string]Projection
	states      map[string]any
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		projections: make(map[string]Projection),
		states:      make(map[string]any),
	}
}

// Register binds a projection at its initial state, rejecting duplicates.
func (m *Manager) Register(p Projection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.projections[p.Name()]; exists {
		return fmt.Errorf("projection manager: projection %q already registered", p.Name())
	}
	m.projections[p.Name()] = p
	m.states[p.Name()] = p.InitialState()
	return nil
}

// HandleEvent folds ev into every registered projection.
func (m *Manager) HandleEvent(ev domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, p := range m.projections {
		m.states[name] = p.Apply(m.states[name], ev)
	}
}

// State returns the current folded state of one projection.
func (m *Manager) State(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[name]
	return state, ok
}

// Rebuild resets one projection to its initial state. Re-driving historical
// events through it is the caller's replay concern.
func (m *Manager) Rebuild(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projections[name]
	if !ok {
		return fmt.Errorf("projection manager: projection %q not registered", name)
	}
	m.states[name] = p.InitialState()
	return nil
}

// Name implements eventbus.Subscriber.
func (m *Manager) Name() string { return "projection-manager" }

// EventTypes implements eventbus.Subscriber; every projection sees every
// event and ignores what it does not care about.
func (m *Manager) EventTypes() []string { return []string{eventbus.Wildcard} }

// Handle implements eventbus.Subscriber.
func (m *Manager) Handle(_ context.Context, ev domain.Event) error {
	m.HandleEvent(ev)
	return nil
}
