package saga

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/perfdesk/eventcore/internal/command"
	"github.com/perfdesk/eventcore/internal/domain"
	"github.com/perfdesk/eventcore/internal/eventbus"
)

// Step is the outcome of one saga transition: the next state, any commands
// to dispatch, and whether the process instance is complete.
type Step struct {
	State    any
	Commands []command.Command
	Complete bool
}

// Definition is a named long-running process: an initial state plus a pure
// transition function over incoming events.
type Definition interface {
	Name() string
	InitialState() any
	Handle(state any, ev domain.Event) Step
}

type instanceKey struct {
	saga        string
	correlation string
}

// Manager correlates events into per-(saga, correlation id) process
// instances and dispatches the commands each transition emits. Instances are
// created lazily on the first relevant event and deleted on completion.
type Manager struct {
	mu        sync.Mutex
	defs      []Definition
	names     map[string]struct{}
	instances map[instanceKey]any
	bus       *command.Bus
	log       *slog.Logger
}

// NewManager creates a manager dispatching through bus.
func NewManager(bus *command.Bus, log *slog.Logger) *Manager {
	return &Manager{
		names:     make(map[string]struct{}),
		instances: make(map[instanceKey]any),
		bus:       bus,
		log:       log,
	}
}

// Register binds a saga definition, rejecting duplicate names.
func (m *Manager) Register(def Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.names[def.Name()]; exists {
		return fmt.Errorf("saga manager: saga %q already registered", def.Name())
	}
	m.names[def.Name()] = struct{}{}
	m.defs = append(m.defs, def)
	return nil
}

// HandleEvent folds ev into every registered saga's instance for
// correlationID, then dispatches the emitted commands.
func (m *Manager) HandleEvent(ctx context.Context, correlationID string, ev domain.Event) {
	if correlationID == "" {
		return
	}

	var emitted []command.Command
	m.mu.Lock()
	for _, def := range m.defs {
		key := instanceKey{saga: def.Name(), correlation: correlationID}
		state, ok := m.instances[key]
		if !ok {
			state = def.InitialState()
		}
		step := def.Handle(state, ev)
		if step.Complete {
			delete(m.instances, key)
			m.log.Info("saga_complete",
				slog.String("saga", def.Name()),
				slog.String("correlation_id", correlationID),
			)
		} else {
			m.instances[key] = step.State
		}
		emitted = append(emitted, step.Commands...)
	}
	m.mu.Unlock()

	// Dispatch outside the lock; a saga command may land back here via the
	// event bus.
	for _, cmd := range emitted {
		if res := m.bus.Dispatch(ctx, cmd); res.IsErr() {
			m.log.Error("saga_command_failed",
				slog.String("command_type", cmd.Type),
				slog.String("correlation_id", correlationID),
				slog.String("err", res.Err()),
			)
		}
	}
}

// InstanceState returns the live state for a (saga, correlation id) pair.
func (m *Manager) InstanceState(sagaName, correlationID string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.instances[instanceKey{saga: sagaName, correlation: correlationID}]
	return state, ok
}

// Name implements eventbus.Subscriber.
func (m *Manager) Name() string { return "saga-manager" }

// EventTypes implements eventbus.Subscriber; sagas see every event and
// decide relevance themselves.
func (m *Manager) EventTypes() []string { return []string{eventbus.Wildcard} }

// Handle implements eventbus.Subscriber, correlating by the event's
// correlation id.
func (m *Manager) Handle(ctx context.Context, ev domain.Event) error {
	m.HandleEvent(ctx, ev.Metadata.CorrelationID, ev)
	return nil
}
