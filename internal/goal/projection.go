package goal

import "github.com/perfdesk/eventcore/internal/domain"

// ActiveGoalCountName is the registered name of the per-tenant active goal
// count projection.
const ActiveGoalCountName = "active-goal-count"

// ActiveGoalCount folds goal lifecycle events into a per-tenant count of
// active goals.
type ActiveGoalCount struct{}

// Name implements projection.Projection.
func (ActiveGoalCount) Name() string { return ActiveGoalCountName }

// InitialState implements projection.Projection.
func (ActiveGoalCount) InitialState() any { return map[string]int{} }

// Apply implements projection.Projection. The fold is pure: the incoming
// state map is copied, never mutated.
func (ActiveGoalCount) Apply(state any, ev domain.Event) any {
	var delta int
	switch ev.Type {
	case EventCreated:
		delta = 1
	case EventCompleted, EventCancelled:
		delta = -1
	default:
		return state
	}

	counts := state.(map[string]int)
	next := make(map[string]int, len(counts)+1)
	for k, v := range counts {
		next[k] = v
	}
	next[ev.Metadata.TenantID] += delta
	return next
}
