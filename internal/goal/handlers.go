package goal

import (
	"context"
	"errors"
	"time"

	"github.com/perfdesk/eventcore/internal/command"
	"github.com/perfdesk/eventcore/internal/domain"
	"github.com/perfdesk/eventcore/internal/eventstore"
	"github.com/perfdesk/eventcore/internal/projection"
	"github.com/perfdesk/eventcore/internal/query"
)

// Command types handled by this context.
const (
	CmdCreate         = "goal.create"
	CmdUpdateProgress = "goal.update_progress"
	CmdComplete       = "goal.complete"
	CmdCancel         = "goal.cancel"
	// CmdRequestReview is emitted by the completion review saga; its handler
	// belongs to the review/notification side and is registered at wiring.
	CmdRequestReview = "review.request"
)

// Query types handled by this context.
const (
	QueryGet         = "goal.get"
	QueryListByOwner = "goal.list_by_owner"
	QueryActiveCount = "goal.active_count"
)

// Handlers binds the goal context onto the buses.
type Handlers struct {
	repo Repository
}

// NewHandlers creates handlers over the given repository.
func NewHandlers(repo Repository) *Handlers {
	return &Handlers{repo: repo}
}

// Register wires all command and query handlers. The active-count query
// reads the projection manager's folded state.
func (h *Handlers) Register(cbus *command.Bus, qbus *query.Bus, projections *projection.Manager) error {
	commands := map[string]command.Handler{
		CmdCreate:         h.create,
		CmdUpdateProgress: h.updateProgress,
		CmdComplete:       h.complete,
		CmdCancel:         h.cancel,
	}
	for typ, handler := range commands {
		if err := cbus.Register(typ, handler); err != nil {
			return err
		}
	}
	if err := qbus.Register(QueryGet, h.get); err != nil {
		return err
	}
	if err := qbus.Register(QueryListByOwner, h.listByOwner); err != nil {
		return err
	}
	return qbus.Register(QueryActiveCount, activeCount(projections))
}

func metaFrom(cmd command.Command) domain.Metadata {
	return domain.Metadata{
		TenantID:      cmd.Meta.TenantID,
		UserID:        cmd.Meta.UserID,
		CorrelationID: cmd.Meta.CorrelationID,
		CausationID:   cmd.ID,
	}
}

func (h *Handlers) create(ctx context.Context, cmd command.Command) domain.Result[any] {
	title, _ := cmd.Payload["title"].(string)
	description, _ := cmd.Payload["description"].(string)
	ownerID, _ := cmd.Payload["owner_id"].(string)
	targetRaw, _ := cmd.Payload["target_date"].(string)

	target, err := time.Parse(time.RFC3339, targetRaw)
	if err != nil {
		return domain.Failf[any]("invalid target_date %q: expected RFC 3339", targetRaw)
	}

	tenant := domain.NewTenantID(cmd.Meta.TenantID)
	weight := domain.NewGoalWeight(intField(cmd.Payload, "weight"))
	created := domain.FlatMap(tenant, func(t domain.TenantID) domain.Result[*Goal] {
		return domain.FlatMap(weight, func(w domain.GoalWeight) domain.Result[*Goal] {
			return NewGoal(t, ownerID, title, description, target, w, metaFrom(cmd))
		})
	})
	if created.IsErr() {
		return domain.Fail[any](created.Err())
	}

	g := created.Value()
	if err := h.repo.Save(ctx, g); err != nil {
		return saveFailure(err)
	}
	return domain.Ok[any](map[string]any{"goal_id": g.ID()})
}

func (h *Handlers) updateProgress(ctx context.Context, cmd command.Command) domain.Result[any] {
	g, res := h.load(ctx, cmd)
	if res.IsErr() {
		return res
	}
	progress := domain.NewPercentage(floatField(cmd.Payload, "progress"))
	updated := domain.FlatMap(progress, func(p domain.Percentage) domain.Result[struct{}] {
		return g.UpdateProgress(p, metaFrom(cmd))
	})
	if updated.IsErr() {
		return domain.Fail[any](updated.Err())
	}
	if err := h.repo.Save(ctx, g); err != nil {
		return saveFailure(err)
	}
	return domain.Ok[any](map[string]any{"goal_id": g.ID(), "progress": g.Progress().Float()})
}

func (h *Handlers) complete(ctx context.Context, cmd command.Command) domain.Result[any] {
	g, res := h.load(ctx, cmd)
	if res.IsErr() {
		return res
	}
	if completed := g.Complete(metaFrom(cmd)); completed.IsErr() {
		return domain.Fail[any](completed.Err())
	}
	if err := h.repo.Save(ctx, g); err != nil {
		return saveFailure(err)
	}
	return domain.Ok[any](map[string]any{"goal_id": g.ID(), "status": string(g.Status())})
}

func (h *Handlers) cancel(ctx context.Context, cmd command.Command) domain.Result[any] {
	g, res := h.load(ctx, cmd)
	if res.IsErr() {
		return res
	}
	reason, _ := cmd.Payload["reason"].(string)
	if cancelled := g.Cancel(reason, metaFrom(cmd)); cancelled.IsErr() {
		return domain.Fail[any](cancelled.Err())
	}
	if err := h.repo.Save(ctx, g); err != nil {
		return saveFailure(err)
	}
	return domain.Ok[any](map[string]any{"goal_id": g.ID(), "status": string(g.Status())})
}

func (h *Handlers) load(ctx context.Context, cmd command.Command) (*Goal, domain.Result[any]) {
	goalID, _ := cmd.Payload["goal_id"].(string)
	if goalID == "" {
		return nil, domain.Fail[any]("goal_id is required")
	}
	g, err := h.repo.FindByID(ctx, goalID, cmd.Meta.TenantID)
	if errors.Is(err, ErrNotFound) {
		return nil, domain.Failf[any]("goal %s not found", goalID)
	}
	if err != nil {
		return nil, domain.Failf[any]("load goal %s: %s", goalID, err)
	}
	return g, domain.Ok[any](nil)
}

func (h *Handlers) get(ctx context.Context, q query.Query) domain.Result[any] {
	goalID, _ := q.Payload["goal_id"].(string)
	g, err := h.repo.FindByID(ctx, goalID, q.Meta.TenantID)
	if errors.Is(err, ErrNotFound) {
		return domain.Failf[any]("goal %s not found", goalID)
	}
	if err != nil {
		return domain.Failf[any]("load goal %s: %s", goalID, err)
	}
	return domain.Ok[any](map[string]any{
		"goal_id":     g.ID(),
		"owner_id":    g.OwnerID(),
		"title":       g.Title(),
		"description": g.Description(),
		"target_date": g.TargetDate().Format(time.RFC3339),
		"weight":      g.Weight().Int(),
		"progress":    g.Progress().Float(),
		"status":      string(g.Status()),
		"version":     g.Version(),
	})
}

func (h *Handlers) listByOwner(ctx context.Context, q query.Query) domain.Result[any] {
	ownerID, _ := q.Payload["owner_id"].(string)
	if ownerID == "" {
		return domain.Fail[any]("owner_id is required")
	}
	goals, err := h.repo.ListByOwner(ctx, q.Meta.TenantID, ownerID)
	if err != nil {
		return domain.Failf[any]("list goals for %s: %s", ownerID, err)
	}

	atRisk := AtRisk(time.Now())
	items := make([]map[string]any, 0, len(goals))
	for _, g := range goals {
		items = append(items, map[string]any{
			"goal_id":     g.ID(),
			"title":       g.Title(),
			"target_date": g.TargetDate().Format(time.RFC3339),
			"progress":    g.Progress().Float(),
			"status":      string(g.Status()),
			"at_risk":     atRisk.IsSatisfiedBy(g),
		})
	}
	return domain.Ok[any](items)
}

func activeCount(projections *projection.Manager) query.Handler {
	return func(ctx context.Context, q query.Query) domain.Result[any] {
		state, ok := projections.State(ActiveGoalCountName)
		if !ok {
			return domain.Fail[any]("active goal count projection not registered")
		}
		counts := state.(map[string]int)
		return domain.Ok[any](counts[q.Meta.TenantID])
	}
}

// saveFailure maps repository errors onto the Result surface. Concurrency
// conflicts keep their expected/actual versions as structured detail.
func saveFailure(err error) domain.Result[any] {
	var conflict *eventstore.ConflictError
	if errors.As(err, &conflict) {
		return domain.FailWithDetail[any](conflict.Error(), map[string]int{
			"expected_version": conflict.Expected,
			"actual_version":   conflict.Actual,
		})
	}
	return domain.Failf[any]("save goal: %s", err)
}

func intField(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatField(payload map[string]any, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return -1
	}
}
