package goal

import (
	"strings"
	"time"

	"github.com/perfdesk/eventcore/internal/domain"
)

// AggregateType tags goal streams and outbox records.
const AggregateType = "goal"

// Goal event types.
const (
	EventCreated         = "goal.created"
	EventProgressUpdated = "goal.progress_updated"
	EventCompleted       = "goal.completed"
	EventCancelled       = "goal.cancelled"
)

// Status is a goal's lifecycle state.
type Status string

const (
	// StatusActive marks a goal being worked on.
	StatusActive Status = "active"
	// StatusCompleted marks a goal finished at full progress.
	StatusCompleted Status = "completed"
	// StatusCancelled marks a goal abandoned before completion.
	StatusCancelled Status = "cancelled"
)

// Goal is the aggregate root for one tracked objective. All state change
// goes through its methods; each successful change bumps the version and
// buffers a domain event.
type Goal struct {
	domain.AggregateRoot
	tenantID    domain.TenantID
	ownerID     string
	title       string
	description string
	targetDate  time.Time
	weight      domain.GoalWeight
	progress    domain.Percentage
	status      Status
}

// NewGoal validates inputs and creates an active goal, buffering the created
// event. Expected validation failures come back as the Result failure case.
func NewGoal(tenantID domain.TenantID, ownerID, title, description string, targetDate time.Time, weight domain.GoalWeight, meta domain.Metadata) domain.Result[*Goal] {
	ownerID = strings.TrimSpace(ownerID)
	title = strings.TrimSpace(title)
	switch {
	case ownerID == "":
		return domain.Fail[*Goal]("goal owner is required")
	case title == "":
		return domain.Fail[*Goal]("goal title is required")
	case !targetDate.After(time.Now()):
		return domain.Fail[*Goal]("goal target date must be in the future")
	}

	g := &Goal{
		AggregateRoot: domain.NewAggregateRoot(),
		tenantID:      tenantID,
		ownerID:       ownerID,
		title:         title,
		description:   description,
		targetDate:    targetDate.UTC(),
		weight:        weight,
		progress:      domain.NewPercentage(0).Value(),
		status:        StatusActive,
	}
	g.Record(EventCreated, map[string]any{
		"title":       title,
		"description": description,
		"owner_id":    ownerID,
		"target_date": g.targetDate.Format(time.RFC3339),
		"weight":      weight.Int(),
	}, meta)
	return domain.Ok(g)
}

// rehydrate rebuilds a goal from persisted state without buffering events.
func rehydrate(id string, version int, tenantID domain.TenantID, ownerID, title, description string, targetDate time.Time, weight domain.GoalWeight, progress domain.Percentage, status Status) *Goal {
	return &Goal{
		AggregateRoot: domain.NewAggregateRootWithID(id, version),
		tenantID:      tenantID,
		ownerID:       ownerID,
		title:         title,
		description:   description,
		targetDate:    targetDate,
		weight:        weight,
		progress:      progress,
		status:        status,
	}
}

// UpdateProgress records a new completion percentage. Fails without touching
// state when the goal is not active.
func (g *Goal) UpdateProgress(progress domain.Percentage, meta domain.Metadata) domain.Result[struct{}] {
	if g.status != StatusActive {
		return domain.Failf[struct{}]("cannot update progress of a %s goal", g.status)
	}
	previous := g.progress
	g.progress = progress
	g.Record(EventProgressUpdated, map[string]any{
		"progress":          progress.Float(),
		"previous_progress": previous.Float(),
	}, meta)
	return domain.Ok(struct{}{})
}

// Complete marks the goal done at full progress.
func (g *Goal) Complete(meta domain.Metadata) domain.Result[struct{}] {
	if g.status != StatusActive {
		return domain.Failf[struct{}]("cannot complete a %s goal", g.status)
	}
	g.status = StatusCompleted
	g.progress = domain.NewPercentage(100).Value()
	g.Record(EventCompleted, map[string]any{
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	}, meta)
	return domain.Ok(struct{}{})
}

// Cancel abandons an active goal.
func (g *Goal) Cancel(reason string, meta domain.Metadata) domain.Result[struct{}] {
	if g.status != StatusActive {
		return domain.Failf[struct{}]("cannot cancel a %s goal", g.status)
	}
	g.status = StatusCancelled
	g.Record(EventCancelled, map[string]any{
		"reason": reason,
	}, meta)
	return domain.Ok(struct{}{})
}

// TenantID returns the owning tenant.
func (g *Goal) TenantID() domain.TenantID { return g.tenantID }

// OwnerID returns the responsible user.
func (g *Goal) OwnerID() string { return g.ownerID }

// Title returns the goal title.
func (g *Goal) Title() string { return g.title }

// Description returns the goal description.
func (g *Goal) Description() string { return g.description }

// TargetDate returns the due date.
func (g *Goal) TargetDate() time.Time { return g.targetDate }

// Weight returns the goal's relative importance.
func (g *Goal) Weight() domain.GoalWeight { return g.weight }

// Progress returns the current completion percentage.
func (g *Goal) Progress() domain.Percentage { return g.progress }

// Status returns the lifecycle state.
func (g *Goal) Status() Status { return g.status }

// AtRisk is satisfied by active goals close to their target date with low
// progress. Composed from smaller predicates so reports can reuse the parts.
func AtRisk(now time.Time) domain.Specification[*Goal] {
	active := domain.SpecFunc[*Goal](func(g *Goal) bool { return g.status == StatusActive })
	dueSoon := domain.SpecFunc[*Goal](func(g *Goal) bool {
		return g.targetDate.Sub(now) < 7*24*time.Hour
	})
	lowProgress := domain.SpecFunc[*Goal](func(g *Goal) bool { return g.progress.Float() < 50 })
	return domain.And(active, domain.And[*Goal](dueSoon, lowProgress))
}
