package goal

import (
	"testing"
	"time"

	"github.com/perfdesk/eventcore/internal/domain"
)

func mustGoal(t *testing.T) *Goal {
	t.Helper()
	res := NewGoal(
		domain.NewTenantID("acme").Value(),
		"u1", "Ship v2", "Release the second major version",
		time.Now().Add(30*24*time.Hour),
		domain.NewGoalWeight(2).Value(),
		domain.Metadata{TenantID: "acme", UserID: "u1", CorrelationID: "c1"},
	)
	if res.IsErr() {
		t.Fatalf("new goal: %s", res.Err())
	}
	return res.Value()
}

func TestNewGoalValidation(t *testing.T) {
	tenant := domain.NewTenantID("acme").Value()
	weight := domain.NewGoalWeight(2).Value()
	future := time.Now().Add(24 * time.Hour)
	meta := domain.Metadata{TenantID: "acme"}

	cases := []struct {
		name   string
		owner  string
		title  string
		target time.Time
		wantOk bool
	}{
		{"valid", "u1", "Ship v2", future, true},
		{"missing owner", "", "Ship v2", future, false},
		{"blank title", "u1", "   ", future, false},
		{"past target", "u1", "Ship v2", time.Now().Add(-time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := NewGoal(tenant, tc.owner, tc.title, "", tc.target, weight, meta)
			if res.IsOk() != tc.wantOk {
				t.Fatalf("IsOk = %v (%s), want %v", res.IsOk(), res.Err(), tc.wantOk)
			}
		})
	}
}

func TestNewGoalBuffersCreatedEvent(t *testing.T) {
	g := mustGoal(t)
	if g.Version() != 1 || g.Status() != StatusActive {
		t.Fatalf("version %d status %s", g.Version(), g.Status())
	}
	events := g.UncommittedEvents()
	if len(events) != 1 || events[0].Type != EventCreated {
		t.Fatalf("buffered = %v", events)
	}
	if events[0].Payload["title"] != "Ship v2" || events[0].Payload["weight"] != 2 {
		t.Fatalf("payload = %v", events[0].Payload)
	}
	if events[0].Metadata.CorrelationID != "c1" || events[0].Metadata.Version != 1 {
		t.Fatalf("metadata = %+v", events[0].Metadata)
	}
}

func TestUpdateProgress(t *testing.T) {
	g := mustGoal(t)
	meta := domain.Metadata{TenantID: "acme"}

	res := g.UpdateProgress(domain.NewPercentage(60).Value(), meta)
	if res.IsErr() {
		t.Fatalf("update: %s", res.Err())
	}
	if g.Progress().Float() != 60 || g.Version() != 2 {
		t.Fatalf("progress %v version %d", g.Progress().Float(), g.Version())
	}
}

func TestBusinessMethodFailureLeavesStateUntouched(t *testing.T) {
	g := mustGoal(t)
	meta := domain.Metadata{TenantID: "acme"}
	_ = g.UpdateProgress(domain.NewPercentage(60).Value(), meta)
	if res := g.Complete(meta); res.IsErr() {
		t.Fatalf("complete: %s", res.Err())
	}

	before := g.Version()
	// Completed goals reject further mutation without partial effects.
	if res := g.UpdateProgress(domain.NewPercentage(10).Value(), meta); res.IsOk() {
		t.Fatal("update on completed goal should fail")
	}
	if res := g.Cancel("too late", meta); res.IsOk() {
		t.Fatal("cancel on completed goal should fail")
	}
	if g.Version() != before || g.Progress().Float() != 100 || g.Status() != StatusCompleted {
		t.Fatalf("failed methods mutated state: v%d %v %s", g.Version(), g.Progress().Float(), g.Status())
	}
	if n := len(g.UncommittedEvents()); n != 3 {
		t.Fatalf("buffered events = %d, want 3", n)
	}
}

func TestAtRiskSpecification(t *testing.T) {
	now := time.Now()
	spec := AtRisk(now)

	tenant := domain.NewTenantID("acme").Value()
	weight := domain.NewGoalWeight(2).Value()
	meta := domain.Metadata{TenantID: "acme"}

	nearAndBehind := NewGoal(tenant, "u1", "a", "", now.Add(2*24*time.Hour), weight, meta).Value()
	if !spec.IsSatisfiedBy(nearAndBehind) {
		t.Fatal("low-progress goal due in 2 days should be at risk")
	}

	farOut := NewGoal(tenant, "u1", "b", "", now.Add(60*24*time.Hour), weight, meta).Value()
	if spec.IsSatisfiedBy(farOut) {
		t.Fatal("goal due in 60 days should not be at risk")
	}

	nearButAhead := NewGoal(tenant, "u1", "c", "", now.Add(2*24*time.Hour), weight, meta).Value()
	_ = nearButAhead.UpdateProgress(domain.NewPercentage(90).Value(), meta)
	if spec.IsSatisfiedBy(nearButAhead) {
		t.Fatal("goal at 90% should not be at risk")
	}

	done := NewGoal(tenant, "u1", "d", "", now.Add(2*24*time.Hour), weight, meta).Value()
	_ = done.Complete(meta)
	if spec.IsSatisfiedBy(done) {
		t.Fatal("completed goal should not be at risk")
	}
}

func TestActiveGoalCountProjection(t *testing.T) {
	p := ActiveGoalCount{}
	state := p.InitialState()

	acme := domain.Metadata{TenantID: "acme"}
	globex := domain.Metadata{TenantID: "globex"}

	state = p.Apply(state, domain.NewEvent("g1", EventCreated, nil, acme))
	state = p.Apply(state, domain.NewEvent("g2", EventCreated, nil, acme))
	state = p.Apply(state, domain.NewEvent("g3", EventCreated, nil, globex))
	state = p.Apply(state, domain.NewEvent("g1", EventCompleted, nil, acme))
	state = p.Apply(state, domain.NewEvent("g1", EventProgressUpdated, nil, acme)) // ignored

	counts := state.(map[string]int)
	if counts["acme"] != 1 || counts["globex"] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	// The fold never mutates its input state.
	initial := p.InitialState().(map[string]int)
	_ = p.Apply(initial, domain.NewEvent("g9", EventCreated, nil, acme))
	if len(initial) != 0 {
		t.Fatal("Apply mutated the input state")
	}
}
