package goal_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/perfdesk/eventcore/internal/command"
	"github.com/perfdesk/eventcore/internal/domain"
	"github.com/perfdesk/eventcore/internal/eventbus"
	"github.com/perfdesk/eventcore/internal/goal"
	"github.com/perfdesk/eventcore/internal/outbox"
	"github.com/perfdesk/eventcore/internal/projection"
	"github.com/perfdesk/eventcore/internal/query"
	"github.com/perfdesk/eventcore/internal/saga"
	"github.com/perfdesk/eventcore/internal/sqlite"
)

type kernel struct {
	commands    *command.Bus
	queries     *query.Bus
	events      *eventbus.Bus
	projections *projection.Manager
	sagas       *saga.Manager
	outbox      outbox.Store
	processor   *outbox.Processor

	mu      sync.Mutex
	reviews []command.Command
}

// wire assembles the full stack over one sqlite file, the way the server
// binary does.
func wire(t *testing.T) *kernel {
	t.Helper()

	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "kernel.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	k := &kernel{
		commands:    command.NewBus(command.NewSQLiteIdempotencyStore(db)),
		queries:     query.NewBus(),
		events:      eventbus.NewBus(log),
		projections: projection.NewManager(),
	}
	k.sagas = saga.NewManager(k.commands, log)
	k.outbox = outbox.NewSQLiteStore(db)
	k.processor = outbox.NewProcessor(k.outbox, outbox.BusPublisher{Bus: k.events}, log, outbox.Settings{})

	if err := k.projections.Register(goal.ActiveGoalCount{}); err != nil {
		t.Fatalf("register projection: %v", err)
	}
	if err := k.sagas.Register(goal.CompletionReviewSaga{}); err != nil {
		t.Fatalf("register saga: %v", err)
	}
	k.events.Subscribe(k.projections)
	k.events.Subscribe(k.sagas)

	repo := goal.NewSQLiteRepository(db)
	if err := goal.NewHandlers(repo).Register(k.commands, k.queries, k.projections); err != nil {
		t.Fatalf("register handlers: %v", err)
	}

	// Review side: record what the saga asks for.
	err = k.commands.Register(goal.CmdRequestReview, func(ctx context.Context, cmd command.Command) domain.Result[any] {
		k.mu.Lock()
		k.reviews = append(k.reviews, cmd)
		k.mu.Unlock()
		return domain.Ok[any](nil)
	})
	if err != nil {
		t.Fatalf("register review handler: %v", err)
	}
	return k
}

func TestGoalLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	k := wire(t)

	meta := command.Meta{
		TenantID:       "acme",
		UserID:         "u1",
		CorrelationID:  "corr-1",
		IdempotencyKey: "create-ship-v2",
	}
	createPayload := map[string]any{
		"title":       "Ship v2",
		"owner_id":    "u1",
		"target_date": time.Now().Add(30 * 24 * time.Hour).Format(time.RFC3339),
		"weight":      2,
	}

	res := k.commands.Dispatch(ctx, command.New(goal.CmdCreate, createPayload, meta))
	if res.IsErr() {
		t.Fatalf("create: %s", res.Err())
	}
	goalID := res.Value().(map[string]any)["goal_id"].(string)
	if goalID == "" {
		t.Fatal("create returned empty goal_id")
	}

	// The created event sits staged until the processor drains it.
	pending, err := k.outbox.Pending(ctx, 10, 3)
	if err != nil || len(pending) != 1 || pending[0].EventType != goal.EventCreated {
		t.Fatalf("pending = %v (%v), want one %s", pending, err, goal.EventCreated)
	}
	k.processor.DrainOnce(ctx)

	count := k.queries.Dispatch(ctx, query.New(goal.QueryActiveCount, nil, query.Meta{TenantID: "acme"}))
	if count.IsErr() || count.Value().(int) != 1 {
		t.Fatalf("active count after create = %v (%s), want 1", count.Value(), count.Err())
	}

	// Retried request, same idempotency key: same goal, nothing re-staged.
	replay := k.commands.Dispatch(ctx, command.New(goal.CmdCreate, createPayload, meta))
	if replay.IsErr() {
		t.Fatalf("replay: %s", replay.Err())
	}
	if got := replay.Value().(map[string]any)["goal_id"].(string); got != goalID {
		t.Fatalf("replay goal_id = %s, want %s", got, goalID)
	}
	if pending, _ := k.outbox.Pending(ctx, 10, 3); len(pending) != 0 {
		t.Fatalf("replay staged %d messages, want 0", len(pending))
	}

	// Completing the goal drives the review saga once drained.
	done := k.commands.Dispatch(ctx, command.New(goal.CmdComplete,
		map[string]any{"goal_id": goalID},
		command.Meta{TenantID: "acme", UserID: "u1", CorrelationID: "corr-1"},
	))
	if done.IsErr() {
		t.Fatalf("complete: %s", done.Err())
	}
	k.processor.DrainOnce(ctx)

	k.mu.Lock()
	reviews := append([]command.Command(nil), k.reviews...)
	k.mu.Unlock()
	if len(reviews) != 1 {
		t.Fatalf("review requests = %d, want 1", len(reviews))
	}
	if reviews[0].Payload["goal_id"] != goalID || reviews[0].Meta.CorrelationID != "corr-1" {
		t.Fatalf("review command = %+v", reviews[0])
	}
	if _, alive := k.sagas.InstanceState(goal.CompletionReviewSagaName, "corr-1"); alive {
		t.Fatal("saga instance should be gone after completion")
	}

	count = k.queries.Dispatch(ctx, query.New(goal.QueryActiveCount, nil, query.Meta{TenantID: "acme"}))
	if count.IsErr() || count.Value().(int) != 0 {
		t.Fatalf("active count after complete = %v, want 0", count.Value())
	}
}
