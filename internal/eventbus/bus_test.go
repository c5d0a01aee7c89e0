package eventbus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/perfdesk/eventcore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(eventType string) domain.Event {
	return domain.NewEvent("goal-1", eventType, map[string]any{"n": 1}, domain.Metadata{TenantID: "acme"})
}

func TestPublishFansOutToMatchingSubscribers(t *testing.T) {
	bus := NewBus(testLogger())

	var created, completed, all atomic.Int32
	bus.Subscribe(SubscriberFunc{SubName: "created", Types: []string{"goal.created"}, Fn: func(ctx context.Context, ev domain.Event) error {
		created.Add(1)
		return nil
	}})
	bus.Subscribe(SubscriberFunc{SubName: "completed", Types: []string{"goal.completed"}, Fn: func(ctx context.Context, ev domain.Event) error {
		completed.Add(1)
		return nil
	}})
	bus.Subscribe(SubscriberFunc{SubName: "all", Types: []string{Wildcard}, Fn: func(ctx context.Context, ev domain.Event) error {
		all.Add(1)
		return nil
	}})

	bus.Publish(context.Background(), testEvent("goal.created"))

	if created.Load() != 1 || completed.Load() != 0 || all.Load() != 1 {
		t.Fatalf("deliveries = created %d, completed %d, all %d", created.Load(), completed.Load(), all.Load())
	}
}

func TestSubscriberFailureIsIsolated(t *testing.T) {
	bus := NewBus(testLogger())

	var first, third atomic.Int32
	bus.Subscribe(SubscriberFunc{SubName: "first", Types: []string{"goal.created"}, Fn: func(ctx context.Context, ev domain.Event) error {
		first.Add(1)
		return nil
	}})
	bus.Subscribe(SubscriberFunc{SubName: "second", Types: []string{"goal.created"}, Fn: func(ctx context.Context, ev domain.Event) error {
		return errors.New("projection exploded")
	}})
	bus.Subscribe(SubscriberFunc{SubName: "third", Types: []string{"goal.created"}, Fn: func(ctx context.Context, ev domain.Event) error {
		third.Add(1)
		return nil
	}})

	ev := testEvent("goal.created")
	bus.Publish(context.Background(), ev)

	if first.Load() != 1 || third.Load() != 1 {
		t.Fatalf("siblings ran %d/%d times, want 1/1", first.Load(), third.Load())
	}
	dead := bus.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dead))
	}
	dl := dead[0]
	if dl.Subscriber != "second" || dl.Err != "projection exploded" || dl.Event.ID != ev.ID {
		t.Fatalf("dead letter = %+v", dl)
	}
	if dl.OccurredAt.IsZero() {
		t.Fatal("dead letter must be timestamped")
	}
}

func TestSubscriberPanicIsCaptured(t *testing.T) {
	bus := NewBus(testLogger())
	bus.Subscribe(SubscriberFunc{SubName: "panicky", Types: []string{Wildcard}, Fn: func(ctx context.Context, ev domain.Event) error {
		panic("nil map write")
	}})

	bus.Publish(context.Background(), testEvent("goal.created"))

	dead := bus.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dead))
	}
	if dead[0].Err != "panic: nil map write" {
		t.Fatalf("err = %q", dead[0].Err)
	}
}

func TestPublishAllDeliversEachEventOnce(t *testing.T) {
	bus := NewBus(testLogger())

	var seen atomic.Int32
	bus.Subscribe(SubscriberFunc{SubName: "counter", Types: []string{Wildcard}, Fn: func(ctx context.Context, ev domain.Event) error {
		seen.Add(1)
		return nil
	}})

	events := []domain.Event{testEvent("goal.created"), testEvent("goal.progress_updated"), testEvent("goal.completed")}
	bus.PublishAll(context.Background(), events)

	if seen.Load() != 3 {
		t.Fatalf("deliveries = %d, want 3", seen.Load())
	}
}

func TestDrainDeadLetters(t *testing.T) {
	bus := NewBus(testLogger())
	bus.Subscribe(SubscriberFunc{SubName: "bad", Types: []string{Wildcard}, Fn: func(ctx context.Context, ev domain.Event) error {
		return errors.New("nope")
	}})
	bus.Publish(context.Background(), testEvent("goal.created"))

	if got := bus.DrainDeadLetters(); len(got) != 1 {
		t.Fatalf("drained %d, want 1", len(got))
	}
	if got := bus.DeadLetters(); len(got) != 0 {
		t.Fatalf("after drain = %d, want 0", len(got))
	}
}
