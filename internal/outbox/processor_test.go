package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/perfdesk/eventcore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stagedMessage(t *testing.T, store Store, eventType string) Message {
	t.Helper()
	ev := domain.NewEvent("goal-1", eventType, map[string]any{"title": "Ship v2"}, domain.Metadata{
		TenantID: "acme", UserID: "u1", CorrelationID: "c1",
	})
	msg := FromEvent(ev, "goal")
	if err := store.Store(context.Background(), msg); err != nil {
		t.Fatalf("stage: %v", err)
	}
	return msg
}

// publisherFunc adapts a function to Publisher.
type publisherFunc func(ctx context.Context, ev domain.Event) error

func (f publisherFunc) Publish(ctx context.Context, ev domain.Event) error { return f(ctx, ev) }

func TestDrainOncePublishesAndMarksProcessed(t *testing.T) {
	store := NewMemoryStore()
	msg := stagedMessage(t, store, "goal.created")

	var published []domain.Event
	p := NewProcessor(store, publisherFunc(func(ctx context.Context, ev domain.Event) error {
		published = append(published, ev)
		return nil
	}), testLogger(), Settings{})

	p.DrainOnce(context.Background())

	if len(published) != 1 {
		t.Fatalf("published %d events, want 1", len(published))
	}
	// The staged event reconstructs losslessly, including its timestamp.
	ev := published[0]
	if ev.ID != msg.ID || ev.Type != "goal.created" || !ev.OccurredAt.Equal(msg.OccurredAt) {
		t.Fatalf("published event = %+v", ev)
	}
	if got, _ := store.Get(msg.ID); got.Status != StatusProcessed {
		t.Fatalf("status = %s, want processed", got.Status)
	}

	// A processed message is never redelivered.
	p.DrainOnce(context.Background())
	if len(published) != 1 {
		t.Fatalf("redelivered a processed message (%d publishes)", len(published))
	}
}

func TestDrainOnceRetriesThenExhausts(t *testing.T) {
	store := NewMemoryStore()
	msg := stagedMessage(t, store, "goal.created")

	var attempts atomic.Int32
	p := NewProcessor(store, publisherFunc(func(ctx context.Context, ev domain.Event) error {
		attempts.Add(1)
		return errors.New("broker unavailable")
	}), testLogger(), Settings{MaxRetries: 3})

	for i := 0; i < 5; i++ {
		p.DrainOnce(context.Background())
	}

	// Three attempts, then the message is exhausted and no longer claimed.
	if attempts.Load() != 3 {
		t.Fatalf("publish attempts = %d, want 3", attempts.Load())
	}
	got, _ := store.Get(msg.ID)
	if got.Status != StatusFailed || got.RetryCount != 3 || got.LastError != "broker unavailable" {
		t.Fatalf("message = %+v", got)
	}

	exhausted, err := store.Exhausted(context.Background(), 3)
	if err != nil || len(exhausted) != 1 {
		t.Fatalf("exhausted = %d (%v), want 1", len(exhausted), err)
	}

	// RetryFailed puts it back in play with a fresh budget.
	n, err := p.RetryFailed(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("retry failed = %d (%v), want 1", n, err)
	}
	p.DrainOnce(context.Background())
	if attempts.Load() != 4 {
		t.Fatalf("publish attempts after reset = %d, want 4", attempts.Load())
	}
}

func TestDrainOnceFailureIsolation(t *testing.T) {
	store := NewMemoryStore()
	bad := stagedMessage(t, store, "goal.created")
	time.Sleep(time.Millisecond) // distinct CreatedAt ordering
	good := stagedMessage(t, store, "goal.completed")

	p := NewProcessor(store, publisherFunc(func(ctx context.Context, ev domain.Event) error {
		if ev.ID == bad.ID {
			return errors.New("poison message")
		}
		return nil
	}), testLogger(), Settings{MaxRetries: 2})

	p.DrainOnce(context.Background())

	if got, _ := store.Get(bad.ID); got.Status != StatusFailed {
		t.Fatalf("bad message status = %s, want failed", got.Status)
	}
	// The failure did not block the rest of the batch.
	if got, _ := store.Get(good.ID); got.Status != StatusProcessed {
		t.Fatalf("good message status = %s, want processed", got.Status)
	}
}

func TestStartTwiceIsNoOp(t *testing.T) {
	store := NewMemoryStore()
	var publishes atomic.Int32
	p := NewProcessor(store, publisherFunc(func(ctx context.Context, ev domain.Event) error {
		publishes.Add(1)
		return nil
	}), testLogger(), Settings{PollInterval: 10 * time.Millisecond})

	ctx := context.Background()
	p.Start(ctx)
	p.Start(ctx) // must not spawn a second loop

	stagedMessage(t, store, "goal.created")
	deadline := time.Now().Add(2 * time.Second)
	for publishes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
	p.Stop() // stopping a stopped processor is a no-op too

	if publishes.Load() != 1 {
		t.Fatalf("publishes = %d, want exactly 1", publishes.Load())
	}
}

func TestStopWaitsForInFlightBatch(t *testing.T) {
	store := NewMemoryStore()
	msg := stagedMessage(t, store, "goal.created")

	entered := make(chan struct{})
	p := NewProcessor(store, publisherFunc(func(ctx context.Context, ev domain.Event) error {
		close(entered)
		time.Sleep(50 * time.Millisecond)
		return nil
	}), testLogger(), Settings{PollInterval: 10 * time.Millisecond})

	p.Start(context.Background())
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher never entered")
	}
	p.Stop()

	// Stop returned only after the in-flight publish and mark completed.
	if got, _ := store.Get(msg.ID); got.Status != StatusProcessed {
		t.Fatalf("status after Stop = %s, want processed", got.Status)
	}
}

func TestStopDoesNotFailInFlightBatch(t *testing.T) {
	store := NewMemoryStore()
	first := stagedMessage(t, store, "goal.created")
	time.Sleep(time.Millisecond) // distinct CreatedAt ordering
	second := stagedMessage(t, store, "goal.completed")

	// The publisher refuses a dead context, like BusPublisher does. The first
	// message blocks until Stop has been called, so the rest of the batch is
	// delivered while shutdown is underway.
	entered := make(chan struct{})
	release := make(chan struct{})
	p := NewProcessor(store, publisherFunc(func(ctx context.Context, ev domain.Event) error {
		if ev.ID == first.ID {
			close(entered)
			<-release
		}
		return ctx.Err()
	}), testLogger(), Settings{PollInterval: 10 * time.Millisecond})

	p.Start(context.Background())
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher never entered")
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond) // let Stop cancel the polling context
	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop never returned")
	}

	// Shutdown drained the whole batch; no message burned a retry on a
	// cancelled context.
	for _, id := range []string{first.ID, second.ID} {
		got, _ := store.Get(id)
		if got.Status != StatusProcessed || got.RetryCount != 0 {
			t.Fatalf("message %s = status %s retry %d (%q), want processed", id, got.Status, got.RetryCount, got.LastError)
		}
	}
}

func TestSwapSettingsTakesEffect(t *testing.T) {
	store := NewMemoryStore()
	var attempts atomic.Int32
	p := NewProcessor(store, publisherFunc(func(ctx context.Context, ev domain.Event) error {
		attempts.Add(1)
		return errors.New("down")
	}), testLogger(), Settings{MaxRetries: 1})

	msg := stagedMessage(t, store, "goal.created")
	p.DrainOnce(context.Background())
	p.DrainOnce(context.Background())
	if attempts.Load() != 1 {
		t.Fatalf("attempts under budget 1 = %d, want 1", attempts.Load())
	}

	// Raising the budget makes the failed message deliverable again.
	p.SwapSettings(Settings{MaxRetries: 3})
	p.DrainOnce(context.Background())
	if attempts.Load() != 2 {
		t.Fatalf("attempts after budget raise = %d, want 2", attempts.Load())
	}
	if got, _ := store.Get(msg.ID); got.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", got.RetryCount)
	}
}
