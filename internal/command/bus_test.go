package command

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/perfdesk/eventcore/internal/domain"
	"github.com/perfdesk/eventcore/internal/sqlite"
)

func testCmd(cmdType, idemKey string) Command {
	return New(cmdType, map[string]any{"n": 1}, Meta{
		TenantID:       "acme",
		UserID:         "u1",
		CorrelationID:  "c1",
		IdempotencyKey: idemKey,
	})
}

func TestDispatchIdempotency(t *testing.T) {
	bus := NewBus(NewMemoryIdempotencyStore())

	var calls atomic.Int32
	err := bus.Register("goal.create", func(ctx context.Context, cmd Command) domain.Result[any] {
		calls.Add(1)
		return domain.Ok[any]("goal-123")
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	cmd := testCmd("goal.create", "idem-1")
	first := bus.Dispatch(context.Background(), cmd)
	second := bus.Dispatch(context.Background(), cmd)

	if calls.Load() != 1 {
		t.Fatalf("handler invoked %d times, want 1", calls.Load())
	}
	if !first.IsOk() || !second.IsOk() {
		t.Fatalf("results: %q / %q", first.Err(), second.Err())
	}
	if first.Value() != second.Value() {
		t.Fatalf("replay returned %v, original %v", second.Value(), first.Value())
	}
}

func TestDispatchConcurrentSameKey(t *testing.T) {
	bus := NewBus(NewMemoryIdempotencyStore())

	// Each invocation mints a distinct id, so a double execution is visible
	// as divergent results.
	var calls atomic.Int32
	_ = bus.Register("goal.create", func(ctx context.Context, cmd Command) domain.Result[any] {
		n := calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return domain.Ok[any](fmt.Sprintf("goal-%d", n))
	})

	cmd := testCmd("goal.create", "idem-race")
	results := make([]domain.Result[any], 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = bus.Dispatch(context.Background(), cmd)
		}(i)
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("handler invoked %d times, want 1", calls.Load())
	}
	sawOk := false
	for _, res := range results {
		if res.IsOk() {
			sawOk = true
			if res.Value() != "goal-1" {
				t.Fatalf("result = %v, want goal-1", res.Value())
			}
		} else if !strings.Contains(res.Err(), "already in flight") {
			t.Fatalf("loser err = %q", res.Err())
		}
	}
	if !sawOk {
		t.Fatal("no dispatch succeeded")
	}

	// A later retry replays the recorded result without a second execution.
	replay := bus.Dispatch(context.Background(), cmd)
	if !replay.IsOk() || replay.Value() != "goal-1" {
		t.Fatalf("replay = (%v, %q)", replay.Value(), replay.Err())
	}
	if calls.Load() != 1 {
		t.Fatalf("handler invoked %d times after replay, want 1", calls.Load())
	}
}

func idempotencyStores(t *testing.T) map[string]IdempotencyStore {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "kernel.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return map[string]IdempotencyStore{
		"memory": NewMemoryIdempotencyStore(),
		"sqlite": NewSQLiteIdempotencyStore(db),
	}
}

func TestIdempotencyStoreFirstWriterWins(t *testing.T) {
	for name, s := range idempotencyStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if won, err := s.Claim(ctx, "k"); err != nil || !won {
				t.Fatalf("first claim = (%v, %v), want (true, nil)", won, err)
			}
			if won, err := s.Claim(ctx, "k"); err != nil || won {
				t.Fatalf("second claim = (%v, %v), want (false, nil)", won, err)
			}

			// A claimed key has no visible result yet.
			if _, ok, _ := s.Get(ctx, "k"); ok {
				t.Fatal("claimed key must not be visible before Put")
			}

			_ = s.Put(ctx, "k", domain.Ok[any]("first"))
			_ = s.Put(ctx, "k", domain.Ok[any]("second"))
			res, ok, err := s.Get(ctx, "k")
			if err != nil || !ok || res.Value() != "first" {
				t.Fatalf("get = (%v, %v, %v), want first", res.Value(), ok, err)
			}

			// Release never discards a recorded result.
			_ = s.Release(ctx, "k")
			if _, ok, _ := s.Get(ctx, "k"); !ok {
				t.Fatal("recorded result released")
			}

			// A released claim frees the key for a fresh claim.
			_, _ = s.Claim(ctx, "k2")
			_ = s.Release(ctx, "k2")
			if won, _ := s.Claim(ctx, "k2"); !won {
				t.Fatal("released key must be claimable again")
			}
		})
	}
}

func TestDispatchFailureNotRecorded(t *testing.T) {
	bus := NewBus(NewMemoryIdempotencyStore())

	var calls atomic.Int32
	_ = bus.Register("goal.create", func(ctx context.Context, cmd Command) domain.Result[any] {
		if calls.Add(1) == 1 {
			return domain.Fail[any]("transient")
		}
		return domain.Ok[any]("goal-123")
	})

	cmd := testCmd("goal.create", "idem-2")
	if res := bus.Dispatch(context.Background(), cmd); res.IsOk() {
		t.Fatal("first dispatch should fail")
	}
	// A failed dispatch leaves no idempotency record; the retry runs the handler.
	if res := bus.Dispatch(context.Background(), cmd); !res.IsOk() {
		t.Fatalf("retry should succeed, got %q", res.Err())
	}
	if calls.Load() != 2 {
		t.Fatalf("handler invoked %d times, want 2", calls.Load())
	}
}

func TestDispatchUnregisteredType(t *testing.T) {
	bus := NewBus(NewMemoryIdempotencyStore())
	res := bus.Dispatch(context.Background(), testCmd("goal.bogus", "idem-3"))
	if res.IsOk() {
		t.Fatal("dispatch of unregistered type should fail")
	}
	if want := `no handler registered for command type "goal.bogus"`; res.Err() != want {
		t.Fatalf("err = %q, want %q", res.Err(), want)
	}
}

func TestRegisterDuplicateRejected(t *testing.T) {
	bus := NewBus(NewMemoryIdempotencyStore())
	noop := func(ctx context.Context, cmd Command) domain.Result[any] { return domain.Ok[any](nil) }
	if err := bus.Register("goal.create", noop); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := bus.Register("goal.create", noop); err == nil {
		t.Fatal("duplicate register should be rejected")
	}
}

// recordingMiddleware tracks hook invocation order.
type recordingMiddleware struct {
	name   string
	reject bool
	order  *[]string
}

func (m *recordingMiddleware) Name() string { return m.name }

func (m *recordingMiddleware) Before(ctx context.Context, cmd Command) domain.Result[context.Context] {
	*m.order = append(*m.order, "before:"+m.name)
	if m.reject {
		return domain.Fail[context.Context](m.name + " rejected")
	}
	return domain.Ok(ctx)
}

func (m *recordingMiddleware) After(ctx context.Context, cmd Command, res domain.Result[any]) {
	*m.order = append(*m.order, "after:"+m.name)
}

func TestMiddlewareOrdering(t *testing.T) {
	bus := NewBus(NewMemoryIdempotencyStore())
	var order []string
	bus.Use(&recordingMiddleware{name: "a", order: &order})
	bus.Use(&recordingMiddleware{name: "b", order: &order})

	_ = bus.Register("goal.create", func(ctx context.Context, cmd Command) domain.Result[any] {
		order = append(order, "handler")
		return domain.Ok[any](nil)
	})

	if res := bus.Dispatch(context.Background(), testCmd("goal.create", "idem-4")); !res.IsOk() {
		t.Fatalf("dispatch failed: %q", res.Err())
	}

	want := []string{"before:a", "before:b", "handler", "after:b", "after:a"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestMiddlewareRejectionShortCircuits(t *testing.T) {
	bus := NewBus(NewMemoryIdempotencyStore())
	var order []string
	bus.Use(&recordingMiddleware{name: "a", reject: true, order: &order})
	bus.Use(&recordingMiddleware{name: "b", order: &order})

	var calls atomic.Int32
	_ = bus.Register("goal.create", func(ctx context.Context, cmd Command) domain.Result[any] {
		calls.Add(1)
		return domain.Ok[any](nil)
	})

	res := bus.Dispatch(context.Background(), testCmd("goal.create", "idem-5"))
	if res.IsOk() || res.Err() != "a rejected" {
		t.Fatalf("expected middleware rejection, got (%v, %q)", res.IsOk(), res.Err())
	}
	if calls.Load() != 0 {
		t.Fatal("handler must not run after middleware rejection")
	}
	if len(order) != 1 || order[0] != "before:a" {
		t.Fatalf("order = %v, want [before:a]", order)
	}
}

func TestMetadataMiddleware(t *testing.T) {
	bus := NewBus(NewMemoryIdempotencyStore())
	bus.Use(MetadataMiddleware{})
	_ = bus.Register("goal.create", func(ctx context.Context, cmd Command) domain.Result[any] {
		return domain.Ok[any](nil)
	})

	cmd := New("goal.create", nil, Meta{TenantID: "acme", UserID: "u1", CorrelationID: "c1"})
	if res := bus.Dispatch(context.Background(), cmd); res.IsOk() {
		t.Fatal("command without idempotency key should be rejected")
	}
}
