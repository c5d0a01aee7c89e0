package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/perfdesk/eventcore/internal/domain"
	"github.com/perfdesk/eventcore/internal/metrics"
)

// Bus routes each command to exactly one registered handler, enforces
// idempotency, and runs the middleware pipeline around the handler.
// It is safe for concurrent dispatch.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[string]Handler
	middlewares []Middleware
	idempotency IdempotencyStore
}

// NewBus creates a Bus backed by the given idempotency store.
func NewBus(idempotency IdempotencyStore) *Bus {
	return &Bus{
		handlers:    make(map[string]Handler),
		idempotency: idempotency,
	}
}

// Register binds a handler to a command type. Duplicate registration is a
// configuration error and is rejected rather than silently overwritten.
func (b *Bus) Register(cmdType string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[cmdType]; exists {
		return fmt.Errorf("command bus: handler already registered for type %q", cmdType)
	}
	b.handlers[cmdType] = h
	return nil
}

// Use appends a middleware to the pipeline. Call during wiring, before the
// first dispatch.
func (b *Bus) Use(m Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, m)
}

// Dispatch routes cmd to its handler. Replays with a previously seen
// idempotency key return the recorded result verbatim without re-invoking
// the handler. The key is claimed before the handler runs, so concurrent
// dispatches sharing a key invoke the handler exactly once.
func (b *Bus) Dispatch(ctx context.Context, cmd Command) domain.Result[any] {
	start := time.Now()
	key := cmd.Meta.IdempotencyKey

	if key != "" {
		if prev, ok, err := b.idempotency.Get(ctx, key); err != nil {
			return domain.Failf[any]("idempotency lookup: %s", err)
		} else if ok {
			metrics.CommandIdempotentReplays.Inc()
			metrics.CommandsDispatched.WithLabelValues(cmd.Type, "replayed").Inc()
			return prev
		}
	}

	b.mu.RLock()
	handler, ok := b.handlers[cmd.Type]
	mws := make([]Middleware, len(b.middlewares))
	copy(mws, b.middlewares)
	b.mu.RUnlock()

	if !ok {
		metrics.CommandsDispatched.WithLabelValues(cmd.Type, "unhandled").Inc()
		return domain.Failf[any]("no handler registered for command type %q", cmd.Type)
	}

	claimed := false
	if key != "" {
		won, err := b.idempotency.Claim(ctx, key)
		if err != nil {
			return domain.Failf[any]("idempotency claim: %s", err)
		}
		if !won {
			// Lost the race. If the winner already recorded, replay that
			// result; otherwise the caller retries once the winner finishes.
			if prev, ok, err := b.idempotency.Get(ctx, key); err == nil && ok {
				metrics.CommandIdempotentReplays.Inc()
				metrics.CommandsDispatched.WithLabelValues(cmd.Type, "replayed").Inc()
				return prev
			}
			metrics.CommandsDispatched.WithLabelValues(cmd.Type, "in_flight").Inc()
			return domain.Failf[any]("command with idempotency key %q is already in flight", key)
		}
		claimed = true
	}

	// Before hooks run in registration order and short-circuit on failure.
	for _, mw := range mws {
		hooked := mw.Before(ctx, cmd)
		if hooked.IsErr() {
			if claimed {
				_ = b.idempotency.Release(ctx, key)
			}
			metrics.CommandsDispatched.WithLabelValues(cmd.Type, "rejected").Inc()
			return domain.FailWithDetail[any](hooked.Err(), hooked.Detail())
		}
		ctx = hooked.Value()
	}

	res := handler(ctx, cmd)

	if claimed {
		if res.IsOk() {
			if err := b.idempotency.Put(ctx, key, res); err != nil {
				return domain.Failf[any]("idempotency record: %s", err)
			}
		} else {
			// Only successes are recorded; free the key so a retry can run.
			_ = b.idempotency.Release(ctx, key)
		}
	}

	if res.IsOk() {
		// After hooks run in reverse order, best-effort: a failing hook does
		// not invalidate the already-recorded success.
		for i := len(mws) - 1; i >= 0; i-- {
			mws[i].After(ctx, cmd, res)
		}
		metrics.CommandsDispatched.WithLabelValues(cmd.Type, "success").Inc()
	} else {
		metrics.CommandsDispatched.WithLabelValues(cmd.Type, "failure").Inc()
	}
	metrics.DispatchDuration.Observe(float64(time.Since(start).Milliseconds()))

	return res
}
