package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/perfdesk/eventcore/internal/domain"
	"github.com/perfdesk/eventcore/internal/metrics"
)

// Wildcard subscribes a subscriber to every event type.
const Wildcard = "*"

// Subscriber reacts to published domain events. Handlers must be idempotent:
// the outbox is an at-least-once delivery design and duplicates will happen.
type Subscriber interface {
	Name() string
	// EventTypes returns the types of interest, or [Wildcard] for all.
	EventTypes() []string
	Handle(ctx context.Context, ev domain.Event) error
}

// DeadLetter records one isolated subscriber failure.
type DeadLetter struct {
	Event      domain.Event
	Subscriber string
	Err        string
	OccurredAt time.Time
}

// Bus fans events out to in-process subscribers. A subscriber failure is
// captured as a dead letter and never aborts sibling subscribers or the
// publish call.
type Bus struct {
	mu   sync.RWMutex
	subs []Subscriber
	dead []DeadLetter
	log  *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(log *slog.Logger) *Bus {
	return &Bus{log: log}
}

// Subscribe registers a subscriber. Call during wiring; subscriptions taken
// after publishing starts only see subsequent events.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

// Publish invokes every matching subscriber concurrently and returns once all
// have finished or failed. Panics and errors become dead letters.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) {
	b.mu.RLock()
	matching := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if matches(s, ev.Type) {
			matching = append(matching, s)
		}
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range matching {
		wg.Add(1)
		go func(s Subscriber) {
			defer wg.Done()
			b.deliver(ctx, s, ev)
		}(s)
	}
	wg.Wait()
	metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
}

// PublishAll publishes each event in turn. Each event's subscriber set
// observes that event exactly once; no ordering is guaranteed between the
// subscriber sets of different events.
func (b *Bus) PublishAll(ctx context.Context, events []domain.Event) {
	for _, ev := range events {
		b.Publish(ctx, ev)
	}
}

// DeadLetters returns a snapshot of captured subscriber failures.
func (b *Bus) DeadLetters() []DeadLetter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]DeadLetter, len(b.dead))
	copy(out, b.dead)
	return out
}

// DrainDeadLetters returns and clears the captured failures.
func (b *Bus) DrainDeadLetters() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.dead
	b.dead = nil
	return out
}

func (b *Bus) deliver(ctx context.Context, s Subscriber, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.record(s, ev, fmt.Sprintf("panic: %v", r))
		}
	}()
	if err := s.Handle(ctx, ev); err != nil {
		b.record(s, ev, err.Error())
	}
}

func (b *Bus) record(s Subscriber, ev domain.Event, msg string) {
	b.mu.Lock()
	b.dead = append(b.dead, DeadLetter{
		Event:      ev,
		Subscriber: s.Name(),
		Err:        msg,
		OccurredAt: time.Now().UTC(),
	})
	b.mu.Unlock()
	metrics.DeadLetters.Inc()
	b.log.Error("subscriber_failed",
		slog.String("subscriber", s.Name()),
		slog.String("event_type", ev.Type),
		slog.String("event_id", ev.ID),
		slog.String("err", msg),
	)
}

func matches(s Subscriber, eventType string) bool {
	for _, t := range s.EventTypes() {
		if t == Wildcard || t == eventType {
			return true
		}
	}
	return false
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc struct {
	SubName string
	Types   []string
	Fn      func(ctx context.Context, ev domain.Event) error
}

// Name identifies the subscriber.
func (s SubscriberFunc) Name() string { return s.SubName }

// EventTypes returns the subscribed types.
func (s SubscriberFunc) EventTypes() []string { return s.Types }

// Handle invokes the wrapped function.
func (s SubscriberFunc) Handle(ctx context.Context, ev domain.Event) error { return s.Fn(ctx, ev) }
