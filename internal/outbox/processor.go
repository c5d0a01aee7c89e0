package outbox

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/perfdesk/eventcore/internal/config"
	"github.com/perfdesk/eventcore/internal/domain"
	"github.com/perfdesk/eventcore/internal/eventbus"
	"github.com/perfdesk/eventcore/internal/metrics"
)

// Publisher delivers one event downstream of the outbox.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// BusPublisher adapts the in-process event bus. Subscriber failures are
// already isolated into the bus's dead-letter list, so a publish attempt
// only fails when the context is gone.
type BusPublisher struct {
	Bus *eventbus.Bus
}

// Publish implements Publisher.
func (p BusPublisher) Publish(ctx context.Context, ev domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Bus.Publish(ctx, ev)
	return nil
}

// Settings are the processor tunables. They hot-swap via SwapSettings, so a
// config reload takes effect on the next polling cycle.
type Settings struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
}

func (s Settings) withDefaults() Settings {
	if s.PollInterval <= 0 {
		s.PollInterval = 5 * time.Second
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 50
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = 3
	}
	return s
}

// SettingsFromConfig converts the YAML outbox tunables.
func SettingsFromConfig(c config.OutboxConf) Settings {
	return Settings{
		PollInterval: time.Duration(c.PollIntervalMs) * time.Millisecond,
		BatchSize:    c.BatchSize,
		MaxRetries:   c.MaxRetries,
	}
}

// Processor drains staged messages to the event bus on a fixed poll
// interval. Delivery is at-least-once: subscribers must tolerate duplicates.
type Processor struct {
	store     Store
	publisher Publisher
	log       *slog.Logger
	settings  atomic.Pointer[Settings]

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewProcessor creates a stopped processor.
func NewProcessor(store Store, publisher Publisher, log *slog.Logger, settings Settings) *Processor {
	p := &Processor{store: store, publisher: publisher, log: log}
	s := settings.withDefaults()
	p.settings.Store(&s)
	return p
}

// SwapSettings atomically replaces the tunables (used on config hot-reload).
func (p *Processor) SwapSettings(settings Settings) {
	s := settings.withDefaults()
	p.settings.Store(&s)
}

// Start launches the background polling loop. Starting a running processor
// is a no-op.
func (p *Processor) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx)
	p.log.Info("outbox_processor_start",
		slog.String("poll_interval", p.settings.Load().PollInterval.String()),
		slog.Int("batch_size", p.settings.Load().BatchSize),
	)
}

// Stop cancels the loop and waits for any in-flight batch to finish.
// Stopping a stopped processor is a no-op.
func (p *Processor) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.cancel()
	<-p.done
	p.log.Info("outbox_processor_stop")
}

func (p *Processor) loop(ctx context.Context) {
	defer close(p.done)

	// Stop cancels ctx to end polling, not to abort deliveries: the batch
	// already claimed must finish and record its outcomes under a context
	// that survives the cancellation.
	drainCtx := context.WithoutCancel(ctx)

	interval := p.settings.Load().PollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.DrainOnce(drainCtx)
			if next := p.settings.Load().PollInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// DrainOnce runs a single polling cycle: claim up to a batch of deliverable
// messages in creation order, publish each, and record the outcome.
func (p *Processor) DrainOnce(ctx context.Context) {
	st := *p.settings.Load()

	msgs, err := p.store.Pending(ctx, st.BatchSize, st.MaxRetries)
	if err != nil {
		p.log.Error("outbox_claim_failed", slog.String("err", err.Error()))
		return
	}

	for _, msg := range msgs {
		if err := p.publisher.Publish(ctx, msg.Event()); err != nil {
			metrics.OutboxFailed.WithLabelValues(msg.EventType).Inc()
			if markErr := p.store.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
				p.log.Error("outbox_mark_failed_error", slog.String("id", msg.ID), slog.String("err", markErr.Error()))
				continue
			}
			if msg.RetryCount+1 >= st.MaxRetries {
				metrics.OutboxDead.WithLabelValues(msg.EventType).Inc()
				p.log.Error("outbox_retries_exhausted",
					slog.String("id", msg.ID),
					slog.String("event_type", msg.EventType),
					slog.Int("retry_count", msg.RetryCount+1),
					slog.String("err", err.Error()),
				)
			} else {
				p.log.Warn("outbox_publish_failed",
					slog.String("id", msg.ID),
					slog.String("event_type", msg.EventType),
					slog.Int("retry_count", msg.RetryCount+1),
					slog.String("err", err.Error()),
				)
			}
			continue
		}
		if err := p.store.MarkProcessed(ctx, msg.ID); err != nil {
			// The event went out but the mark failed; the next cycle will
			// redeliver. At-least-once, not exactly-once.
			p.log.Error("outbox_mark_processed_error", slog.String("id", msg.ID), slog.String("err", err.Error()))
			continue
		}
		metrics.OutboxPublished.WithLabelValues(msg.EventType).Inc()
	}

	if age, ok, err := p.store.OldestPendingAge(ctx, st.MaxRetries); err == nil {
		if ok {
			metrics.OutboxLagSeconds.Set(age.Seconds())
		} else {
			metrics.OutboxLagSeconds.Set(0)
		}
	}
}

// RetryFailed resets every failed message to pending with a fresh retry
// budget. Operator-facing escape hatch for exhausted messages.
func (p *Processor) RetryFailed(ctx context.Context) (int, error) {
	n, err := p.store.RetryFailed(ctx)
	if err == nil && n > 0 {
		p.log.Info("outbox_retry_failed", slog.Int("count", n))
	}
	return n, err
}
