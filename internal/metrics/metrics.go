package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventcore_commands_dispatched_total",
		Help: "Total number of commands dispatched, labelled by type and status.",
	}, []string{"command_type", "status"})

	CommandIdempotentReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventcore_command_idempotent_replays_total",
		Help: "Total number of dispatches answered from the idempotency store.",
	})

	QueriesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventcore_queries_dispatched_total",
		Help: "Total number of queries dispatched, labelled by type.",
	}, []string{"query_type"})

	QueryCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventcore_query_cache_hits_total",
		Help: "Total number of query results served from the cache.",
	})

	QueryCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventcore_query_cache_misses_total",
		Help: "Total number of query cache lookups that missed.",
	})

	EventsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventcore_events_appended_total",
		Help: "Total number of events appended to the event store.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventcore_events_published_total",
		Help: "Total number of events fanned out on the event bus, labelled by type.",
	}, []string{"event_type"})

	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventcore_dead_letters_total",
		Help: "Total number of subscriber failures captured as dead letters.",
	})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventcore_outbox_published_total",
		Help: "Published outbox messages, labelled by event type.",
	}, []string{"event_type"})

	OutboxFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventcore_outbox_failed_total",
		Help: "Failed outbox publish attempts, labelled by event type.",
	}, []string{"event_type"})

	OutboxDead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventcore_outbox_dead_total",
		Help: "Outbox messages that exhausted their retry budget, labelled by event type.",
	}, []string{"event_type"})

	OutboxLagSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventcore_outbox_lag_seconds",
		Help: "Age in seconds of the oldest pending outbox message.",
	})

	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventcore_command_dispatch_duration_ms",
		Help:    "End-to-end command dispatch latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})
)
