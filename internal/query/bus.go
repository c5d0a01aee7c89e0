package query

import (
	"context"
	"fmt"
	"sync"

	"github.com/perfdesk/eventcore/internal/domain"
	"github.com/perfdesk/eventcore/internal/metrics"
)

// Bus routes queries to handlers and caches results by explicit cache key.
// It is safe for concurrent dispatch.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	cache    *Cache
}

// NewBus creates a Bus with its own cache.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string]Handler), cache: NewCache()}
}

// Register binds a handler to a query type, rejecting duplicates.
func (b *Bus) Register(queryType string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[queryType]; exists {
		return fmt.Errorf("query bus: handler already registered for type %q", queryType)
	}
	b.handlers[queryType] = h
	return nil
}

// Dispatch resolves q, serving from the cache when the query carries a cache
// key and a live entry exists. Only successes are cached.
func (b *Bus) Dispatch(ctx context.Context, q Query) domain.Result[any] {
	metrics.QueriesDispatched.WithLabelValues(q.Type).Inc()

	if q.CacheKey != "" {
		if v, ok := b.cache.Get(q.CacheKey); ok {
			metrics.QueryCacheHits.Inc()
			return domain.Ok(v)
		}
		metrics.QueryCacheMisses.Inc()
	}

	b.mu.RLock()
	handler, ok := b.handlers[q.Type]
	b.mu.RUnlock()
	if !ok {
		return domain.Failf[any]("no handler registered for query type %q", q.Type)
	}

	res := handler(ctx, q)
	if res.IsOk() && q.CacheKey != "" {
		ttl := q.TTL
		if ttl <= 0 {
			ttl = DefaultTTL
		}
		b.cache.Set(q.CacheKey, res.Value(), ttl)
	}
	return res
}

// Invalidate evicts one cache key.
func (b *Bus) Invalidate(key string) {
	b.cache.Invalidate(key)
}

// InvalidatePattern evicts all cache keys matching pattern (* wildcard).
func (b *Bus) InvalidatePattern(pattern string) (int, error) {
	return b.cache.InvalidatePattern(pattern)
}
