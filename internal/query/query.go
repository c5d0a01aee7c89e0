package query

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/perfdesk/eventcore/internal/domain"
)

// DefaultTTL applies when a cacheable query does not set its own TTL.
const DefaultTTL = 5 * time.Minute

// Meta is the request context attached to every query.
type Meta struct {
	TenantID      string `json:"tenant_id"`
	UserID        string `json:"user_id"`
	CorrelationID string `json:"correlation_id"`
}

// Query is a side-effect-free request for state. A non-empty CacheKey makes
// the result eligible for caching with the given TTL.
type Query struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	IssuedAt time.Time      `json:"issued_at"`
	Meta     Meta           `json:"meta"`
	CacheKey string         `json:"cache_key,omitempty"`
	TTL      time.Duration  `json:"ttl,omitempty"`
	Payload  map[string]any `json:"payload"`
}

// New creates a query with a fresh id and the current time.
func New(queryType string, payload map[string]any, meta Meta) Query {
	return Query{
		ID:       uuid.New().String(),
		Type:     queryType,
		IssuedAt: time.Now().UTC(),
		Meta:     meta,
		Payload:  payload,
	}
}

// Cached returns a copy of q with caching enabled.
func (q Query) Cached(key string, ttl time.Duration) Query {
	q.CacheKey = key
	q.TTL = ttl
	return q
}

// Handler resolves one query type.
type Handler func(ctx context.Context, q Query) domain.Result[any]
