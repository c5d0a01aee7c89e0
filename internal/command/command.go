package command

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/perfdesk/eventcore/internal/domain"
)

// Meta is the request context attached to every command. All fields are
// opaque strings to the kernel; the idempotency key makes retried requests
// observably produce at most one effect.
type Meta struct {
	TenantID       string `json:"tenant_id"`
	UserID         string `json:"user_id"`
	CorrelationID  string `json:"correlation_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Command is a request intended to change state.
type Command struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	IssuedAt time.Time      `json:"issued_at"`
	Meta     Meta           `json:"meta"`
	Payload  map[string]any `json:"payload"`
}

// New creates a command with a fresh id and the current time.
func New(cmdType string, payload map[string]any, meta Meta) Command {
	return Command{
		ID:       uuid.New().String(),
		Type:     cmdType,
		IssuedAt: time.Now().UTC(),
		Meta:     meta,
		Payload:  payload,
	}
}

// Handler processes one command type. Expected business failures come back as
// the Result failure case, never as an error panic.
type Handler func(ctx context.Context, cmd Command) domain.Result[any]

// Middleware wraps dispatch. Before hooks run in registration order and may
// replace the context; the first failure short-circuits the dispatch. After
// hooks run in reverse order on success, best-effort.
type Middleware interface {
	Name() string
	Before(ctx context.Context, cmd Command) domain.Result[context.Context]
	After(ctx context.Context, cmd Command, res domain.Result[any])
}
