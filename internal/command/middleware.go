package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/perfdesk/eventcore/internal/domain"
)

// LoggingMiddleware logs every dispatch with its outcome and duration.
type LoggingMiddleware struct {
	log *slog.Logger
}

// NewLoggingMiddleware creates a logging middleware.
func NewLoggingMiddleware(log *slog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{log: log}
}

type startedAtKey struct{}

// Name identifies the middleware.
func (m *LoggingMiddleware) Name() string { return "logging" }

// Before stamps the dispatch start time into the context.
func (m *LoggingMiddleware) Before(ctx context.Context, cmd Command) domain.Result[context.Context] {
	m.log.Info("command_dispatch",
		slog.String("type", cmd.Type),
		slog.String("tenant_id", cmd.Meta.TenantID),
		slog.String("correlation_id", cmd.Meta.CorrelationID),
	)
	return domain.Ok(context.WithValue(ctx, startedAtKey{}, time.Now()))
}

// After logs the outcome.
func (m *LoggingMiddleware) After(ctx context.Context, cmd Command, res domain.Result[any]) {
	var elapsed time.Duration
	if started, ok := ctx.Value(startedAtKey{}).(time.Time); ok {
		elapsed = time.Since(started)
	}
	m.log.Info("command_done",
		slog.String("type", cmd.Type),
		slog.Bool("ok", res.IsOk()),
		slog.Duration("elapsed", elapsed),
	)
}

// MetadataMiddleware rejects commands missing required request metadata
// before they reach a handler.
type MetadataMiddleware struct{}

// Name identifies the middleware.
func (MetadataMiddleware) Name() string { return "metadata" }

// Before validates the required metadata fields.
func (MetadataMiddleware) Before(ctx context.Context, cmd Command) domain.Result[context.Context] {
	switch {
	case cmd.Meta.TenantID == "":
		return domain.Fail[context.Context]("command metadata: tenant id is required")
	case cmd.Meta.UserID == "":
		return domain.Fail[context.Context]("command metadata: user id is required")
	case cmd.Meta.CorrelationID == "":
		return domain.Fail[context.Context]("command metadata: correlation id is required")
	case cmd.Meta.IdempotencyKey == "":
		return domain.Fail[context.Context]("command metadata: idempotency key is required")
	}
	return domain.Ok(ctx)
}

// After is a no-op.
func (MetadataMiddleware) After(context.Context, Command, domain.Result[any]) {}
