package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/perfdesk/eventcore/internal/domain"
)

// ConflictError reports an optimistic-concurrency failure on append: the
// stream had moved past the version the writer assumed.
type ConflictError struct {
	StreamID string
	Expected int
	Actual   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %s: expected version %d, actual %d",
		e.StreamID, e.Expected, e.Actual)
}

// Snapshot is a point-in-time aggregate state used to avoid full replays.
// Purely an optimization; correctness must hold without it.
type Snapshot struct {
	StreamID string          `json:"stream_id"`
	Version  int             `json:"version"`
	State    json.RawMessage `json:"state"`
	TakenAt  time.Time       `json:"taken_at"`
}

// Store is the append-only, per-stream event log. Append is the one
// compare-and-swap-style operation the kernel exposes: it succeeds only when
// the stream's current version equals expectedVersion, and appends nothing on
// mismatch.
type Store interface {
	// Append writes events at versions expectedVersion+1..expectedVersion+len.
	Append(ctx context.Context, streamID string, events []domain.Event, expectedVersion int) error

	// Events returns the slice [fromVersion, toVersion] in append order.
	// Bounds <= 0 default to the start and end of the stream respectively.
	Events(ctx context.Context, streamID string, fromVersion, toVersion int) ([]domain.Event, error)

	// AllEvents returns every stored event across all streams in global
	// append order, for projection replay.
	AllEvents(ctx context.Context) ([]domain.Event, error)

	// Snapshot returns the latest snapshot for the stream, if one exists.
	Snapshot(ctx context.Context, streamID string) (Snapshot, bool, error)

	// SaveSnapshot stores snap, replacing any previous snapshot for the stream.
	SaveSnapshot(ctx context.Context, snap Snapshot) error
}
