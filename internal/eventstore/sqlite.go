package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/perfdesk/eventcore/internal/domain"
	"github.com/perfdesk/eventcore/internal/metrics"
)

// SQLiteStore is the durable event log. Appends run in a transaction that
// re-reads the stream head, so the expected-version check and the insert are
// a single atomic step.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database. The schema is owned by the sqlite
// package.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, streamID string, events []domain.Event, expectedVersion int) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append %s: begin: %w", streamID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := AppendTx(ctx, tx, streamID, events, expectedVersion); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append %s: commit: %w", streamID, err)
	}
	metrics.EventsAppended.Add(float64(len(events)))
	return nil
}

// AppendTx appends within the caller's transaction so event persistence can
// commit atomically with the aggregate's state change and outbox staging.
func AppendTx(ctx context.Context, tx *sql.Tx, streamID string, events []domain.Event, expectedVersion int) error {
	var current int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_id = ?`, streamID,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("append %s: head: %w", streamID, err)
	}
	if current != expectedVersion {
		return &ConflictError{StreamID: streamID, Expected: expectedVersion, Actual: current}
	}

	const q = `INSERT INTO events (stream_id, version, event_id, event_type, payload, metadata, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	for i, ev := range events {
		version := expectedVersion + i + 1
		ev.Metadata.Version = version
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("append %s: encode payload: %w", streamID, err)
		}
		meta, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("append %s: encode metadata: %w", streamID, err)
		}
		if _, err := tx.ExecContext(ctx, q,
			streamID, version, ev.ID, ev.Type, payload, meta,
			ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("append %s v%d: %w", streamID, version, err)
		}
	}
	return nil
}

// Events implements Store.
func (s *SQLiteStore) Events(ctx context.Context, streamID string, fromVersion, toVersion int) ([]domain.Event, error) {
	if fromVersion <= 0 {
		fromVersion = 1
	}
	q := `SELECT event_id, event_type, payload, metadata, occurred_at, version
		FROM events WHERE stream_id = ? AND version >= ?`
	args := []any{streamID, fromVersion}
	if toVersion > 0 {
		q += ` AND version <= ?`
		args = append(args, toVersion)
	}
	q += ` ORDER BY version`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("events %s: %w", streamID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Event
	for rows.Next() {
		var (
			ev         domain.Event
			payload    []byte
			meta       []byte
			occurredAt string
			version    int
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &payload, &meta, &occurredAt, &version); err != nil {
			return nil, fmt.Errorf("events %s: scan: %w", streamID, err)
		}
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("events %s: decode payload: %w", streamID, err)
		}
		if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("events %s: decode metadata: %w", streamID, err)
		}
		ev.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("events %s: decode occurred_at: %w", streamID, err)
		}
		ev.AggregateID = streamID
		ev.Metadata.Version = version
		out = append(out, ev)
	}
	return out, rows.Err()
}

// AllEvents implements Store. Insertion order approximates global append
// order; concurrent appenders to different streams are not totally ordered
// and projections must not depend on cross-stream ordering.
func (s *SQLiteStore) AllEvents(ctx context.Context) ([]domain.Event, error) {
	const q = `SELECT stream_id, event_id, event_type, payload, metadata, occurred_at, version
		FROM events ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("all events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Event
	for rows.Next() {
		var (
			ev         domain.Event
			payload    []byte
			meta       []byte
			occurredAt string
			version    int
		)
		if err := rows.Scan(&ev.AggregateID, &ev.ID, &ev.Type, &payload, &meta, &occurredAt, &version); err != nil {
			return nil, fmt.Errorf("all events: scan: %w", err)
		}
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("all events: decode payload: %w", err)
		}
		if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("all events: decode metadata: %w", err)
		}
		ev.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("all events: decode occurred_at: %w", err)
		}
		ev.Metadata.Version = version
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Snapshot implements Store.
func (s *SQLiteStore) Snapshot(ctx context.Context, streamID string) (Snapshot, bool, error) {
	const q = `SELECT version, state, taken_at FROM snapshots WHERE stream_id = ?`
	var (
		snap    Snapshot
		takenAt string
	)
	err := s.db.QueryRowContext(ctx, q, streamID).Scan(&snap.Version, (*[]byte)(&snap.State), &takenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshot %s: %w", streamID, err)
	}
	snap.StreamID = streamID
	snap.TakenAt, err = time.Parse(time.RFC3339Nano, takenAt)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshot %s: decode taken_at: %w", streamID, err)
	}
	return snap, true, nil
}

// SaveSnapshot implements Store.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	const q = `INSERT INTO snapshots (stream_id, version, state, taken_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (stream_id) DO UPDATE SET version = excluded.version,
			state = excluded.state, taken_at = excluded.taken_at`
	_, err := s.db.ExecContext(ctx, q,
		snap.StreamID, snap.Version, []byte(snap.State),
		snap.TakenAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.StreamID, err)
	}
	return nil
}
