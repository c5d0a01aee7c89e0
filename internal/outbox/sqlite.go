package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/perfdesk/eventcore/internal/domain"
)

// SQLiteStore is the durable outbox. StoreAllTx lets a repository stage
// messages inside the same transaction that persists the aggregate, which is
// the pattern's core correctness property: both commit or roll back together.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database. The schema is owned by the sqlite
// package.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Store implements Store.
func (s *SQLiteStore) Store(ctx context.Context, msg Message) error {
	return s.StoreAll(ctx, []Message{msg})
}

// StoreAll implements Store.
func (s *SQLiteStore) StoreAll(ctx context.Context, msgs []Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("outbox store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := StoreAllTx(ctx, tx, msgs); err != nil {
		return err
	}
	return tx.Commit()
}

// StoreAllTx stages msgs as pending within the caller's transaction.
func StoreAllTx(ctx context.Context, tx *sql.Tx, msgs []Message) error {
	const q = `INSERT INTO outbox (id, aggregate_id, aggregate_type, event_type, payload, metadata, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending')`
	for _, msg := range msgs {
		payload, err := json.Marshal(msg.Payload)
		if err != nil {
			return fmt.Errorf("outbox store %s: encode payload: %w", msg.ID, err)
		}
		meta, err := json.Marshal(stagedMeta{Metadata: msg.Metadata, OccurredAt: msg.OccurredAt})
		if err != nil {
			return fmt.Errorf("outbox store %s: encode metadata: %w", msg.ID, err)
		}
		if _, err := tx.ExecContext(ctx, q,
			msg.ID, msg.AggregateID, msg.AggregateType, msg.EventType,
			payload, meta, msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("outbox store %s: %w", msg.ID, err)
		}
	}
	return nil
}

// stagedMeta rides in the metadata column so the original event, including
// its occurrence timestamp, reconstructs losslessly.
type stagedMeta struct {
	Metadata   domain.Metadata `json:"metadata"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Pending implements Store.
func (s *SQLiteStore) Pending(ctx context.Context, limit, maxRetries int) ([]Message, error) {
	const q = `SELECT id, aggregate_id, aggregate_type, event_type, payload, metadata, created_at, status, retry_count, last_error
		FROM outbox
		WHERE status = 'pending' OR (status = 'failed' AND retry_count < ?)
		ORDER BY created_at
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox pending: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// MarkProcessed implements Store.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, id string) error {
	const q = `UPDATE outbox SET status = 'processed', last_error = '' WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("outbox mark processed %s: %w", id, err)
	}
	return nil
}

// MarkFailed implements Store.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	const q = `UPDATE outbox SET status = 'failed', retry_count = retry_count + 1, last_error = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, errMsg, id); err != nil {
		return fmt.Errorf("outbox mark failed %s: %w", id, err)
	}
	return nil
}

// RetryFailed implements Store.
func (s *SQLiteStore) RetryFailed(ctx context.Context) (int, error) {
	const q = `UPDATE outbox SET status = 'pending', retry_count = 0 WHERE status = 'failed'`
	res, err := s.db.ExecContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("outbox retry failed: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Exhausted implements Store.
func (s *SQLiteStore) Exhausted(ctx context.Context, maxRetries int) ([]Message, error) {
	const q = `SELECT id, aggregate_id, aggregate_type, event_type, payload, metadata, created_at, status, retry_count, last_error
		FROM outbox
		WHERE status = 'failed' AND retry_count >= ?
		ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, q, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("outbox exhausted: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// OldestPendingAge implements Store.
func (s *SQLiteStore) OldestPendingAge(ctx context.Context, maxRetries int) (time.Duration, bool, error) {
	const q = `SELECT created_at FROM outbox
		WHERE status = 'pending' OR (status = 'failed' AND retry_count < ?)
		ORDER BY created_at
		LIMIT 1`
	var createdAt string
	err := s.db.QueryRowContext(ctx, q, maxRetries).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("outbox oldest pending: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return 0, false, fmt.Errorf("outbox oldest pending: decode created_at: %w", err)
	}
	return time.Since(ts), true, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var (
			m         Message
			payload   []byte
			meta      []byte
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.AggregateID, &m.AggregateType, &m.EventType,
			&payload, &meta, &createdAt, &m.Status, &m.RetryCount, &m.LastError); err != nil {
			return nil, fmt.Errorf("outbox scan: %w", err)
		}
		if err := json.Unmarshal(payload, &m.Payload); err != nil {
			return nil, fmt.Errorf("outbox decode payload %s: %w", m.ID, err)
		}
		var staged stagedMeta
		if err := json.Unmarshal(meta, &staged); err != nil {
			return nil, fmt.Errorf("outbox decode metadata %s: %w", m.ID, err)
		}
		m.Metadata = staged.Metadata
		m.OccurredAt = staged.OccurredAt
		var err error
		m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("outbox decode created_at %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
