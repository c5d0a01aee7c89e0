package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/perfdesk/eventcore/internal/domain"
)

// SQLiteIdempotencyStore persists recorded results so replays survive a
// process restart. The claimed/recorded state lives in the row itself, so the
// claim is atomic across processes sharing the database.
type SQLiteIdempotencyStore struct {
	db *sql.DB
}

// NewSQLiteIdempotencyStore wraps an open database. The schema is owned by
// the sqlite package.
func NewSQLiteIdempotencyStore(db *sql.DB) *SQLiteIdempotencyStore {
	return &SQLiteIdempotencyStore{db: db}
}

// Get returns the recorded result for key, if any. Claimed-but-unrecorded
// rows are not visible.
func (s *SQLiteIdempotencyStore) Get(ctx context.Context, key string) (domain.Result[any], bool, error) {
	const q = `SELECT ok, value, error FROM idempotency WHERE key = ? AND state = 'recorded'`
	var (
		ok     bool
		raw    []byte
		errMsg string
	)
	err := s.db.QueryRowContext(ctx, q, key).Scan(&ok, &raw, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Result[any]{}, false, nil
	}
	if err != nil {
		return domain.Result[any]{}, false, fmt.Errorf("idempotency get %s: %w", key, err)
	}
	if !ok {
		return domain.Fail[any](errMsg), true, nil
	}
	var value any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &value); err != nil {
			return domain.Result[any]{}, false, fmt.Errorf("idempotency decode %s: %w", key, err)
		}
	}
	return domain.Ok(value), true, nil
}

// Claim inserts a placeholder row for key. The primary key makes the insert
// first-writer-wins, so exactly one concurrent dispatch sees true.
func (s *SQLiteIdempotencyStore) Claim(ctx context.Context, key string) (bool, error) {
	const q = `INSERT INTO idempotency (key, ok, value, error, state) VALUES (?, 0, NULL, '', 'claimed')
		ON CONFLICT (key) DO NOTHING`
	res, err := s.db.ExecContext(ctx, q, key)
	if err != nil {
		return false, fmt.Errorf("idempotency claim %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("idempotency claim %s: %w", key, err)
	}
	return n == 1, nil
}

// Put records a result under a claimed key. An already recorded key keeps
// its original result.
func (s *SQLiteIdempotencyStore) Put(ctx context.Context, key string, res domain.Result[any]) error {
	raw, err := json.Marshal(res.Value())
	if err != nil {
		return fmt.Errorf("idempotency encode %s: %w", key, err)
	}
	const q = `UPDATE idempotency SET ok = ?, value = ?, error = ?, state = 'recorded'
		WHERE key = ? AND state = 'claimed'`
	if _, err := s.db.ExecContext(ctx, q, res.IsOk(), raw, res.Err(), key); err != nil {
		return fmt.Errorf("idempotency put %s: %w", key, err)
	}
	return nil
}

// Release deletes a claimed key so a retry can run the handler again.
// Recorded results are never released.
func (s *SQLiteIdempotencyStore) Release(ctx context.Context, key string) error {
	const q = `DELETE FROM idempotency WHERE key = ? AND state = 'claimed'`
	if _, err := s.db.ExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("idempotency release %s: %w", key, err)
	}
	return nil
}
