// Package sqlite opens the kernel's durable store and owns its schema.
// Every table lives in one database file so an aggregate save, its outbox
// staging, and the idempotency record can share a single transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	stream_id   TEXT    NOT NULL,
	version     INTEGER NOT NULL,
	event_id    TEXT    NOT NULL,
	event_type  TEXT    NOT NULL,
	payload     TEXT    NOT NULL,
	metadata    TEXT    NOT NULL,
	occurred_at TEXT    NOT NULL,
	PRIMARY KEY (stream_id, version)
);

CREATE TABLE IF NOT EXISTS snapshots (
	stream_id TEXT PRIMARY KEY,
	version   INTEGER NOT NULL,
	state     TEXT    NOT NULL,
	taken_at  TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox (
	id             TEXT PRIMARY KEY,
	aggregate_id   TEXT    NOT NULL,
	aggregate_type TEXT    NOT NULL,
	event_type     TEXT    NOT NULL,
	payload        TEXT    NOT NULL,
	metadata       TEXT    NOT NULL,
	created_at     TEXT    NOT NULL,
	status         TEXT    NOT NULL DEFAULT 'pending',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	last_error     TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS outbox_pending ON outbox (status, created_at);

CREATE TABLE IF NOT EXISTS idempotency (
	key        TEXT PRIMARY KEY,
	ok         INTEGER NOT NULL,
	value      TEXT,
	error      TEXT NOT NULL DEFAULT '',
	state      TEXT NOT NULL DEFAULT 'recorded',
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS goals (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT    NOT NULL,
	owner_id    TEXT    NOT NULL,
	title       TEXT    NOT NULL,
	description TEXT    NOT NULL DEFAULT '',
	target_date TEXT    NOT NULL,
	weight      INTEGER NOT NULL,
	progress    REAL    NOT NULL DEFAULT 0,
	status      TEXT    NOT NULL,
	version     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS goals_tenant_owner ON goals (tenant_id, owner_id);
`

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The sqlite driver serializes writes anyway; one writer connection
	// avoids SQLITE_BUSY churn under concurrent dispatch.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
