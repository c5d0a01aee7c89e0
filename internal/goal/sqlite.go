package goal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/perfdesk/eventcore/internal/domain"
	"github.com/perfdesk/eventcore/internal/eventstore"
	"github.com/perfdesk/eventcore/internal/outbox"
)

// SQLiteRepository persists goals durably. Save runs the state upsert, the
// event append, and the outbox staging in one transaction, which is the
// outbox pattern's atomicity requirement.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps an open database. The schema is owned by the
// sqlite package.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// FindByID implements Repository.
func (r *SQLiteRepository) FindByID(ctx context.Context, id, tenantID string) (*Goal, error) {
	const q = `SELECT id, tenant_id, owner_id, title, description, target_date, weight, progress, status, version
		FROM goals WHERE id = ? AND tenant_id = ?`
	var (
		gid, tenant, owner, title, description, targetDate, status string
		weight, version                                            int
		progress                                                   float64
	)
	err := r.db.QueryRowContext(ctx, q, id, tenantID).Scan(
		&gid, &tenant, &owner, &title, &description, &targetDate, &weight, &progress, &status, &version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find goal %s: %w", id, err)
	}

	return decodeGoal(gid, tenant, owner, title, description, targetDate, status, weight, version, progress)
}

// ListByOwner implements Repository.
func (r *SQLiteRepository) ListByOwner(ctx context.Context, tenantID, ownerID string) ([]*Goal, error) {
	const q = `SELECT id, tenant_id, owner_id, title, description, target_date, weight, progress, status, version
		FROM goals WHERE tenant_id = ? AND owner_id = ? ORDER BY target_date, id`

	rows, err := r.db.QueryContext(ctx, q, tenantID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list goals for %s: %w", ownerID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Goal
	for rows.Next() {
		var (
			gid, tenant, owner, title, description, targetDate, status string
			weight, version                                            int
			progress                                                   float64
		)
		if err := rows.Scan(&gid, &tenant, &owner, &title, &description, &targetDate, &weight, &progress, &status, &version); err != nil {
			return nil, fmt.Errorf("list goals for %s: scan: %w", ownerID, err)
		}
		g, err := decodeGoal(gid, tenant, owner, title, description, targetDate, status, weight, version, progress)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func decodeGoal(gid, tenant, owner, title, description, targetDate, status string, weight, version int, progress float64) (*Goal, error) {
	target, err := time.Parse(time.RFC3339Nano, targetDate)
	if err != nil {
		return nil, fmt.Errorf("goal %s: decode target_date: %w", gid, err)
	}
	tenantVO := domain.NewTenantID(tenant)
	weightVO := domain.NewGoalWeight(weight)
	progressVO := domain.NewPercentage(progress)
	for _, errMsg := range []string{tenantVO.Err(), weightVO.Err(), progressVO.Err()} {
		if errMsg != "" {
			return nil, fmt.Errorf("goal %s: corrupt row: %s", gid, errMsg)
		}
	}
	return rehydrate(gid, version, tenantVO.Value(), owner, title, description,
		target, weightVO.Value(), progressVO.Value(), Status(status)), nil
}

// Save implements Repository.
func (r *SQLiteRepository) Save(ctx context.Context, g *Goal) error {
	events := g.UncommittedEvents()
	expected := g.Version() - len(events)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save goal %s: begin: %w", g.ID(), err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := eventstore.AppendTx(ctx, tx, g.ID(), events, expected); err != nil {
		return err
	}

	const q = `INSERT INTO goals (id, tenant_id, owner_id, title, description, target_date, weight, progress, status, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title, description = excluded.description,
			target_date = excluded.target_date, weight = excluded.weight,
			progress = excluded.progress, status = excluded.status,
			version = excluded.version`
	if _, err := tx.ExecContext(ctx, q,
		g.ID(), g.TenantID().String(), g.OwnerID(), g.Title(), g.Description(),
		g.TargetDate().UTC().Format(time.RFC3339Nano), g.Weight().Int(),
		g.Progress().Float(), string(g.Status()), g.Version(),
	); err != nil {
		return fmt.Errorf("save goal %s: upsert: %w", g.ID(), err)
	}

	if err := outbox.StoreAllTx(ctx, tx, outbox.FromEvents(events, AggregateType)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save goal %s: commit: %w", g.ID(), err)
	}
	g.ClearUncommittedEvents()
	return nil
}
