package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shipgate/shipgate/internal/domain"
	"github.com/shipgate/shipgate/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.LedgerRepository = (*Repository)(nil)
	_ repository.LockRepository   = (*Repository)(nil)
	_ repository.RunLogRepository = (*Repository)(nil)
)

// GetDeploymentRecord fetches the ledger row for an environment.
func (r *Repository) GetDeploymentRecord(ctx context.Context, environment string) (*domain.DeploymentRecord, error) {
	const query = `SELECT environment, deployed_sha, deployed_at FROM deployment_record WHERE environment = $1`
	row := r.pool.QueryRow(ctx, query, environment)
	var record domain.DeploymentRecord
	if err := row.Scan(&record.Environment, &record.DeployedSHA, &record.DeployedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

// UpsertDeploymentRecord writes the ledger row after a successful promotion.
func (r *Repository) UpsertDeploymentRecord(ctx context.Context, record domain.DeploymentRecord) error {
	const query = `INSERT INTO deployment_record (environment, deployed_sha, deployed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (environment) DO UPDATE SET deployed_sha = EXCLUDED.deployed_sha, deployed_at = EXCLUDED.deployed_at`
	_, err := r.pool.Exec(ctx, query, record.Environment, record.DeployedSHA, record.DeployedAt)
	return err
}

// AcquireLock inserts the single lock row, expiring an abandoned one first.
// The insert uses ON CONFLICT DO NOTHING so concurrent acquisitions resolve
// to exactly one winner.
func (r *Repository) AcquireLock(ctx context.Context, actor string, maxAge time.Duration) (*domain.PromotionLock, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin lock acquisition: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	if maxAge > 0 {
		const expire = `DELETE FROM promotion_lock WHERE id = 1 AND started_at < $1`
		if _, err := tx.Exec(ctx, expire, now.Add(-maxAge)); err != nil {
			return nil, fmt.Errorf("expire stale lock: %w", err)
		}
	}

	const insert = `INSERT INTO promotion_lock (id, held_by, started_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO NOTHING`
	tag, err := tx.Exec(ctx, insert, actor, now)
	if err != nil {
		return nil, fmt.Errorf("insert lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		const holder = `SELECT held_by, started_at FROM promotion_lock WHERE id = 1`
		var held domain.PromotionLock
		if err := tx.QueryRow(ctx, holder).Scan(&held.HeldBy, &held.StartedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Holder released between insert and select; caller retries.
				return nil, &repository.LockHeldError{HeldBy: "unknown", StartedAt: now}
			}
			return nil, err
		}
		return nil, &repository.LockHeldError{HeldBy: held.HeldBy, StartedAt: held.StartedAt}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit lock acquisition: %w", err)
	}
	return &domain.PromotionLock{HeldBy: actor, StartedAt: now}, nil
}

// ReleaseLock removes the lock row for a holder. Releasing an absent lock
// is a no-op, so double release is safe.
func (r *Repository) ReleaseLock(ctx context.Context, heldBy string) error {
	const query = `DELETE FROM promotion_lock WHERE id = 1 AND held_by = $1`
	_, err := r.pool.Exec(ctx, query, heldBy)
	return err
}

// GetLock returns the current lock, treating a row past maxAge as absent.
func (r *Repository) GetLock(ctx context.Context, maxAge time.Duration) (*domain.PromotionLock, error) {
	const query = `SELECT held_by, started_at FROM promotion_lock WHERE id = 1`
	row := r.pool.QueryRow(ctx, query)
	var lock domain.PromotionLock
	if err := row.Scan(&lock.HeldBy, &lock.StartedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if maxAge > 0 && time.Since(lock.StartedAt) >= maxAge {
		return nil, repository.ErrNotFound
	}
	return &lock, nil
}

// AppendRunLog stores one output line for a promotion run.
func (r *Repository) AppendRunLog(ctx context.Context, runID, line string, at time.Time) error {
	const query = `INSERT INTO promotion_run_logs (run_id, line, created_at) VALUES ($1, $2, $3)`
	_, err := r.pool.Exec(ctx, query, runID, line, at)
	return err
}

// ListRecentRunLogs returns the newest lines in chronological order.
func (r *Repository) ListRecentRunLogs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT line FROM (
			SELECT id, line FROM promotion_run_logs ORDER BY id DESC LIMIT $1
		) tail ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// PruneRunLogs discards everything older than the newest keep lines.
func (r *Repository) PruneRunLogs(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	const query = `DELETE FROM promotion_run_logs WHERE id NOT IN (
			SELECT id FROM promotion_run_logs ORDER BY id DESC LIMIT $1
		)`
	_, err := r.pool.Exec(ctx, query, keep)
	return err
}
