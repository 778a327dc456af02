package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fuelsync/fuelsync/internal/platform/db"
	"github.com/fuelsync/fuelsync/internal/shared"
)

// TxRepository exposes day operations bound to a transaction.
type TxRepository interface {
	LockDay(ctx context.Context, key DayKey) error
	LockDayShared(ctx context.Context, key DayKey) error
	LoadDay(ctx context.Context, key DayKey) (Day, error)
	MarkFinalized(ctx context.Context, key DayKey, actorID int64, at time.Time) (Day, error)
}

// Repository persists day reconciliation rows.
type Repository struct {
	pool   *pgxpool.Pool
	txOpts db.TxOptions
}

// NewRepository constructs the repository; lockTimeout bounds waits on the day barrier.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, txOpts: db.TxOptions{IsoLevel: pgx.ReadCommitted, LockTimeout: lockTimeout}}
}

// WithTx runs fn inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.txOpts, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// LoadDay reads the day state without locking.
func (r *Repository) LoadDay(ctx context.Context, key DayKey) (Day, error) {
	return loadDay(ctx, r.pool, key)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds day operations to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) LockDay(ctx context.Context, key DayKey) error {
	return db.AdvisoryXactLock(ctx, r.tx, key.LockKey())
}

func (r *txRepository) LockDayShared(ctx context.Context, key DayKey) error {
	return db.AdvisoryXactLockShared(ctx, r.tx, key.LockKey())
}

func (r *txRepository) LoadDay(ctx context.Context, key DayKey) (Day, error) {
	return loadDay(ctx, r.tx, key)
}

func (r *txRepository) MarkFinalized(ctx context.Context, key DayKey, actorID int64, at time.Time) (Day, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO day_reconciliations (tenant_id, station_id, business_date, finalized, finalized_by, finalized_at)
VALUES ($1, $2, $3::date, TRUE, $4, $5)
ON CONFLICT (tenant_id, station_id, business_date)
DO UPDATE SET finalized = TRUE, finalized_by = EXCLUDED.finalized_by, finalized_at = EXCLUDED.finalized_at
WHERE day_reconciliations.finalized = FALSE
RETURNING `+dayColumns, key.TenantID, key.StationID, key.Date.Format(time.DateOnly), actorID, at)
	day, err := scanDay(row)
	if errors.Is(err, shared.ErrNotFound) {
		// Already finalized: the conflict clause skipped the update.
		return loadDay(ctx, r.tx, key)
	}
	return day, err
}

const dayColumns = `tenant_id, station_id, business_date, finalized, finalized_by, finalized_at`

func loadDay(ctx context.Context, q db.Querier, key DayKey) (Day, error) {
	row := q.QueryRow(ctx, `SELECT `+dayColumns+`
FROM day_reconciliations
WHERE tenant_id=$1 AND station_id=$2 AND business_date=$3::date`, key.TenantID, key.StationID, key.Date.Format(time.DateOnly))
	day, err := scanDay(row)
	if errors.Is(err, shared.ErrNotFound) {
		return OpenDay(key), nil
	}
	return day, err
}

func scanDay(row pgx.Row) (Day, error) {
	var (
		day  Day
		date time.Time
	)
	err := row.Scan(&day.TenantID, &day.StationID, &date, &day.Finalized, &day.FinalizedBy, &day.FinalizedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Day{}, shared.ErrNotFound
	}
	if err != nil {
		return Day{}, err
	}
	day.Date = date.Format(time.DateOnly)
	day.Status = shared.DayStatusOpen
	if day.Finalized {
		day.Status = shared.DayStatusFinalized
	}
	return day, nil
}
