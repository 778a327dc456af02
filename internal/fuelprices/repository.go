package fuelprices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fuelsync/fuelsync/internal/platform/db"
	"github.com/fuelsync/fuelsync/internal/shared"
)

// TxRepository exposes the timeline operations that must run inside one transaction.
type TxRepository interface {
	LockTimeline(ctx context.Context, key Key) error
	FindContainingForUpdate(ctx context.Context, key Key, at time.Time) (Interval, error)
	NextIntervalAfter(ctx context.Context, key Key, at time.Time) (Interval, error)
	CloseInterval(ctx context.Context, id int64, effectiveTo time.Time) error
	InsertInterval(ctx context.Context, in CreatePriceInput, createdAt time.Time) (Interval, error)
	PriceAt(ctx context.Context, key Key, at time.Time) (decimal.Decimal, error)
}

// Repository persists price intervals in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	txOpts db.TxOptions
}

// NewRepository constructs the repository; lockTimeout bounds waits on the timeline lock.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, txOpts: db.TxOptions{IsoLevel: pgx.ReadCommitted, LockTimeout: lockTimeout}}
}

// WithTx runs fn inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.txOpts, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// PriceAt resolves the effective price outside any transaction.
func (r *Repository) PriceAt(ctx context.Context, key Key, at time.Time) (decimal.Decimal, error) {
	return priceAt(ctx, r.pool, key, at)
}

// ListIntervals returns the full history of a timeline ordered by start.
func (r *Repository) ListIntervals(ctx context.Context, key Key) ([]Interval, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+intervalColumns+`
FROM fuel_prices
WHERE tenant_id=$1 AND station_id=$2 AND fuel_type=$3
ORDER BY effective_from, id`, key.TenantID, key.StationID, key.FuelType)
	if err != nil {
		return nil, err
	}
	return collectIntervals(rows)
}

// ListAllIntervals returns every interval ordered by timeline, used by integrity scans.
func (r *Repository) ListAllIntervals(ctx context.Context) ([]Interval, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+intervalColumns+`
FROM fuel_prices
ORDER BY tenant_id, station_id, fuel_type, effective_from, id`)
	if err != nil {
		return nil, err
	}
	return collectIntervals(rows)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds the timeline operations to an open transaction so other packages
// can read prices within their own unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) LockTimeline(ctx context.Context, key Key) error {
	return db.AdvisoryXactLock(ctx, r.tx, key.LockKey())
}

func (r *txRepository) FindContainingForUpdate(ctx context.Context, key Key, at time.Time) (Interval, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+intervalColumns+`
FROM fuel_prices
WHERE tenant_id=$1 AND station_id=$2 AND fuel_type=$3
  AND effective_from <= $4 AND (effective_to IS NULL OR effective_to >= $4)
ORDER BY effective_from DESC, id DESC
LIMIT 1
FOR UPDATE`, key.TenantID, key.StationID, key.FuelType, at)
	return scanInterval(row)
}

func (r *txRepository) NextIntervalAfter(ctx context.Context, key Key, at time.Time) (Interval, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+intervalColumns+`
FROM fuel_prices
WHERE tenant_id=$1 AND station_id=$2 AND fuel_type=$3 AND effective_from > $4
ORDER BY effective_from, id
LIMIT 1`, key.TenantID, key.StationID, key.FuelType, at)
	return scanInterval(row)
}

func (r *txRepository) CloseInterval(ctx context.Context, id int64, effectiveTo time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE fuel_prices SET effective_to=$2 WHERE id=$1 AND effective_to IS NULL`, id, effectiveTo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fuelprices: interval %d is no longer open: %w", id, shared.ErrOverlappingPriceRange)
	}
	return nil
}

func (r *txRepository) InsertInterval(ctx context.Context, in CreatePriceInput, createdAt time.Time) (Interval, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO fuel_prices (tenant_id, station_id, fuel_type, price, effective_from, effective_to, created_by, created_at)
VALUES ($1, $2, $3, $4::numeric, $5, NULL, $6, $7)
RETURNING `+intervalColumns, in.TenantID, in.StationID, in.FuelType, in.Price.String(), in.EffectiveFrom, in.ActorID, createdAt)
	return scanInterval(row)
}

func (r *txRepository) PriceAt(ctx context.Context, key Key, at time.Time) (decimal.Decimal, error) {
	return priceAt(ctx, r.tx, key, at)
}

const intervalColumns = `id, tenant_id, station_id, fuel_type, price::text, effective_from, effective_to, created_by, created_at`

func priceAt(ctx context.Context, q db.Querier, key Key, at time.Time) (decimal.Decimal, error) {
	var raw string
	err := q.QueryRow(ctx, `SELECT price::text
FROM fuel_prices
WHERE tenant_id=$1 AND station_id=$2 AND fuel_type=$3
  AND effective_from <= $4 AND (effective_to IS NULL OR effective_to >= $4)
ORDER BY effective_from DESC, id DESC
LIMIT 1`, key.TenantID, key.StationID, key.FuelType, at).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, fmt.Errorf("fuelprices: no interval for %s at %s: %w", key, at.Format(time.RFC3339Nano), shared.ErrNotFound)
	}
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(raw)
}

func scanInterval(row pgx.Row) (Interval, error) {
	var (
		iv    Interval
		price string
	)
	err := row.Scan(&iv.ID, &iv.TenantID, &iv.StationID, &iv.FuelType, &price, &iv.EffectiveFrom, &iv.EffectiveTo, &iv.CreatedBy, &iv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Interval{}, shared.ErrNotFound
	}
	if err != nil {
		return Interval{}, err
	}
	iv.Price, err = decimal.NewFromString(price)
	if err != nil {
		return Interval{}, fmt.Errorf("fuelprices: parse price %q: %w", price, err)
	}
	return iv, nil
}

func collectIntervals(rows pgx.Rows) ([]Interval, error) {
	defer rows.Close()
	var out []Interval
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}
