package readings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fuelsync/fuelsync/internal/fuelprices"
	"github.com/fuelsync/fuelsync/internal/platform/db"
	"github.com/fuelsync/fuelsync/internal/reconciliation"
	"github.com/fuelsync/fuelsync/internal/shared"
	"github.com/fuelsync/fuelsync/internal/stations"
)

// TxRepository is the unit of work of the ingestion pipeline. Every method runs in the
// same transaction, including the day guard and the price lookup.
type TxRepository interface {
	PriceReader
	LockNozzle(ctx context.Context, tenantID, nozzleID int64) (stations.Nozzle, error)
	AssertDayOpen(ctx context.Context, key reconciliation.DayKey) error
	PreviousReading(ctx context.Context, tenantID, nozzleID int64) (Reading, error)
	InsertReading(ctx context.Context, reading Reading) (Reading, error)
	InsertSale(ctx context.Context, sale Sale) (Sale, error)
	LoadReading(ctx context.Context, tenantID, readingID int64, forUpdate bool) (Reading, error)
	MarkVoided(ctx context.Context, tenantID, readingID int64) error
}

// Repository persists readings and sales in PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	nozzles *stations.Repository
	txOpts  db.TxOptions
}

// NewRepository constructs the repository. Transactions run at READ COMMITTED so each
// statement observes rows committed by the previous holder of the nozzle lock.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{
		pool:    pool,
		nozzles: stations.NewRepository(pool),
		txOpts:  db.TxOptions{IsoLevel: pgx.ReadCommitted, LockTimeout: lockTimeout},
	}
}

// WithTx runs fn in one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.txOpts, func(tx pgx.Tx) error {
		return fn(ctx, newTxRepository(tx))
	})
}

// GetNozzle resolves a nozzle outside a transaction.
func (r *Repository) GetNozzle(ctx context.Context, tenantID, nozzleID int64) (stations.Nozzle, error) {
	return r.nozzles.GetNozzle(ctx, tenantID, nozzleID)
}

// ListReadings returns the most recent readings of a nozzle with their sales.
func (r *Repository) ListReadings(ctx context.Context, tenantID, nozzleID int64, limit int) ([]Reading, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+readingColumns+`,
       s.id, s.fuel_type, s.volume::text, s.fuel_price::text, s.amount::text, s.status
FROM nozzle_readings r
LEFT JOIN sales s ON s.reading_id = r.id AND s.tenant_id = r.tenant_id
WHERE r.tenant_id=$1 AND r.nozzle_id=$2
ORDER BY r.recorded_at DESC, r.id DESC
LIMIT $3`, tenantID, nozzleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reading
	for rows.Next() {
		var (
			reading               Reading
			value                 string
			saleID                *int64
			fuelType, saleStatus  *string
			volume, price, amount *string
		)
		if err := rows.Scan(&reading.ID, &reading.TenantID, &reading.NozzleID, &reading.StationID, &value,
			&reading.RecordedAt, &reading.PaymentMethod, &reading.CreditorID, &reading.Status, &reading.Kind,
			&reading.CreatedBy, &reading.CreatedAt,
			&saleID, &fuelType, &volume, &price, &amount, &saleStatus); err != nil {
			return nil, err
		}
		if reading.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("readings: parse reading %q: %w", value, err)
		}
		if saleID != nil {
			sale := Sale{
				ID:            *saleID,
				TenantID:      reading.TenantID,
				ReadingID:     reading.ID,
				NozzleID:      reading.NozzleID,
				StationID:     reading.StationID,
				FuelType:      *fuelType,
				PaymentMethod: reading.PaymentMethod,
				CreditorID:    reading.CreditorID,
				Status:        Status(*saleStatus),
				RecordedAt:    reading.RecordedAt,
			}
			if sale.Volume, sale.Price, sale.Amount, err = parseMoney(*volume, *price, *amount); err != nil {
				return nil, err
			}
			reading.Sale = &sale
		}
		out = append(out, reading)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx     pgx.Tx
	prices fuelprices.TxRepository
	days   reconciliation.TxRepository
}

func newTxRepository(tx pgx.Tx) *txRepository {
	return &txRepository{
		tx:     tx,
		prices: fuelprices.NewTxRepository(tx),
		days:   reconciliation.NewTxRepository(tx),
	}
}

func (r *txRepository) PriceAt(ctx context.Context, key fuelprices.Key, at time.Time) (decimal.Decimal, error) {
	return r.prices.PriceAt(ctx, key, at)
}

func (r *txRepository) LockNozzle(ctx context.Context, tenantID, nozzleID int64) (stations.Nozzle, error) {
	return stations.LockNozzle(ctx, r.tx, tenantID, nozzleID)
}

func (r *txRepository) AssertDayOpen(ctx context.Context, key reconciliation.DayKey) error {
	return reconciliation.AssertNotFinalized(ctx, r.days, key)
}

func (r *txRepository) PreviousReading(ctx context.Context, tenantID, nozzleID int64) (Reading, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+readingColumns+`
FROM nozzle_readings r
WHERE r.tenant_id=$1 AND r.nozzle_id=$2 AND r.status='ACTIVE'
ORDER BY r.recorded_at DESC, r.id DESC
LIMIT 1`, tenantID, nozzleID)
	return scanReading(row)
}

func (r *txRepository) InsertReading(ctx context.Context, reading Reading) (Reading, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO nozzle_readings AS r (tenant_id, nozzle_id, station_id, reading, recorded_at, payment_method, creditor_id, status, kind, created_by, created_at)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11)
RETURNING `+readingColumns,
		reading.TenantID, reading.NozzleID, reading.StationID, reading.Value.String(), reading.RecordedAt,
		reading.PaymentMethod, reading.CreditorID, reading.Status, reading.Kind, reading.CreatedBy, reading.CreatedAt)
	return scanReading(row)
}

func (r *txRepository) InsertSale(ctx context.Context, sale Sale) (Sale, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO sales (tenant_id, reading_id, nozzle_id, station_id, fuel_type, volume, fuel_price, amount, payment_method, creditor_id, status, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11, $12)
RETURNING id`,
		sale.TenantID, sale.ReadingID, sale.NozzleID, sale.StationID, sale.FuelType, sale.Volume.String(),
		sale.Price.String(), sale.Amount.String(), sale.PaymentMethod, sale.CreditorID, sale.Status, sale.RecordedAt).Scan(&sale.ID)
	if err != nil {
		return Sale{}, err
	}
	return sale, nil
}

func (r *txRepository) LoadReading(ctx context.Context, tenantID, readingID int64, forUpdate bool) (Reading, error) {
	query := `SELECT ` + readingColumns + `
FROM nozzle_readings r
WHERE r.tenant_id=$1 AND r.id=$2`
	if forUpdate {
		query += "\nFOR UPDATE"
	}
	return scanReading(r.tx.QueryRow(ctx, query, tenantID, readingID))
}

func (r *txRepository) MarkVoided(ctx context.Context, tenantID, readingID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE nozzle_readings SET status='VOIDED' WHERE tenant_id=$1 AND id=$2 AND status='ACTIVE'`, tenantID, readingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewValidationError("reading_id", "reading already voided")
	}
	_, err = r.tx.Exec(ctx, `UPDATE sales SET status='VOIDED' WHERE tenant_id=$1 AND reading_id=$2`, tenantID, readingID)
	return err
}

const readingColumns = `r.id, r.tenant_id, r.nozzle_id, r.station_id, r.reading::text, r.recorded_at, r.payment_method, r.creditor_id, r.status, r.kind, r.created_by, r.created_at`

func scanReading(row pgx.Row) (Reading, error) {
	var (
		reading Reading
		value   string
	)
	err := row.Scan(&reading.ID, &reading.TenantID, &reading.NozzleID, &reading.StationID, &value,
		&reading.RecordedAt, &reading.PaymentMethod, &reading.CreditorID, &reading.Status, &reading.Kind,
		&reading.CreatedBy, &reading.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reading{}, shared.ErrNotFound
	}
	if err != nil {
		return Reading{}, err
	}
	reading.Value, err = decimal.NewFromString(value)
	if err != nil {
		return Reading{}, fmt.Errorf("readings: parse reading %q: %w", value, err)
	}
	return reading, nil
}

func parseMoney(volume, price, amount string) (v, p, a decimal.Decimal, err error) {
	if v, err = decimal.NewFromString(volume); err != nil {
		return
	}
	if p, err = decimal.NewFromString(price); err != nil {
		return
	}
	a, err = decimal.NewFromString(amount)
	return
}
