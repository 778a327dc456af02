// Package stations resolves the read-only station hierarchy (station, pump, nozzle)
// owned by the external station management workflow.
package stations

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fuelsync/fuelsync/internal/platform/db"
	"github.com/fuelsync/fuelsync/internal/shared"
)

// Nozzle is a dispensing point of a pump.
type Nozzle struct {
	ID        int64  `json:"id"`
	TenantID  int64  `json:"tenant_id"`
	PumpID    int64  `json:"pump_id"`
	StationID int64  `json:"station_id"`
	FuelType  string `json:"fuel_type"`
	Number    int    `json:"number"`
}

const nozzleSelect = `SELECT n.id, n.tenant_id, n.pump_id, p.station_id, n.fuel_type, n.nozzle_number
FROM nozzles n
JOIN pumps p ON p.id = n.pump_id AND p.tenant_id = n.tenant_id
WHERE n.id=$1 AND n.tenant_id=$2`

// Repository reads nozzles outside a transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the nozzle repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetNozzle resolves a nozzle of the tenant or returns shared.ErrNotFound.
func (r *Repository) GetNozzle(ctx context.Context, tenantID, nozzleID int64) (Nozzle, error) {
	return getNozzle(ctx, r.pool, nozzleSelect, tenantID, nozzleID)
}

// LockNozzle resolves a nozzle and holds a row lock on it until tx ends, serialising
// writers of that nozzle. Unknown nozzles are reported as validation failures.
func LockNozzle(ctx context.Context, tx pgx.Tx, tenantID, nozzleID int64) (Nozzle, error) {
	nozzle, err := getNozzle(ctx, tx, nozzleSelect+"\nFOR UPDATE OF n", tenantID, nozzleID)
	if errors.Is(err, shared.ErrNotFound) {
		return Nozzle{}, shared.NewValidationError("nozzle_id", fmt.Sprintf("unknown nozzle %d", nozzleID))
	}
	return nozzle, err
}

func getNozzle(ctx context.Context, q db.Querier, query string, tenantID, nozzleID int64) (Nozzle, error) {
	var n Nozzle
	err := q.QueryRow(ctx, query, nozzleID, tenantID).Scan(&n.ID, &n.TenantID, &n.PumpID, &n.StationID, &n.FuelType, &n.Number)
	if errors.Is(err, pgx.ErrNoRows) {
		return Nozzle{}, shared.ErrNotFound
	}
	if err != nil {
		return Nozzle{}, db.ClassifyError(err)
	}
	n.FuelType = shared.NormalizeCode(n.FuelType)
	return n, nil
}
