// Package reconciliation guards station business days: once a day is finalized no
// reading may be written or voided against it.
package reconciliation

import (
	"fmt"
	"time"

	"github.com/fuelsync/fuelsync/internal/shared"
)

// ErrDayFinalized is returned when a write targets a finalized day.
var ErrDayFinalized = shared.ErrDayFinalized

// DayKey identifies one business day of a station.
type DayKey struct {
	TenantID  int64
	StationID int64
	Date      time.Time
}

// NewDayKey builds a key, truncating date to its calendar day.
func NewDayKey(tenantID, stationID int64, date time.Time) DayKey {
	y, m, d := date.Date()
	return DayKey{TenantID: tenantID, StationID: stationID, Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// Validate ensures the key is complete.
func (k DayKey) Validate() error {
	switch {
	case k.TenantID <= 0:
		return shared.NewValidationError("tenant_id", "is required")
	case k.StationID <= 0:
		return shared.NewValidationError("station_id", "is required")
	case k.Date.IsZero():
		return shared.NewValidationError("date", "is required")
	}
	return nil
}

// LockKey returns the advisory lock key of the day barrier.
func (k DayKey) LockKey() string {
	return shared.DayLockKey(k.TenantID, k.StationID, k.Date)
}

func (k DayKey) String() string {
	return fmt.Sprintf("%d/%d/%s", k.TenantID, k.StationID, k.Date.Format(time.DateOnly))
}

// Day is the reconciliation state of a station day. Days without a stored row are open.
type Day struct {
	TenantID    int64      `json:"tenant_id"`
	StationID   int64      `json:"station_id"`
	Date        string     `json:"date"`
	Status      string     `json:"status"`
	Finalized   bool       `json:"finalized"`
	FinalizedBy *int64     `json:"finalized_by,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// OpenDay returns the implicit state of a day with no stored row.
func OpenDay(key DayKey) Day {
	return Day{
		TenantID:  key.TenantID,
		StationID: key.StationID,
		Date:      key.Date.Format(time.DateOnly),
		Status:    shared.DayStatusOpen,
	}
}

// AssertOpen fails with ErrDayFinalized when the day is closed.
func (d Day) AssertOpen() error {
	if d.Finalized {
		return fmt.Errorf("reconciliation: day %d/%d/%s: %w", d.TenantID, d.StationID, d.Date, ErrDayFinalized)
	}
	return nil
}

// FinalizeInput carries a finalize request.
type FinalizeInput struct {
	Key     DayKey
	ActorID int64
}

// Validate ensures the request is complete.
func (in FinalizeInput) Validate() error {
	if err := in.Key.Validate(); err != nil {
		return err
	}
	if in.ActorID <= 0 {
		return shared.NewValidationError("actor_id", "is required to finalize a day")
	}
	return nil
}
