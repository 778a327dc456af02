package shared

import (
	"fmt"
	"time"
)

// DayLockKey builds the advisory lock key guarding a station business day.
func DayLockKey(tenantID, stationID int64, day time.Time) string {
	return fmt.Sprintf("fuelsync:day:%d:%d:%s", tenantID, stationID, day.Format(time.DateOnly))
}

// PriceLockKey builds the advisory lock key serializing price changes for one fuel at one station.
func PriceLockKey(tenantID, stationID int64, fuelType string) string {
	return fmt.Sprintf("fuelsync:price:%d:%d:%s", tenantID, stationID, fuelType)
}
