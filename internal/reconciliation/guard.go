package reconciliation

import "context"

// AssertNotFinalized is the write barrier for readings. It takes the shared day lock
// inside the caller's transaction, so FinalizeDay (which takes the exclusive lock) waits
// for the caller to commit and no write can land after finalization.
func AssertNotFinalized(ctx context.Context, tx TxRepository, key DayKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := tx.LockDayShared(ctx, key); err != nil {
		return err
	}
	day, err := tx.LoadDay(ctx, key)
	if err != nil {
		return err
	}
	return day.AssertOpen()
}
