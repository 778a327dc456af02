package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AdvisoryXactLock takes an exclusive transaction-scoped advisory lock on key.
// The lock is released when tx commits or rolls back.
func AdvisoryXactLock(ctx context.Context, tx pgx.Tx, key string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("platform/db: advisory lock %s: %w", key, ClassifyError(err))
	}
	return nil
}

// AdvisoryXactLockShared takes a shared transaction-scoped advisory lock on key.
// Shared holders only block, and are blocked by, exclusive holders of the same key.
func AdvisoryXactLockShared(ctx context.Context, tx pgx.Tx, key string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock_shared(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("platform/db: shared advisory lock %s: %w", key, ClassifyError(err))
	}
	return nil
}
