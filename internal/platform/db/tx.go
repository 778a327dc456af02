package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fuelsync/fuelsync/internal/shared"
)

// TxOptions tunes a single transaction.
type TxOptions struct {
	IsoLevel    pgx.TxIsoLevel
	LockTimeout time.Duration
}

// Beginner is the subset of pgxpool.Pool used to open transactions.
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

var _ Beginner = (*pgxpool.Pool)(nil)

// WithTx executes fn within a transaction. The transaction is rolled back when fn fails,
// panics or ctx is cancelled; lock and serialization failures surface as
// shared.ErrConcurrencyConflict.
func WithTx(ctx context.Context, pool Beginner, opts TxOptions, fn func(pgx.Tx) error) (err error) {
	if pool == nil {
		return errors.New("platform/db: pool not initialised")
	}
	iso := opts.IsoLevel
	if iso == "" {
		iso = pgx.ReadCommitted
	}
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", ClassifyError(err))
	}

	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if opts.LockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", opts.LockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("platform/db: set lock timeout: %w", ClassifyError(err))
		}
	}

	if err := fn(tx); err != nil {
		return ClassifyError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", ClassifyError(err))
	}

	return nil
}

// Postgres error codes that callers should treat as retryable contention.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// ClassifyError maps retryable Postgres contention errors onto shared.ErrConcurrencyConflict.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%w: %s", shared.ErrConcurrencyConflict, pgErr.Message)
		}
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint violation on constraint
// (any constraint when empty).
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx so read helpers can run either
// standalone or inside a caller's transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (pgx.Tx)(nil)
)
