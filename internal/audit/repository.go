package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository reads audit_logs with pgx.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed audit repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const timelineSQL = `SELECT event_id, occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE tenant_id = $1
  AND occurred_at >= $2 AND occurred_at < $3
  AND ($4::bigint IS NULL OR actor_id = $4)
  AND ($5::text IS NULL OR entity = $5)
  AND ($6::text IS NULL OR entity_id = $6)
  AND ($7::text IS NULL OR action = $7)
ORDER BY occurred_at DESC, id DESC
LIMIT $8 OFFSET $9`

// TimelineWindow implements Repository.
func (r *PgRepository) TimelineWindow(ctx context.Context, q WindowQuery) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, timelineSQL,
		q.TenantID,
		pgtype.Timestamptz{Time: q.From, Valid: true},
		pgtype.Timestamptz{Time: q.To, Valid: true},
		optionalInt(q.ActorID),
		optionalText(q.Entity),
		optionalText(q.EntityID),
		optionalText(q.Action),
		q.Limit,
		q.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit_logs: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var (
			tr   TimelineRow
			meta []byte
		)
		if err := row.Scan(&tr.EventID, &tr.At, &tr.ActorID, &tr.Action, &tr.Entity, &tr.EntityID, &meta); err != nil {
			return TimelineRow{}, err
		}
		if len(meta) > 0 && string(meta) != "null" {
			tr.Meta = meta
		}
		tr.At = tr.At.UTC()
		return tr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit_logs: %w", err)
	}
	return out, nil
}

func optionalText(v string) pgtype.Text {
	if v == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: v, Valid: true}
}

func optionalInt(v int64) pgtype.Int8 {
	if v <= 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: v, Valid: true}
}
