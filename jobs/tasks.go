package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fuelsync/fuelsync/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries audit events emitted after ledger commits.
	QueueAudit = "audit"

	// TaskAuditRecord persists one audit event.
	TaskAuditRecord = "audit:record"
	// TaskPriceIntegrityScan checks every price timeline for overlaps.
	TaskPriceIntegrityScan = "prices:integrity_scan"
	// TaskIdempotencyCleanup removes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// NewAuditRecordTask wraps an audit event. The event id doubles as the task id so a
// duplicate enqueue of the same event is rejected by the broker.
func NewAuditRecordTask(log shared.AuditLog) (*asynq.Task, error) {
	if err := log.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(log)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRecord, data,
		asynq.TaskID(log.EventID.String()),
		asynq.Queue(QueueAudit),
		asynq.MaxRetry(10),
	), nil
}

// PriceIntegrityScanPayload scopes an integrity scan.
type PriceIntegrityScanPayload struct {
	// Reason is logged with the scan, e.g. "cron" or "manual".
	Reason string `json:"reason"`
}

// NewPriceIntegrityScanTask builds a scan task.
func NewPriceIntegrityScanTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(PriceIntegrityScanPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPriceIntegrityScan, data), nil
}

// IdempotencyCleanupPayload carries the retention window. Zero means the job default.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask builds a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
