package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fuelsync/fuelsync/internal/jobs"
	"github.com/fuelsync/fuelsync/internal/shared"
)

// AuditStore persists audit events; shared.AuditLogger in production.
type AuditStore interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AuditRecordJob drains the audit queue into audit_logs.
type AuditRecordJob struct {
	Store   AuditStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditRecordJob constructs the handler.
func NewAuditRecordJob(store AuditStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRecordJob {
	return &AuditRecordJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle persists the event carried by t. Malformed payloads are not retried.
func (j *AuditRecordJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("audit record: handler not configured")
	}
	var entry shared.AuditLog
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		return fmt.Errorf("audit record: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("audit record: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskAuditRecord)
	defer func() {
		err = tracker.End(err)
	}()

	if err = j.Store.Record(ctx, entry); err != nil {
		j.logger().Error("persist audit event",
			slog.String("event_id", entry.EventID.String()),
			slog.String("action", entry.Action),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (j *AuditRecordJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// AuditEnqueuer hands audit events to the worker. It satisfies the audit ports of the
// domain services.
type AuditEnqueuer struct {
	client *asynq.Client
}

// NewAuditEnqueuer wraps an asynq client.
func NewAuditEnqueuer(client *asynq.Client) *AuditEnqueuer {
	return &AuditEnqueuer{client: client}
}

// Record enqueues log. A task that is already queued under the same event id counts as
// delivered.
func (e *AuditEnqueuer) Record(ctx context.Context, log shared.AuditLog) error {
	if e == nil || e.client == nil {
		return errors.New("audit enqueuer: client not configured")
	}
	task, err := NewAuditRecordTask(log)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("audit enqueuer: %w", err)
	}
	return nil
}
