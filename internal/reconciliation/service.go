package reconciliation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fuelsync/fuelsync/internal/observability"
	"github.com/fuelsync/fuelsync/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	LoadDay(ctx context.Context, key DayKey) (Day, error)
}

// AuditPort records day lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service reads and finalizes station days.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the reconciliation service.
func NewService(repo RepositoryPort, audit AuditPort, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// IsDayFinalized reports whether the day is closed to writes.
func (s *Service) IsDayFinalized(ctx context.Context, key DayKey) (bool, error) {
	day, err := s.GetDay(ctx, key)
	if err != nil {
		return false, err
	}
	return day.Finalized, nil
}

// GetDay returns the day state; days never stored are open.
func (s *Service) GetDay(ctx context.Context, key DayKey) (Day, error) {
	key = NewDayKey(key.TenantID, key.StationID, key.Date)
	if err := key.Validate(); err != nil {
		return Day{}, err
	}
	return s.repo.LoadDay(ctx, key)
}

// FinalizeDay closes the day. It waits for in-flight readings of that day to commit and
// is idempotent: finalizing a finalized day returns its stored state unchanged.
func (s *Service) FinalizeDay(ctx context.Context, in FinalizeInput) (Day, error) {
	in.Key = NewDayKey(in.Key.TenantID, in.Key.StationID, in.Key.Date)
	if err := in.Validate(); err != nil {
		return Day{}, err
	}
	var (
		day     Day
		changed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockDay(ctx, in.Key); err != nil {
			return err
		}
		current, err := tx.LoadDay(ctx, in.Key)
		if err != nil {
			return err
		}
		if err := shared.ValidateDayTransition(current.Status, shared.DayStatusFinalized); err != nil {
			return err
		}
		if current.Finalized {
			day = current
			return nil
		}
		day, err = tx.MarkFinalized(ctx, in.Key, in.ActorID, s.now())
		changed = err == nil
		return err
	})
	if err != nil {
		s.metrics.ObserveRejection("finalize_day", string(shared.CodeOf(err)))
		return Day{}, err
	}
	if !changed {
		return day, nil
	}

	s.metrics.ObserveDayFinalized()
	s.logger.Info("day finalized", slog.String("day", in.Key.String()), slog.Int64("actor_id", in.ActorID))
	if s.audit != nil {
		entry := shared.AuditLog{
			EventID:  uuid.New(),
			TenantID: in.Key.TenantID,
			ActorID:  in.ActorID,
			Action:   "day.finalized",
			Entity:   "day_reconciliation",
			EntityID: in.Key.String(),
			Meta:     map[string]any{"station_id": in.Key.StationID, "date": day.Date},
			At:       s.now(),
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.metrics.ObserveAuditEmitFailure()
			s.logger.Error("emit day audit event", slog.String("event_id", entry.EventID.String()), slog.Any("error", err))
		}
	}
	return day, nil
}
