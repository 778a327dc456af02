package readings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fuelsync/fuelsync/internal/fuelprices"
	"github.com/fuelsync/fuelsync/internal/observability"
	"github.com/fuelsync/fuelsync/internal/reconciliation"
	"github.com/fuelsync/fuelsync/internal/shared"
	"github.com/fuelsync/fuelsync/internal/stations"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetNozzle(ctx context.Context, tenantID, nozzleID int64) (stations.Nozzle, error)
	ListReadings(ctx context.Context, tenantID, nozzleID int64, limit int) ([]Reading, error)
}

// AuditPort receives reading lifecycle events after commit.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Options tunes the pipeline.
type Options struct {
	// Location derives business dates from recorded-at instants. Defaults to UTC.
	Location *time.Location
	// Precision is the number of decimal places kept on amounts. Defaults to 2.
	Precision *int32
}

// Service runs the reading ingestion pipeline.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	metrics   *observability.Metrics
	logger    *slog.Logger
	location  *time.Location
	precision int32
	now       func() time.Time
}

// NewService constructs the ingestion service.
func NewService(repo RepositoryPort, audit AuditPort, metrics *observability.Metrics, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	precision := DefaultPrecision
	if opts.Precision != nil {
		precision = *opts.Precision
	}
	return &Service{
		repo:      repo,
		audit:     audit,
		metrics:   metrics,
		logger:    logger,
		location:  loc,
		precision: precision,
		now:       time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// BusinessDate returns the business day a reading recorded at t belongs to.
func (s *Service) BusinessDate(t time.Time) time.Time {
	return shared.BusinessDate(t, s.location)
}

// CreateReading records a meter reading and its sale atomically. Inside one transaction
// it locks the nozzle, checks the day barrier, classifies the reading against the
// previous active one and prices it; any failure leaves nothing behind.
func (s *Service) CreateReading(ctx context.Context, in CreateReadingInput) (Result, error) {
	method, err := in.Validate()
	if err != nil {
		s.reject(err)
		return Result{}, err
	}

	var (
		result   Result
		nozzle   stations.Nozzle
		previous *decimal.Decimal
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		nozzle, err = tx.LockNozzle(ctx, in.TenantID, in.NozzleID)
		if err != nil {
			return err
		}
		day := reconciliation.NewDayKey(in.TenantID, nozzle.StationID, s.BusinessDate(in.RecordedAt))
		if err := tx.AssertDayOpen(ctx, day); err != nil {
			return err
		}

		prev, err := tx.PreviousReading(ctx, in.TenantID, in.NozzleID)
		switch {
		case err == nil:
			previous = &prev.Value
		case errors.Is(err, shared.ErrNotFound):
			previous = nil
		default:
			return err
		}
		class := Classify(previous, in.Value)

		key := fuelprices.Key{TenantID: in.TenantID, StationID: nozzle.StationID, FuelType: nozzle.FuelType}
		price, amount, err := ComputeSale(ctx, tx, key, class.Volume, in.RecordedAt, s.precision)
		if err != nil {
			return err
		}

		reading, err := tx.InsertReading(ctx, Reading{
			TenantID:      in.TenantID,
			NozzleID:      in.NozzleID,
			StationID:     nozzle.StationID,
			Value:         in.Value,
			RecordedAt:    in.RecordedAt,
			PaymentMethod: method,
			CreditorID:    in.CreditorID,
			Status:        StatusActive,
			Kind:          class.Kind,
			CreatedBy:     in.ActorID,
			CreatedAt:     s.now(),
		})
		if err != nil {
			return err
		}
		sale, err := tx.InsertSale(ctx, Sale{
			TenantID:      in.TenantID,
			ReadingID:     reading.ID,
			NozzleID:      in.NozzleID,
			StationID:     nozzle.StationID,
			FuelType:      nozzle.FuelType,
			Volume:        class.Volume,
			Price:         price,
			Amount:        amount,
			PaymentMethod: method,
			CreditorID:    in.CreditorID,
			Status:        StatusActive,
			RecordedAt:    in.RecordedAt,
		})
		if err != nil {
			return err
		}
		result = Result{
			ReadingID:    reading.ID,
			SaleID:       sale.ID,
			Volume:       class.Volume,
			Kind:         class.Kind,
			Price:        price,
			Amount:       amount,
			BusinessDate: day.Date.Format(time.DateOnly),
			Warning:      class.Warning(),
		}
		return nil
	})
	if err != nil {
		s.reject(err)
		return Result{}, err
	}

	s.metrics.ObserveReading(string(result.Kind))
	attrs := []any{
		slog.Int64("tenant_id", in.TenantID),
		slog.Int64("nozzle_id", in.NozzleID),
		slog.Int64("reading_id", result.ReadingID),
		slog.String("volume", result.Volume.String()),
	}
	if result.Kind == KindMeterReset {
		s.logger.Warn("meter reset assumed", append(attrs, slog.String("previous", previous.String()), slog.String("current", in.Value.String()))...)
	} else {
		s.logger.Debug("reading recorded", append(attrs, slog.String("kind", string(result.Kind)))...)
	}

	meta := map[string]any{
		"nozzle_id":      in.NozzleID,
		"station_id":     nozzle.StationID,
		"fuel_type":      nozzle.FuelType,
		"sale_id":        result.SaleID,
		"reading":        in.Value.String(),
		"kind":           string(result.Kind),
		"volume":         result.Volume.String(),
		"fuel_price":     result.Price.String(),
		"amount":         result.Amount.String(),
		"payment_method": string(method),
		"recorded_at":    in.RecordedAt,
	}
	if previous != nil {
		meta["previous_reading"] = previous.String()
	}
	if result.Kind == KindMeterReset {
		meta["meter_reset"] = true
	}
	s.emit(ctx, "reading.recorded", in.TenantID, in.ActorID, result.ReadingID, meta)
	return result, nil
}

// VoidReading soft-deletes a reading and its sale. The day barrier applies to voids too.
func (s *Service) VoidReading(ctx context.Context, in VoidReadingInput) (Reading, error) {
	if err := in.Validate(); err != nil {
		s.metrics.ObserveRejection("void_reading", string(shared.CodeOf(err)))
		return Reading{}, err
	}
	var reading Reading
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LoadReading(ctx, in.TenantID, in.ReadingID, false)
		if err != nil {
			return err
		}
		// Nozzle first, matching CreateReading's lock order.
		if _, err := tx.LockNozzle(ctx, in.TenantID, current.NozzleID); err != nil {
			return err
		}
		reading, err = tx.LoadReading(ctx, in.TenantID, in.ReadingID, true)
		if err != nil {
			return err
		}
		if reading.Status == StatusVoided {
			return shared.NewValidationError("reading_id", "reading already voided")
		}
		day := reconciliation.NewDayKey(in.TenantID, reading.StationID, s.BusinessDate(reading.RecordedAt))
		if err := tx.AssertDayOpen(ctx, day); err != nil {
			return err
		}
		if err := tx.MarkVoided(ctx, in.TenantID, in.ReadingID); err != nil {
			return err
		}
		reading.Status = StatusVoided
		return nil
	})
	if err != nil {
		s.metrics.ObserveRejection("void_reading", string(shared.CodeOf(err)))
		return Reading{}, err
	}

	s.logger.Info("reading voided",
		slog.Int64("tenant_id", in.TenantID),
		slog.Int64("reading_id", in.ReadingID),
		slog.String("reason", in.Reason))
	s.emit(ctx, "reading.voided", in.TenantID, in.ActorID, in.ReadingID, map[string]any{
		"nozzle_id":   reading.NozzleID,
		"station_id":  reading.StationID,
		"reason":      in.Reason,
		"recorded_at": reading.RecordedAt,
	})
	return reading, nil
}

// ListReadings returns the latest readings of a nozzle, newest first.
func (s *Service) ListReadings(ctx context.Context, tenantID, nozzleID int64, limit int) ([]Reading, error) {
	if tenantID <= 0 || nozzleID <= 0 {
		return nil, shared.NewValidationError("nozzle_id", "is required")
	}
	if _, err := s.repo.GetNozzle(ctx, tenantID, nozzleID); err != nil {
		return nil, fmt.Errorf("readings: nozzle %d: %w", nozzleID, err)
	}
	return s.repo.ListReadings(ctx, tenantID, nozzleID, shared.ClampLimit(limit))
}

func (s *Service) reject(err error) {
	code := shared.CodeOf(err)
	s.metrics.ObserveRejection("create_reading", string(code))
	if code == shared.CodeInternal {
		s.logger.Error("create reading failed", slog.Any("error", err))
	}
}

func (s *Service) emit(ctx context.Context, action string, tenantID, actorID, readingID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		EventID:  uuid.New(),
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "nozzle_reading",
		EntityID: strconv.FormatInt(readingID, 10),
		Meta:     meta,
		At:       s.now(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.metrics.ObserveAuditEmitFailure()
		s.logger.Error("emit reading audit event",
			slog.String("action", action),
			slog.String("event_id", entry.EventID.String()),
			slog.Any("error", err))
	}
}
