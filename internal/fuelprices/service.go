package fuelprices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fuelsync/fuelsync/internal/observability"
	"github.com/fuelsync/fuelsync/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	PriceAt(ctx context.Context, key Key, at time.Time) (decimal.Decimal, error)
	ListIntervals(ctx context.Context, key Key) ([]Interval, error)
	ListAllIntervals(ctx context.Context) ([]Interval, error)
}

// AuditPort records price ledger events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service maintains price timelines.
type Service struct {
	repo    RepositoryPort
	cache   *Cache
	audit   AuditPort
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the price service. cache, audit and metrics are optional.
func NewService(repo RepositoryPort, cache *Cache, audit AuditPort, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateFuelPrice opens a new price interval starting at in.EffectiveFrom. An open interval
// containing that instant is closed one tick earlier; a closed one is historical and
// rejects the request, as does any interval starting later.
func (s *Service) CreateFuelPrice(ctx context.Context, in CreatePriceInput) (Interval, error) {
	in.Key = in.Key.Normalize()
	if err := in.Validate(); err != nil {
		s.metrics.ObserveRejection("create_price", string(shared.CodeOf(err)))
		return Interval{}, err
	}

	var (
		created Interval
		closed  *Interval
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockTimeline(ctx, in.Key); err != nil {
			return err
		}
		current, err := tx.FindContainingForUpdate(ctx, in.Key, in.EffectiveFrom)
		switch {
		case err == nil:
			if !current.Open() {
				return fmt.Errorf("fuelprices: %s falls inside closed interval %d: %w",
					in.EffectiveFrom.Format(time.RFC3339Nano), current.ID, shared.ErrOverlappingPriceRange)
			}
			closeAt := in.EffectiveFrom.Add(-ClosureTick)
			if closeAt.Before(current.EffectiveFrom) {
				return fmt.Errorf("fuelprices: closing interval %d before %s would invert it: %w",
					current.ID, in.EffectiveFrom.Format(time.RFC3339Nano), shared.ErrOverlappingPriceRange)
			}
			if err := tx.CloseInterval(ctx, current.ID, closeAt); err != nil {
				return err
			}
			current.EffectiveTo = &closeAt
			closed = &current
		case errors.Is(err, shared.ErrNotFound):
			next, err := tx.NextIntervalAfter(ctx, in.Key, in.EffectiveFrom)
			if err == nil {
				return fmt.Errorf("fuelprices: interval %d starts after %s: %w",
					next.ID, in.EffectiveFrom.Format(time.RFC3339Nano), shared.ErrOverlappingPriceRange)
			}
			if !errors.Is(err, shared.ErrNotFound) {
				return err
			}
		default:
			return err
		}
		created, err = tx.InsertInterval(ctx, in, s.now())
		return err
	})
	if err != nil {
		s.metrics.ObserveRejection("create_price", string(shared.CodeOf(err)))
		return Interval{}, err
	}

	s.metrics.ObservePriceInterval()
	if err := s.cache.Bump(ctx, in.Key); err != nil {
		s.logger.Warn("price cache bump failed", slog.String("key", in.Key.String()), slog.Any("error", err))
	}
	s.recordCreated(ctx, created, closed)
	return created, nil
}

func (s *Service) recordCreated(ctx context.Context, created Interval, closed *Interval) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"station_id":     created.StationID,
		"fuel_type":      created.FuelType,
		"price":          created.Price.String(),
		"effective_from": created.EffectiveFrom,
	}
	if closed != nil {
		meta["closed_interval_id"] = closed.ID
		meta["closed_effective_to"] = *closed.EffectiveTo
	}
	entry := shared.AuditLog{
		EventID:  uuid.New(),
		TenantID: created.TenantID,
		ActorID:  created.CreatedBy,
		Action:   "price.created",
		Entity:   "fuel_price",
		EntityID: strconv.FormatInt(created.ID, 10),
		Meta:     meta,
		At:       s.now(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.metrics.ObserveAuditEmitFailure()
		s.logger.Error("emit price audit event", slog.String("event_id", entry.EventID.String()), slog.Any("error", err))
	}
}

// GetEffectivePrice returns the price in force at the given instant, or shared.ErrNotFound.
func (s *Service) GetEffectivePrice(ctx context.Context, key Key, at time.Time) (decimal.Decimal, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return decimal.Decimal{}, err
	}
	return s.repo.PriceAt(ctx, key, at)
}

// CachedEffectivePrice resolves the price through the timeline cache. It is meant for
// read-only displays; sales are always priced by GetEffectivePrice semantics in-transaction.
func (s *Service) CachedEffectivePrice(ctx context.Context, key Key, at time.Time) (Interval, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return Interval{}, err
	}
	intervals, hit, err := s.cache.Timeline(ctx, key, func(ctx context.Context) ([]Interval, error) {
		return s.repo.ListIntervals(ctx, key)
	})
	if err != nil {
		return Interval{}, err
	}
	if hit {
		s.metrics.ObservePriceCache("hit")
	} else {
		s.metrics.ObservePriceCache("miss")
	}
	iv, ok := Resolve(intervals, at)
	if !ok {
		return Interval{}, fmt.Errorf("fuelprices: no interval for %s at %s: %w", key, at.Format(time.RFC3339Nano), shared.ErrNotFound)
	}
	return iv, nil
}

// ListIntervals returns the history of one timeline.
func (s *Service) ListIntervals(ctx context.Context, key Key) ([]Interval, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListIntervals(ctx, key)
}

// ScanIntegrity reports every timeline breaking the no-overlap or single-open invariants.
func (s *Service) ScanIntegrity(ctx context.Context) ([]Violation, error) {
	intervals, err := s.repo.ListAllIntervals(ctx)
	if err != nil {
		return nil, err
	}
	return FindViolations(intervals), nil
}

// Resolve picks the interval containing at, preferring the latest start.
func Resolve(intervals []Interval, at time.Time) (Interval, bool) {
	var (
		best  Interval
		found bool
	)
	for _, iv := range intervals {
		if !iv.Contains(at) {
			continue
		}
		if !found || iv.EffectiveFrom.After(best.EffectiveFrom) {
			best, found = iv, true
		}
	}
	return best, found
}
