package readings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fuelsync/fuelsync/internal/fuelprices"
	"github.com/fuelsync/fuelsync/internal/reconciliation"
	"github.com/fuelsync/fuelsync/internal/shared"
	"github.com/fuelsync/fuelsync/internal/stations"
)

// memoryStore is an in-memory database shared by the readings, prices and day
// repositories of a test. Transactions are serialised and applied on commit only.
type memoryStore struct {
	mu        sync.Mutex
	nozzles   map[int64]stations.Nozzle
	days      map[reconciliation.DayKey]reconciliation.Day
	intervals []fuelprices.Interval
	readings  []Reading
	sales     []Sale
	nextID    int64

	insertSaleErr error
	txCount       int
}

func newMemoryStore(nozzles ...stations.Nozzle) *memoryStore {
	s := &memoryStore{nozzles: make(map[int64]stations.Nozzle), days: make(map[reconciliation.DayKey]reconciliation.Day)}
	for _, n := range nozzles {
		s.nozzles[n.ID] = n
	}
	return s
}

func (s *memoryStore) begin() *memoryTx {
	s.mu.Lock()
	s.txCount++
	return &memoryTx{
		store:     s,
		intervals: append([]fuelprices.Interval(nil), s.intervals...),
		readings:  append([]Reading(nil), s.readings...),
		sales:     append([]Sale(nil), s.sales...),
		days:      make(map[reconciliation.DayKey]reconciliation.Day),
		nextID:    s.nextID,
	}
}

func (s *memoryStore) finish(tx *memoryTx, err error) error {
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	s.intervals, s.readings, s.sales, s.nextID = tx.intervals, tx.readings, tx.sales, tx.nextID
	for k, v := range tx.days {
		s.days[k] = v
	}
	return nil
}

func (s *memoryStore) snapshot() ([]Reading, []Sale) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Reading(nil), s.readings...), append([]Sale(nil), s.sales...)
}

func (s *memoryStore) finalize(key reconciliation.DayKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := reconciliation.OpenDay(key)
	day.Finalized = true
	day.Status = shared.DayStatusFinalized
	s.days[key] = day
}

// WithTx implements RepositoryPort.
func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := s.begin()
	return s.finish(tx, fn(ctx, tx))
}

func (s *memoryStore) GetNozzle(ctx context.Context, tenantID, nozzleID int64) (stations.Nozzle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nozzles[nozzleID]
	if !ok || n.TenantID != tenantID {
		return stations.Nozzle{}, shared.ErrNotFound
	}
	return n, nil
}

func (s *memoryStore) ListReadings(ctx context.Context, tenantID, nozzleID int64, limit int) ([]Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reading
	for _, r := range s.readings {
		if r.TenantID != tenantID || r.NozzleID != nozzleID {
			continue
		}
		for _, sale := range s.sales {
			if sale.ReadingID == r.ID {
				sale := sale
				r.Sale = &sale
			}
		}
		out = append(out, r)
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(list []Reading) {
	sort.SliceStable(list, func(a, b int) bool {
		if list[a].RecordedAt.Equal(list[b].RecordedAt) {
			return list[a].ID > list[b].ID
		}
		return list[a].RecordedAt.After(list[b].RecordedAt)
	})
}

type memoryTx struct {
	store     *memoryStore
	intervals []fuelprices.Interval
	readings  []Reading
	sales     []Sale
	days      map[reconciliation.DayKey]reconciliation.Day
	nextID    int64
}

func (tx *memoryTx) id() int64 {
	tx.nextID++
	return tx.nextID
}

func (tx *memoryTx) PriceAt(ctx context.Context, key fuelprices.Key, at time.Time) (decimal.Decimal, error) {
	var matching []fuelprices.Interval
	for _, iv := range tx.intervals {
		if iv.Key() == key {
			matching = append(matching, iv)
		}
	}
	iv, ok := fuelprices.Resolve(matching, at)
	if !ok {
		return decimal.Decimal{}, shared.ErrNotFound
	}
	return iv.Price, nil
}

func (tx *memoryTx) LockNozzle(ctx context.Context, tenantID, nozzleID int64) (stations.Nozzle, error) {
	n, ok := tx.store.nozzles[nozzleID]
	if !ok || n.TenantID != tenantID {
		return stations.Nozzle{}, shared.NewValidationError("nozzle_id", "unknown nozzle")
	}
	return n, nil
}

func (tx *memoryTx) AssertDayOpen(ctx context.Context, key reconciliation.DayKey) error {
	return reconciliation.AssertNotFinalized(ctx, dayTx{tx}, key)
}

func (tx *memoryTx) PreviousReading(ctx context.Context, tenantID, nozzleID int64) (Reading, error) {
	var active []Reading
	for _, r := range tx.readings {
		if r.TenantID == tenantID && r.NozzleID == nozzleID && r.Status == StatusActive {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return Reading{}, shared.ErrNotFound
	}
	sortNewestFirst(active)
	return active[0], nil
}

func (tx *memoryTx) InsertReading(ctx context.Context, reading Reading) (Reading, error) {
	reading.ID = tx.id()
	tx.readings = append(tx.readings, reading)
	return reading, nil
}

func (tx *memoryTx) InsertSale(ctx context.Context, sale Sale) (Sale, error) {
	if tx.store.insertSaleErr != nil {
		return Sale{}, tx.store.insertSaleErr
	}
	sale.ID = tx.id()
	tx.sales = append(tx.sales, sale)
	return sale, nil
}

func (tx *memoryTx) LoadReading(ctx context.Context, tenantID, readingID int64, forUpdate bool) (Reading, error) {
	for _, r := range tx.readings {
		if r.TenantID == tenantID && r.ID == readingID {
			return r, nil
		}
	}
	return Reading{}, shared.ErrNotFound
}

func (tx *memoryTx) MarkVoided(ctx context.Context, tenantID, readingID int64) error {
	for i := range tx.readings {
		if tx.readings[i].TenantID == tenantID && tx.readings[i].ID == readingID {
			tx.readings[i].Status = StatusVoided
		}
	}
	for i := range tx.sales {
		if tx.sales[i].TenantID == tenantID && tx.sales[i].ReadingID == readingID {
			tx.sales[i].Status = StatusVoided
		}
	}
	return nil
}

// dayTx adapts the transaction to the reconciliation guard.
type dayTx struct{ tx *memoryTx }

func (d dayTx) LockDay(ctx context.Context, key reconciliation.DayKey) error       { return nil }
func (d dayTx) LockDayShared(ctx context.Context, key reconciliation.DayKey) error { return nil }

func (d dayTx) LoadDay(ctx context.Context, key reconciliation.DayKey) (reconciliation.Day, error) {
	if day, ok := d.tx.days[key]; ok {
		return day, nil
	}
	if day, ok := d.tx.store.days[key]; ok {
		return day, nil
	}
	return reconciliation.OpenDay(key), nil
}

func (d dayTx) MarkFinalized(ctx context.Context, key reconciliation.DayKey, actorID int64, at time.Time) (reconciliation.Day, error) {
	day := reconciliation.OpenDay(key)
	day.Finalized = true
	day.Status = shared.DayStatusFinalized
	day.FinalizedBy = &actorID
	day.FinalizedAt = &at
	d.tx.days[key] = day
	return day, nil
}

// priceRepo exposes the same store to fuelprices.Service.
type priceRepo struct{ store *memoryStore }

func (p priceRepo) WithTx(ctx context.Context, fn func(context.Context, fuelprices.TxRepository) error) error {
	tx := p.store.begin()
	return p.store.finish(tx, fn(ctx, priceTx{tx}))
}

func (p priceRepo) PriceAt(ctx context.Context, key fuelprices.Key, at time.Time) (decimal.Decimal, error) {
	tx := p.store.begin()
	defer p.store.mu.Unlock()
	return tx.PriceAt(ctx, key, at)
}

func (p priceRepo) ListIntervals(ctx context.Context, key fuelprices.Key) ([]fuelprices.Interval, error) {
	all, _ := p.ListAllIntervals(ctx)
	var out []fuelprices.Interval
	for _, iv := range all {
		if iv.Key() == key {
			out = append(out, iv)
		}
	}
	return out, nil
}

func (p priceRepo) ListAllIntervals(ctx context.Context) ([]fuelprices.Interval, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	return append([]fuelprices.Interval(nil), p.store.intervals...), nil
}

type priceTx struct{ tx *memoryTx }

func (p priceTx) LockTimeline(ctx context.Context, key fuelprices.Key) error { return nil }

func (p priceTx) FindContainingForUpdate(ctx context.Context, key fuelprices.Key, at time.Time) (fuelprices.Interval, error) {
	var matching []fuelprices.Interval
	for _, iv := range p.tx.intervals {
		if iv.Key() == key {
			matching = append(matching, iv)
		}
	}
	iv, ok := fuelprices.Resolve(matching, at)
	if !ok {
		return fuelprices.Interval{}, shared.ErrNotFound
	}
	return iv, nil
}

func (p priceTx) NextIntervalAfter(ctx context.Context, key fuelprices.Key, at time.Time) (fuelprices.Interval, error) {
	for _, iv := range p.tx.intervals {
		if iv.Key() == key && iv.EffectiveFrom.After(at) {
			return iv, nil
		}
	}
	return fuelprices.Interval{}, shared.ErrNotFound
}

func (p priceTx) CloseInterval(ctx context.Context, id int64, effectiveTo time.Time) error {
	for i := range p.tx.intervals {
		if p.tx.intervals[i].ID == id {
			to := effectiveTo
			p.tx.intervals[i].EffectiveTo = &to
		}
	}
	return nil
}

func (p priceTx) InsertInterval(ctx context.Context, in fuelprices.CreatePriceInput, createdAt time.Time) (fuelprices.Interval, error) {
	iv := fuelprices.Interval{
		ID:            p.tx.id(),
		TenantID:      in.TenantID,
		StationID:     in.StationID,
		FuelType:      in.FuelType,
		Price:         in.Price,
		EffectiveFrom: in.EffectiveFrom,
		CreatedBy:     in.ActorID,
		CreatedAt:     createdAt,
	}
	p.tx.intervals = append(p.tx.intervals, iv)
	return iv, nil
}

func (p priceTx) PriceAt(ctx context.Context, key fuelprices.Key, at time.Time) (decimal.Decimal, error) {
	return p.tx.PriceAt(ctx, key, at)
}
