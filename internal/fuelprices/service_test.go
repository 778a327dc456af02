package fuelprices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelsync/fuelsync/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	intervals  []Interval
	nextID     int64
	listCalls  int
	insertErr  error
	lockedKeys []Key
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{repo: m, intervals: append([]Interval(nil), m.intervals...), nextID: m.nextID}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.intervals = tx.intervals
	m.nextID = tx.nextID
	return nil
}

func (m *memoryRepo) PriceAt(ctx context.Context, key Key, at time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := Resolve(filterKey(m.intervals, key), at)
	if !ok {
		return decimal.Decimal{}, shared.ErrNotFound
	}
	return iv.Price, nil
}

func (m *memoryRepo) ListIntervals(ctx context.Context, key Key) ([]Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return filterKey(m.intervals, key), nil
}

func (m *memoryRepo) ListAllIntervals(ctx context.Context) ([]Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Interval(nil), m.intervals...), nil
}

func filterKey(intervals []Interval, key Key) []Interval {
	var out []Interval
	for _, iv := range intervals {
		if iv.Key() == key {
			out = append(out, iv)
		}
	}
	return out
}

type memoryTx struct {
	repo      *memoryRepo
	intervals []Interval
	nextID    int64
}

func (tx *memoryTx) LockTimeline(ctx context.Context, key Key) error {
	tx.repo.lockedKeys = append(tx.repo.lockedKeys, key)
	return nil
}

func (tx *memoryTx) FindContainingForUpdate(ctx context.Context, key Key, at time.Time) (Interval, error) {
	iv, ok := Resolve(filterKey(tx.intervals, key), at)
	if !ok {
		return Interval{}, shared.ErrNotFound
	}
	return iv, nil
}

func (tx *memoryTx) NextIntervalAfter(ctx context.Context, key Key, at time.Time) (Interval, error) {
	var (
		best  Interval
		found bool
	)
	for _, iv := range filterKey(tx.intervals, key) {
		if iv.EffectiveFrom.After(at) && (!found || iv.EffectiveFrom.Before(best.EffectiveFrom)) {
			best, found = iv, true
		}
	}
	if !found {
		return Interval{}, shared.ErrNotFound
	}
	return best, nil
}

func (tx *memoryTx) CloseInterval(ctx context.Context, id int64, effectiveTo time.Time) error {
	for i := range tx.intervals {
		if tx.intervals[i].ID == id && tx.intervals[i].Open() {
			to := effectiveTo
			tx.intervals[i].EffectiveTo = &to
			return nil
		}
	}
	return shared.ErrOverlappingPriceRange
}

func (tx *memoryTx) InsertInterval(ctx context.Context, in CreatePriceInput, createdAt time.Time) (Interval, error) {
	if tx.repo.insertErr != nil {
		return Interval{}, tx.repo.insertErr
	}
	tx.nextID++
	iv := Interval{
		ID:            tx.nextID,
		TenantID:      in.TenantID,
		StationID:     in.StationID,
		FuelType:      in.FuelType,
		Price:         in.Price,
		EffectiveFrom: in.EffectiveFrom,
		CreatedBy:     in.ActorID,
		CreatedAt:     createdAt,
	}
	tx.intervals = append(tx.intervals, iv)
	return iv, nil
}

func (tx *memoryTx) PriceAt(ctx context.Context, key Key, at time.Time) (decimal.Decimal, error) {
	iv, ok := Resolve(filterKey(tx.intervals, key), at)
	if !ok {
		return decimal.Decimal{}, shared.ErrNotFound
	}
	return iv.Price, nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []shared.AuditLog
	err    error
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, log)
	return a.err
}

var (
	dieselKey = Key{TenantID: 1, StationID: 7, FuelType: "DIESEL"}
	jan1      = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb1      = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
)

func newTestService(repo RepositoryPort, cache *Cache, audit AuditPort) *Service {
	svc := NewService(repo, cache, audit, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.WithNow(func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) })
	return svc
}

func createPrice(t *testing.T, svc *Service, key Key, price string, from time.Time) Interval {
	t.Helper()
	iv, err := svc.CreateFuelPrice(context.Background(), CreatePriceInput{
		Key:           key,
		Price:         decimal.RequireFromString(price),
		EffectiveFrom: from,
		ActorID:       3,
	})
	require.NoError(t, err)
	return iv
}

func TestCreateFuelPriceClosesOpenInterval(t *testing.T) {
	repo := &memoryRepo{}
	audit := &recordingAudit{}
	svc := newTestService(repo, nil, audit)

	p1 := createPrice(t, svc, dieselKey, "100", jan1)
	p2 := createPrice(t, svc, dieselKey, "110", feb1)

	intervals, err := svc.ListIntervals(context.Background(), dieselKey)
	require.NoError(t, err)
	require.Len(t, intervals, 2)
	require.NotNil(t, intervals[0].EffectiveTo)
	assert.Equal(t, p1.ID, intervals[0].ID)
	assert.True(t, intervals[0].EffectiveTo.Equal(feb1.Add(-time.Millisecond)))
	assert.True(t, intervals[1].Open())
	assert.Equal(t, p2.ID, intervals[1].ID)

	before, err := svc.GetEffectivePrice(context.Background(), dieselKey, feb1.Add(-2*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, before.Equal(decimal.NewFromInt(100)))

	at, err := svc.GetEffectivePrice(context.Background(), dieselKey, feb1)
	require.NoError(t, err)
	assert.True(t, at.Equal(decimal.NewFromInt(110)))

	require.Len(t, audit.events, 2)
	assert.Equal(t, "price.created", audit.events[1].Action)
	assert.Equal(t, p1.ID, audit.events[1].Meta["closed_interval_id"])
	assert.Contains(t, repo.lockedKeys, dieselKey)
}

func TestCreateFuelPriceRejectsClosedOverlap(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo, nil, nil)
	createPrice(t, svc, dieselKey, "100", jan1)
	createPrice(t, svc, dieselKey, "110", feb1)

	_, err := svc.CreateFuelPrice(context.Background(), CreatePriceInput{
		Key:           dieselKey,
		Price:         decimal.NewFromInt(105),
		EffectiveFrom: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, shared.ErrOverlappingPriceRange)

	intervals, _ := repo.ListAllIntervals(context.Background())
	assert.Len(t, intervals, 2)
	assert.True(t, intervals[0].EffectiveTo.Equal(feb1.Add(-time.Millisecond)))
}

func TestCreateFuelPriceClosureBoundary(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo, nil, nil)
	createPrice(t, svc, dieselKey, "100", jan1)

	// Closing at jan1 - 1ms would invert the open interval.
	_, err := svc.CreateFuelPrice(context.Background(), CreatePriceInput{Key: dieselKey, Price: decimal.NewFromInt(101), EffectiveFrom: jan1})
	require.ErrorIs(t, err, shared.ErrOverlappingPriceRange)

	// One tick later the open interval shrinks to the single instant jan1.
	next := jan1.Add(ClosureTick)
	createPrice(t, svc, dieselKey, "101", next)

	intervals, err := repo.ListAllIntervals(context.Background())
	require.NoError(t, err)
	require.Len(t, intervals, 2)
	require.NotNil(t, intervals[0].EffectiveTo)
	assert.True(t, intervals[0].EffectiveTo.Equal(jan1))
	assert.Empty(t, FindViolations(intervals))

	price, err := svc.GetEffectivePrice(context.Background(), dieselKey, jan1)
	require.NoError(t, err)
	assert.Equal(t, "100", price.String())
	price, err = svc.GetEffectivePrice(context.Background(), dieselKey, next)
	require.NoError(t, err)
	assert.Equal(t, "101", price.String())
}

func TestCreateFuelPriceRejectsInsertBeforeHistory(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo, nil, nil)
	createPrice(t, svc, dieselKey, "100", feb1)

	_, err := svc.CreateFuelPrice(context.Background(), CreatePriceInput{Key: dieselKey, Price: decimal.NewFromInt(90), EffectiveFrom: jan1})
	require.ErrorIs(t, err, shared.ErrOverlappingPriceRange)
	intervals, _ := repo.ListAllIntervals(context.Background())
	assert.Len(t, intervals, 1)
}

func TestCreateFuelPriceValidation(t *testing.T) {
	svc := newTestService(&memoryRepo{}, nil, nil)
	cases := []struct {
		name string
		in   CreatePriceInput
		want error
	}{
		{"zero price", CreatePriceInput{Key: dieselKey, Price: decimal.Zero, EffectiveFrom: jan1}, shared.ErrInvalidPrice},
		{"negative price", CreatePriceInput{Key: dieselKey, Price: decimal.NewFromInt(-1), EffectiveFrom: jan1}, shared.ErrInvalidPrice},
		{"price below storage scale", CreatePriceInput{Key: dieselKey, Price: decimal.RequireFromString("0.0000001"), EffectiveFrom: jan1}, shared.ErrInvalidPrice},
		{"price with seven places", CreatePriceInput{Key: dieselKey, Price: decimal.RequireFromString("101.1234567"), EffectiveFrom: jan1}, shared.ErrInvalidPrice},
		{"missing instant", CreatePriceInput{Key: dieselKey, Price: decimal.NewFromInt(1)}, shared.ErrValidation},
		{"missing fuel", CreatePriceInput{Key: Key{TenantID: 1, StationID: 7, FuelType: "  "}, Price: decimal.NewFromInt(1), EffectiveFrom: jan1}, shared.ErrValidation},
		{"missing station", CreatePriceInput{Key: Key{TenantID: 1, FuelType: "DIESEL"}, Price: decimal.NewFromInt(1), EffectiveFrom: jan1}, shared.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateFuelPrice(context.Background(), tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, shared.CodeInvalidPrice, shared.CodeOf(func() error {
		_, err := svc.CreateFuelPrice(context.Background(), cases[0].in)
		return err
	}()))
}

func TestCreateFuelPriceAcceptsStorageScale(t *testing.T) {
	svc := newTestService(&memoryRepo{}, nil, nil)
	iv := createPrice(t, svc, dieselKey, "101.123456", jan1)
	assert.Equal(t, "101.123456", iv.Price.String())

	// Trailing zeros beyond the scale do not change the value.
	createPrice(t, svc, Key{TenantID: 1, StationID: 7, FuelType: "PETROL"}, "99.5000000", jan1)
}

func TestCreateFuelPriceNormalizesFuelType(t *testing.T) {
	svc := newTestService(&memoryRepo{}, nil, nil)
	iv := createPrice(t, svc, Key{TenantID: 1, StationID: 7, FuelType: " premium diesel"}, "120.50", jan1)
	assert.Equal(t, "PREMIUM_DIESEL", iv.FuelType)

	price, err := svc.GetEffectivePrice(context.Background(), Key{TenantID: 1, StationID: 7, FuelType: "Premium-Diesel"}, feb1)
	require.NoError(t, err)
	assert.Equal(t, "120.5", price.String())
}

func TestCreateFuelPriceInsertFailureRollsBackClosure(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo, nil, nil)
	createPrice(t, svc, dieselKey, "100", jan1)

	repo.insertErr = errors.New("disk full")
	_, err := svc.CreateFuelPrice(context.Background(), CreatePriceInput{Key: dieselKey, Price: decimal.NewFromInt(110), EffectiveFrom: feb1})
	require.Error(t, err)

	intervals, _ := repo.ListAllIntervals(context.Background())
	require.Len(t, intervals, 1)
	assert.True(t, intervals[0].Open())
}

func TestGetEffectivePriceNotFound(t *testing.T) {
	svc := newTestService(&memoryRepo{}, nil, nil)
	createPrice(t, svc, dieselKey, "100", feb1)
	_, err := svc.GetEffectivePrice(context.Background(), dieselKey, jan1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAuditFailureDoesNotFailCreate(t *testing.T) {
	audit := &recordingAudit{err: errors.New("queue down")}
	svc := newTestService(&memoryRepo{}, nil, audit)
	createPrice(t, svc, dieselKey, "100", jan1)
	assert.Len(t, audit.events, 1)
}

func TestTimelineNeverOverlaps(t *testing.T) {
	repo := &memoryRepo{}
	svc := newTestService(repo, nil, nil)
	rng := rand.New(rand.NewSource(42))
	keys := []Key{dieselKey, {TenantID: 1, StationID: 7, FuelType: "PETROL"}, {TenantID: 2, StationID: 7, FuelType: "DIESEL"}}

	accepted := 0
	for i := 0; i < 400; i++ {
		key := keys[rng.Intn(len(keys))]
		from := jan1.Add(time.Duration(rng.Intn(90*24)) * time.Hour).Add(time.Duration(rng.Intn(3)) * time.Millisecond)
		price := decimal.NewFromInt(int64(rng.Intn(200) - 10))
		_, err := svc.CreateFuelPrice(context.Background(), CreatePriceInput{Key: key, Price: price, EffectiveFrom: from})
		if err == nil {
			accepted++
		} else {
			code := shared.CodeOf(err)
			require.Contains(t, []shared.ErrorCode{shared.CodeOverlappingPriceRange, shared.CodeInvalidPrice}, code, fmt.Sprint(err))
		}
		all, err := svc.ScanIntegrity(context.Background())
		require.NoError(t, err)
		require.Empty(t, all, "iteration %d", i)
	}
	assert.Positive(t, accepted)

	for _, key := range keys {
		intervals, err := svc.ListIntervals(context.Background(), key)
		require.NoError(t, err)
		open := 0
		for _, iv := range intervals {
			if iv.Open() {
				open++
			}
		}
		assert.LessOrEqual(t, open, 1)
	}
}

func newCachedService(t *testing.T, repo *memoryRepo) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return newTestService(repo, NewCache(client, time.Minute), nil), mr
}

func TestCachedEffectivePriceUsesCacheUntilBump(t *testing.T) {
	repo := &memoryRepo{}
	svc, _ := newCachedService(t, repo)
	createPrice(t, svc, dieselKey, "100", jan1)

	iv, err := svc.CachedEffectivePrice(context.Background(), dieselKey, feb1)
	require.NoError(t, err)
	assert.Equal(t, "100", iv.Price.String())
	iv, err = svc.CachedEffectivePrice(context.Background(), dieselKey, feb1)
	require.NoError(t, err)
	assert.Equal(t, "100", iv.Price.String())
	assert.Equal(t, 1, repo.listCalls)

	createPrice(t, svc, dieselKey, "110", feb1)
	iv, err = svc.CachedEffectivePrice(context.Background(), dieselKey, feb1)
	require.NoError(t, err)
	assert.Equal(t, "110", iv.Price.String())
	assert.Equal(t, 2, repo.listCalls)

	_, err = svc.CachedEffectivePrice(context.Background(), dieselKey, jan1.Add(-time.Hour))
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCacheBumpPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewCache(client, time.Minute)

	ctx := context.Background()
	sub := client.Subscribe(ctx, BumpChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	v1, err := cache.Version(ctx, dieselKey)
	require.NoError(t, err)
	require.NoError(t, cache.Bump(ctx, dieselKey))
	v2, err := cache.Version(ctx, dieselKey)
	require.NoError(t, err)
	assert.Equal(t, v1+1, v2)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1/7/DIESEL@2", msg.Payload)
}

func TestNilCacheFallsThroughToLoader(t *testing.T) {
	var cache *Cache
	calls := 0
	intervals, hit, err := cache.Timeline(context.Background(), dieselKey, func(context.Context) ([]Interval, error) {
		calls++
		return []Interval{{ID: 1}}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, intervals, 1)
	assert.Equal(t, 1, calls)
	assert.NoError(t, cache.Bump(context.Background(), dieselKey))
}
