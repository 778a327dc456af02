// Package fuelprices owns the temporal price ledger: per (tenant, station, fuel type)
// a gap-tolerant, non-overlapping sequence of price intervals of which at most one is open.
package fuelprices

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fuelsync/fuelsync/internal/shared"
)

// ClosureTick is subtracted from a new interval's start to close the previous open interval.
const ClosureTick = time.Millisecond

// PriceScale is the number of decimal places stored for a price.
const PriceScale = 6

// Key identifies one price timeline.
type Key struct {
	TenantID  int64  `json:"tenant_id"`
	StationID int64  `json:"station_id"`
	FuelType  string `json:"fuel_type"`
}

// Normalize returns the key with a canonical fuel type code.
func (k Key) Normalize() Key {
	k.FuelType = shared.NormalizeCode(k.FuelType)
	return k
}

// Validate ensures every component of the key is present.
func (k Key) Validate() error {
	switch {
	case k.TenantID <= 0:
		return shared.NewValidationError("tenant_id", "is required")
	case k.StationID <= 0:
		return shared.NewValidationError("station_id", "is required")
	case k.FuelType == "":
		return shared.NewValidationError("fuel_type", "is required")
	}
	return nil
}

// LockKey returns the advisory lock key serialising mutations of this timeline.
func (k Key) LockKey() string {
	return shared.PriceLockKey(k.TenantID, k.StationID, k.FuelType)
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%s", k.TenantID, k.StationID, k.FuelType)
}

// Interval is one price valid from EffectiveFrom through EffectiveTo, both inclusive.
// A nil EffectiveTo marks the current, open-ended price.
type Interval struct {
	ID            int64           `json:"id"`
	TenantID      int64           `json:"tenant_id"`
	StationID     int64           `json:"station_id"`
	FuelType      string          `json:"fuel_type"`
	Price         decimal.Decimal `json:"price"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Key returns the timeline this interval belongs to.
func (i Interval) Key() Key {
	return Key{TenantID: i.TenantID, StationID: i.StationID, FuelType: i.FuelType}
}

// Open reports whether the interval has no end.
func (i Interval) Open() bool {
	return i.EffectiveTo == nil
}

// Contains reports whether at falls inside the interval.
func (i Interval) Contains(at time.Time) bool {
	if at.Before(i.EffectiveFrom) {
		return false
	}
	return i.EffectiveTo == nil || !at.After(*i.EffectiveTo)
}

// CreatePriceInput carries a price change request.
type CreatePriceInput struct {
	Key
	Price         decimal.Decimal
	EffectiveFrom time.Time
	ActorID       int64
}

// Validate checks the request before any lock is taken.
func (in CreatePriceInput) Validate() error {
	if err := in.Key.Validate(); err != nil {
		return err
	}
	if !in.Price.IsPositive() {
		return fmt.Errorf("fuelprices: %s: %w", in.Price.String(), shared.ErrInvalidPrice)
	}
	if !in.Price.Equal(in.Price.Truncate(PriceScale)) {
		return fmt.Errorf("fuelprices: %s exceeds %d decimal places: %w", in.Price.String(), PriceScale, shared.ErrInvalidPrice)
	}
	if in.EffectiveFrom.IsZero() {
		return shared.NewValidationError("effective_from", "is required")
	}
	return nil
}

// ViolationKind names a broken timeline invariant.
type ViolationKind string

const (
	ViolationOverlap      ViolationKind = "overlap"
	ViolationMultipleOpen ViolationKind = "multiple_open"
	ViolationInverted     ViolationKind = "inverted"
)

// Violation reports intervals breaking the timeline invariants.
type Violation struct {
	Key         Key           `json:"key"`
	Kind        ViolationKind `json:"kind"`
	IntervalIDs []int64       `json:"interval_ids"`
}

// FindViolations checks a set of intervals, possibly spanning many keys, for overlaps,
// multiple open intervals and inverted ranges.
func FindViolations(intervals []Interval) []Violation {
	byKey := make(map[Key][]Interval)
	var keys []Key
	for _, iv := range intervals {
		k := iv.Key()
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], iv)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].TenantID != keys[b].TenantID {
			return keys[a].TenantID < keys[b].TenantID
		}
		if keys[a].StationID != keys[b].StationID {
			return keys[a].StationID < keys[b].StationID
		}
		return keys[a].FuelType < keys[b].FuelType
	})

	var out []Violation
	for _, k := range keys {
		list := byKey[k]
		sort.Slice(list, func(a, b int) bool {
			if list[a].EffectiveFrom.Equal(list[b].EffectiveFrom) {
				return list[a].ID < list[b].ID
			}
			return list[a].EffectiveFrom.Before(list[b].EffectiveFrom)
		})
		var open []int64
		// reach is the interval extending furthest among those already visited.
		reach := -1
		for i, iv := range list {
			if iv.Open() {
				open = append(open, iv.ID)
			} else if iv.EffectiveTo.Before(iv.EffectiveFrom) {
				out = append(out, Violation{Key: k, Kind: ViolationInverted, IntervalIDs: []int64{iv.ID}})
				continue
			}
			if reach >= 0 {
				prev := list[reach]
				if prev.Open() || !iv.EffectiveFrom.After(*prev.EffectiveTo) {
					out = append(out, Violation{Key: k, Kind: ViolationOverlap, IntervalIDs: []int64{prev.ID, iv.ID}})
				}
			}
			if reach < 0 || endsAfter(iv, list[reach]) {
				reach = i
			}
		}
		if len(open) > 1 {
			out = append(out, Violation{Key: k, Kind: ViolationMultipleOpen, IntervalIDs: open})
		}
	}
	return out
}

func endsAfter(a, b Interval) bool {
	switch {
	case b.Open():
		return false
	case a.Open():
		return true
	}
	return a.EffectiveTo.After(*b.EffectiveTo)
}
