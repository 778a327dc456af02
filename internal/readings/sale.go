package readings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fuelsync/fuelsync/internal/fuelprices"
	"github.com/fuelsync/fuelsync/internal/shared"
)

// DefaultPrecision is the number of decimal places kept on sale amounts.
const DefaultPrecision int32 = 2

// PriceReader resolves the price effective at an instant.
type PriceReader interface {
	PriceAt(ctx context.Context, key fuelprices.Key, at time.Time) (decimal.Decimal, error)
}

// ComputeSale prices volume at recordedAt. A missing price fails with
// shared.ErrNoPriceDefined; sales are never recorded without a price.
func ComputeSale(ctx context.Context, prices PriceReader, key fuelprices.Key, volume decimal.Decimal, recordedAt time.Time, precision int32) (price, amount decimal.Decimal, err error) {
	price, err = prices.PriceAt(ctx, key, recordedAt)
	if errors.Is(err, shared.ErrNotFound) {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("readings: %s at %s: %w", key, recordedAt.Format(time.RFC3339), shared.ErrNoPriceDefined)
	}
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return price, Amount(volume, price, precision), nil
}

// Amount is volume × price rounded half-up to precision places. Volumes and prices are
// never negative, so decimal's half-away-from-zero rounding is half-up here.
func Amount(volume, price decimal.Decimal, precision int32) decimal.Decimal {
	return volume.Mul(price).Round(precision)
}
