package readings

import "github.com/shopspring/decimal"

// Classification is the outcome of comparing a reading with its predecessor.
type Classification struct {
	Kind   Kind
	Volume decimal.Decimal
}

// Classify derives the dispensed volume from the previous and current meter values.
//
// A missing or zero previous value starts a new baseline and counts the whole current
// value. A drop below the previous value is treated as a meter reset (rollover or
// replacement) and also counts the whole current value; that policy awaits product
// sign-off, so callers log and audit every reset.
func Classify(previous *decimal.Decimal, current decimal.Decimal) Classification {
	switch {
	case previous == nil || previous.IsZero():
		return Classification{Kind: KindFirstReading, Volume: current}
	case current.GreaterThan(*previous):
		return Classification{Kind: KindNormal, Volume: current.Sub(*previous)}
	case current.LessThan(*previous):
		return Classification{Kind: KindMeterReset, Volume: current}
	default:
		return Classification{Kind: KindZeroVolume, Volume: decimal.Zero}
	}
}

// Warning returns the caller-facing warning for the classification, if any.
func (c Classification) Warning() string {
	if c.Kind == KindZeroVolume {
		return WarningZeroVolume
	}
	return ""
}
