package readings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelsync/fuelsync/internal/fuelprices"
	"github.com/fuelsync/fuelsync/internal/shared"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		previous *decimal.Decimal
		current  string
		volume   string
		kind     Kind
	}{
		{"no previous", nil, "500", "500", KindFirstReading},
		{"zero previous", decPtr("0"), "300", "300", KindFirstReading},
		{"increment", decPtr("500"), "550", "50", KindNormal},
		{"fractional increment", decPtr("1000.125"), "1012.5", "12.375", KindNormal},
		{"meter reset", decPtr("550"), "100", "100", KindMeterReset},
		{"unchanged", decPtr("500"), "500", "0", KindZeroVolume},
		{"unchanged different scale", decPtr("500.00"), "500", "0", KindZeroVolume},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.previous, dec(tc.current))
			assert.Equal(t, tc.kind, got.Kind)
			assert.True(t, got.Volume.Equal(dec(tc.volume)), "volume %s", got.Volume)
		})
	}
}

func TestClassificationWarning(t *testing.T) {
	assert.Equal(t, WarningZeroVolume, Classify(decPtr("5"), dec("5")).Warning())
	assert.Empty(t, Classify(decPtr("5"), dec("1")).Warning())
	assert.Empty(t, Classify(nil, dec("1")).Warning())
}

func TestAmountRoundsHalfUp(t *testing.T) {
	cases := []struct {
		volume, price string
		precision     int32
		want          string
	}{
		{"500", "100", 2, "50000"},
		{"50", "110", 2, "5500"},
		{"1.005", "1", 2, "1.01"},
		{"2.345", "1", 2, "2.35"},
		{"2.344", "1", 2, "2.34"},
		{"12.375", "101.25", 2, "1252.97"},
		{"0.125", "1", 2, "0.13"},
		{"3.3333", "3", 3, "10"},
		{"7.5", "1", 0, "8"},
		{"0", "104.5", 2, "0"},
	}
	for _, tc := range cases {
		got := Amount(dec(tc.volume), dec(tc.price), tc.precision)
		assert.True(t, got.Equal(dec(tc.want)), "%s x %s @%d = %s, want %s", tc.volume, tc.price, tc.precision, got, tc.want)
	}
}

type stubPrices struct {
	price decimal.Decimal
	err   error
}

func (s stubPrices) PriceAt(ctx context.Context, key fuelprices.Key, at time.Time) (decimal.Decimal, error) {
	return s.price, s.err
}

func TestComputeSale(t *testing.T) {
	key := fuelprices.Key{TenantID: 1, StationID: 7, FuelType: "DIESEL"}
	at := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	price, amount, err := ComputeSale(context.Background(), stubPrices{price: dec("100")}, key, dec("500"), at, 2)
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("100")))
	assert.True(t, amount.Equal(dec("50000")))

	_, _, err = ComputeSale(context.Background(), stubPrices{err: shared.ErrNotFound}, key, dec("1"), at, 2)
	require.ErrorIs(t, err, shared.ErrNoPriceDefined)
	assert.Equal(t, shared.CodeNoPriceDefined, shared.CodeOf(err))

	boom := errors.New("connection reset")
	_, _, err = ComputeSale(context.Background(), stubPrices{err: boom}, key, dec("1"), at, 2)
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, shared.ErrNoPriceDefined)
}

func TestCreateReadingInputValidate(t *testing.T) {
	at := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	creditor := int64(4)
	valid := CreateReadingInput{TenantID: 1, NozzleID: 2, Value: dec("10"), RecordedAt: at, PaymentMethod: "cash"}

	method, err := valid.Validate()
	require.NoError(t, err)
	assert.Equal(t, PaymentCash, method)

	scaled := valid
	scaled.Value = dec("125.1230")
	_, err = scaled.Validate()
	require.NoError(t, err)

	credit := valid
	credit.PaymentMethod = "Credit"
	credit.CreditorID = &creditor
	method, err = credit.Validate()
	require.NoError(t, err)
	assert.Equal(t, PaymentCredit, method)

	mutate := []func(*CreateReadingInput){
		func(in *CreateReadingInput) { in.TenantID = 0 },
		func(in *CreateReadingInput) { in.NozzleID = 0 },
		func(in *CreateReadingInput) { in.Value = dec("-0.001") },
		func(in *CreateReadingInput) { in.Value = dec("0.0005") },
		func(in *CreateReadingInput) { in.Value = dec("125.1234") },
		func(in *CreateReadingInput) { in.RecordedAt = time.Time{} },
		func(in *CreateReadingInput) { in.PaymentMethod = "barter" },
		func(in *CreateReadingInput) { in.PaymentMethod = "CREDIT" },
		func(in *CreateReadingInput) { in.CreditorID = &creditor },
	}
	for i, m := range mutate {
		in := valid
		m(&in)
		_, err := in.Validate()
		assert.ErrorIs(t, err, shared.ErrValidation, "case %d", i)
	}
}
