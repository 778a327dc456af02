// Package readings ingests nozzle meter readings and turns each into a priced sale.
package readings

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fuelsync/fuelsync/internal/shared"
)

// Kind classifies a reading against the nozzle's previous reading.
type Kind string

const (
	KindFirstReading Kind = "FIRST_READING"
	KindNormal       Kind = "NORMAL"
	KindMeterReset   Kind = "METER_RESET"
	KindZeroVolume   Kind = "ZERO_VOLUME"
)

// PaymentMethod is how the dispensed fuel was paid for.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "CASH"
	PaymentCard   PaymentMethod = "CARD"
	PaymentUPI    PaymentMethod = "UPI"
	PaymentCredit PaymentMethod = "CREDIT"
)

// ParsePaymentMethod normalises and validates a payment method code.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch method := PaymentMethod(shared.NormalizeCode(raw)); method {
	case PaymentCash, PaymentCard, PaymentUPI, PaymentCredit:
		return method, nil
	default:
		return "", shared.NewValidationError("payment_method", fmt.Sprintf("unsupported payment method %q", raw))
	}
}

// Status of a reading and its sale.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusVoided Status = "VOIDED"
)

// WarningZeroVolume flags a reading equal to the previous one.
const WarningZeroVolume = "meter value unchanged since previous reading; sale recorded with zero volume"

// Reading is a raw meter value captured for a nozzle.
type Reading struct {
	ID            int64           `json:"id"`
	TenantID      int64           `json:"tenant_id"`
	NozzleID      int64           `json:"nozzle_id"`
	StationID     int64           `json:"station_id"`
	Value         decimal.Decimal `json:"reading"`
	RecordedAt    time.Time       `json:"recorded_at"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CreditorID    *int64          `json:"creditor_id,omitempty"`
	Status        Status          `json:"status"`
	Kind          Kind            `json:"kind"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	Sale          *Sale           `json:"sale,omitempty"`
}

// Sale is the monetary record derived from a reading. Price is a snapshot.
type Sale struct {
	ID            int64           `json:"id"`
	TenantID      int64           `json:"tenant_id"`
	ReadingID     int64           `json:"reading_id"`
	NozzleID      int64           `json:"nozzle_id"`
	StationID     int64           `json:"station_id"`
	FuelType      string          `json:"fuel_type"`
	Volume        decimal.Decimal `json:"volume"`
	Price         decimal.Decimal `json:"fuel_price"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CreditorID    *int64          `json:"creditor_id,omitempty"`
	Status        Status          `json:"status"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

// CreateReadingInput carries a new meter reading.
type CreateReadingInput struct {
	TenantID      int64
	NozzleID      int64
	Value         decimal.Decimal
	RecordedAt    time.Time
	PaymentMethod string
	CreditorID    *int64
	ActorID       int64
}

// ReadingScale is the number of decimal places stored for meter values and volumes.
const ReadingScale = 3

// Validate checks the input and returns the parsed payment method.
func (in CreateReadingInput) Validate() (PaymentMethod, error) {
	switch {
	case in.TenantID <= 0:
		return "", shared.NewValidationError("tenant_id", "is required")
	case in.NozzleID <= 0:
		return "", shared.NewValidationError("nozzle_id", "is required")
	case in.Value.IsNegative():
		return "", shared.NewValidationError("reading", "must not be negative")
	case !in.Value.Equal(in.Value.Truncate(ReadingScale)):
		return "", shared.NewValidationError("reading", fmt.Sprintf("must have at most %d decimal places", ReadingScale))
	case in.RecordedAt.IsZero():
		return "", shared.NewValidationError("recorded_at", "is required")
	}
	method, err := ParsePaymentMethod(in.PaymentMethod)
	if err != nil {
		return "", err
	}
	if method == PaymentCredit && (in.CreditorID == nil || *in.CreditorID <= 0) {
		return "", shared.NewValidationError("creditor_id", "is required for credit sales")
	}
	if method != PaymentCredit && in.CreditorID != nil {
		return "", shared.NewValidationError("creditor_id", "is only allowed for credit sales")
	}
	return method, nil
}

// Result summarises a created reading.
type Result struct {
	ReadingID    int64           `json:"reading_id"`
	SaleID       int64           `json:"sale_id"`
	Volume       decimal.Decimal `json:"volume"`
	Kind         Kind            `json:"kind"`
	Price        decimal.Decimal `json:"fuel_price"`
	Amount       decimal.Decimal `json:"amount"`
	BusinessDate string          `json:"business_date"`
	Warning      string          `json:"warning,omitempty"`
}

// VoidReadingInput carries a void request from the audit workflow.
type VoidReadingInput struct {
	TenantID  int64
	ReadingID int64
	ActorID   int64
	Reason    string
}

// Validate checks the void request.
func (in VoidReadingInput) Validate() error {
	switch {
	case in.TenantID <= 0:
		return shared.NewValidationError("tenant_id", "is required")
	case in.ReadingID <= 0:
		return shared.NewValidationError("reading_id", "is required")
	case in.Reason == "":
		return shared.NewValidationError("reason", "is required")
	}
	return nil
}
