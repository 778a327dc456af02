package shared

import (
	"errors"
	"time"
)

// Day statuses of a station's business day.
const (
	DayStatusOpen      = "OPEN"
	DayStatusFinalized = "FINALIZED"
)

// ErrInvalidDayTransition indicates a status change that is not allowed.
var ErrInvalidDayTransition = errors.New("day transition invalid")

// ValidateDayTransition checks transitions; finalized days never reopen here.
func ValidateDayTransition(current, target string) error {
	if current == target {
		return nil
	}
	if current == DayStatusOpen && target == DayStatusFinalized {
		return nil
	}
	return ErrInvalidDayTransition
}

// BusinessDate returns the calendar date of t in loc, as midnight UTC.
func BusinessDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
