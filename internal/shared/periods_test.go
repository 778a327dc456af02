package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusinessDateUsesLocation(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	late := time.Date(2024, 1, 10, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), BusinessDate(late, time.UTC))
	assert.Equal(t, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), BusinessDate(late, kolkata))
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), BusinessDate(late, nil))
}

func TestValidateDayTransition(t *testing.T) {
	assert.NoError(t, ValidateDayTransition(DayStatusOpen, DayStatusFinalized))
	assert.NoError(t, ValidateDayTransition(DayStatusFinalized, DayStatusFinalized))
	assert.ErrorIs(t, ValidateDayTransition(DayStatusFinalized, DayStatusOpen), ErrInvalidDayTransition)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, ClampLimit(0))
	assert.Equal(t, 10, ClampLimit(10))
	assert.Equal(t, MaxListLimit, ClampLimit(10_000))
}
