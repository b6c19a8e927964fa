package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDollarsToCents_Accepted(t *testing.T) {
	tests := map[string]struct {
		dollars float64
		cents   int64
	}{
		"zero":                 {0, 0},
		"one cent":             {0.01, 1},
		"quote with dimes":     {148.5, 14850},
		"binary-unfriendly":    {1.10, 110},
		"just under a dollar":  {0.99, 99},
		"seller's ask":         {100.25, 10025},
		"negative balance":     {-50.25, -5025},
		"a billion dollars":    {1e9, 100_000_000_000},
		"near the int64 bound": {9e16, 9_000_000_000_000_000_000},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := DollarsToCents(tt.dollars)
			require.NoError(t, err)
			assert.Equal(t, tt.cents, got)
		})
	}
}

func TestDollarsToCents_Rejected(t *testing.T) {
	tests := map[string]struct {
		dollars    float64
		outOfRange bool
	}{
		"half a cent":       {100.005, false},
		"tenth of a cent":   {0.001, false},
		"three places":      {1.234, false},
		"above int64 cents": {1e17, true},
		"far above int64":   {1e300, true},
		"below int64 cents": {-1e17, true},
		"positive infinity": {math.Inf(1), false},
		"not a number":      {math.NaN(), false},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DollarsToCents(tt.dollars)
			require.Error(t, err)
			assert.Equal(t, tt.outOfRange, errors.Is(err, ErrAmountOutOfRange))
		})
	}
}

func TestCentsToDollars(t *testing.T) {
	assert.Equal(t, 0.0, CentsToDollars(0))
	assert.InDelta(t, 0.01, CentsToDollars(1), 1e-12)
	assert.InDelta(t, 148.5, CentsToDollars(14850), 1e-12)
	assert.InDelta(t, -50.25, CentsToDollars(-5025), 1e-12)
}

func TestCentsToDecimal(t *testing.T) {
	assert.Equal(t, "0", CentsToDecimal(0).String())
	assert.Equal(t, "0.01", CentsToDecimal(1).String())
	assert.Equal(t, "148.5", CentsToDecimal(14850).String())
	assert.Equal(t, "-50.25", CentsToDecimal(-5025).String())
	assert.Equal(t, "92233720368547758.07", CentsToDecimal(math.MaxInt64).String())
}

func TestNotional(t *testing.T) {
	got, err := Notional(14850, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(148500), got)

	got, err = Notional(1, math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got)

	_, err = Notional(2, math.MaxInt64/2+1)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)

	_, err = Notional(100_000_000_000, MaxQuantity)
	assert.ErrorIs(t, err, ErrAmountOutOfRange)
}

func TestAddQuantity(t *testing.T) {
	got, err := AddQuantity(5, -5)
	require.NoError(t, err)
	assert.Zero(t, got)

	got, err = AddQuantity(math.MaxInt64-1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got)

	_, err = AddQuantity(math.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrHoldingOverflow)

	_, err = AddQuantity(math.MinInt64, -1)
	assert.ErrorIs(t, err, ErrHoldingOverflow)
}
