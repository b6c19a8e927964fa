package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// DollarsToCents converts a float64 dollar amount to int64 cents.
// It rejects inputs with more than 2 decimal places and amounts whose cents
// do not fit in an int64. The conversion goes through the shortest decimal
// representation of f, so 1.10 is 110 cents and not 109.
func DollarsToCents(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not a monetary value", f)
	}
	d := decimal.NewFromFloat(f)
	if !d.Equal(d.Round(2)) {
		return 0, fmt.Errorf("monetary values must have at most 2 decimal places")
	}
	cents := d.Shift(2)
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return 0, fmt.Errorf("%s dollars: %w", d, ErrAmountOutOfRange)
	}
	return cents.IntPart(), nil
}

// CentsToDollars converts an int64 cents value to a float64 dollar amount.
func CentsToDollars(c int64) float64 {
	return float64(c) / 100.0
}

// CentsToDecimal converts cents to an exact decimal dollar amount.
func CentsToDecimal(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// MaxQuantity bounds the quantity of a single order or initial holding.
const MaxQuantity int64 = 1_000_000_000_000

// Notional returns price × quantity in cents, or ErrAmountOutOfRange when
// the product does not fit in an int64. Both operands must be positive.
func Notional(price, quantity int64) (int64, error) {
	if quantity > 0 && price > math.MaxInt64/quantity {
		return 0, fmt.Errorf("%d × %d cents: %w", quantity, price, ErrAmountOutOfRange)
	}
	return price * quantity, nil
}

// AddQuantity returns a + b, or ErrHoldingOverflow when the sum does not fit
// in an int64.
func AddQuantity(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, fmt.Errorf("%d%+d: %w", a, b, ErrHoldingOverflow)
	}
	return sum, nil
}
