// Package money converts between a currency's major unit (decimal, what the
// checkout UI shows) and its minor unit (integer, what the gateway bills in).
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrNegativeAmount = errors.New("amount must not be negative")

// DefaultMaxAmount is the upper bound accepted for a single order, in major
// units, unless overridden by configuration.
var DefaultMaxAmount = decimal.NewFromInt(1_000_000)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// ToMinorUnits converts a major-unit amount to minor units, rounding half
// away from zero (499.995 -> 50000).
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	return amount.Mul(hundred).Round(0).IntPart(), nil
}

// ToMajorUnits converts minor units back to a major-unit decimal.
func ToMajorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(hundred)
}

// ValidateAmount reports whether amount is chargeable: at least one major
// unit and at most max. Zero-value and absurd orders are rejected here,
// before any network call.
func ValidateAmount(amount, max decimal.Decimal) bool {
	if max.IsZero() {
		max = DefaultMaxAmount
	}
	return amount.GreaterThanOrEqual(one) && amount.LessThanOrEqual(max)
}
