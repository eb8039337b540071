package money_test

import (
	"testing"

	"payment-service/money"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestToMinorUnits(t *testing.T) {
	minor, err := money.ToMinorUnits(decimal.RequireFromString("499.99"))
	assert.NoError(t, err)
	assert.Equal(t, int64(49999), minor)

	minor, err = money.ToMinorUnits(decimal.RequireFromString("25000"))
	assert.NoError(t, err)
	assert.Equal(t, int64(2500000), minor)
}

func TestToMinorUnits_RoundsHalfAwayFromZero(t *testing.T) {
	minor, err := money.ToMinorUnits(decimal.RequireFromString("10.005"))
	assert.NoError(t, err)
	assert.Equal(t, int64(1001), minor)

	minor, err = money.ToMinorUnits(decimal.RequireFromString("10.004"))
	assert.NoError(t, err)
	assert.Equal(t, int64(1000), minor)
}

func TestToMinorUnits_RejectsNegative(t *testing.T) {
	_, err := money.ToMinorUnits(decimal.RequireFromString("-0.01"))
	assert.ErrorIs(t, err, money.ErrNegativeAmount)
}

func TestToMajorUnits(t *testing.T) {
	assert.True(t, decimal.RequireFromString("499.99").Equal(money.ToMajorUnits(49999)))
	assert.True(t, decimal.Zero.Equal(money.ToMajorUnits(0)))
}

func TestValidateAmount(t *testing.T) {
	max := decimal.NewFromInt(1_000_000)

	assert.False(t, money.ValidateAmount(decimal.Zero, max))
	assert.False(t, money.ValidateAmount(decimal.RequireFromString("0.99"), max))
	assert.True(t, money.ValidateAmount(decimal.NewFromInt(1), max))
	assert.True(t, money.ValidateAmount(decimal.NewFromInt(25000), max))
	assert.True(t, money.ValidateAmount(max, max))
	assert.False(t, money.ValidateAmount(max.Add(decimal.NewFromInt(1)), max))
}

func TestValidateAmount_ZeroMaxFallsBackToDefault(t *testing.T) {
	assert.True(t, money.ValidateAmount(decimal.NewFromInt(999_999), decimal.Zero))
	assert.False(t, money.ValidateAmount(decimal.NewFromInt(1_000_001), decimal.Zero))
}
