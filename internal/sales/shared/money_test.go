package shared

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPercentOf(t *testing.T) {
	assert.True(t, decimal.NewFromInt(1200).Equal(PercentOf(decimal.NewFromInt(8000), decimal.NewFromInt(15))))
	assert.True(t, decimal.RequireFromString("0.01").Equal(PercentOf(decimal.RequireFromString("0.10"), decimal.NewFromInt(5))))
	assert.True(t, decimal.RequireFromString("333.33").Equal(PercentOf(decimal.NewFromInt(1000), decimal.RequireFromString("33.333"))))
}

func TestNonNegative(t *testing.T) {
	assert.True(t, decimal.Zero.Equal(NonNegative(decimal.NewFromInt(-5))))
	assert.True(t, decimal.NewFromInt(5).Equal(NonNegative(decimal.NewFromInt(5))))
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "RM 1,200.00", FormatMoney(decimal.NewFromInt(1200)))
	assert.Equal(t, "RM 500.50", FormatMoney(decimal.RequireFromString("500.5")))
	assert.Equal(t, "12.5%", FormatPercent(decimal.RequireFromString("12.50")))
}
