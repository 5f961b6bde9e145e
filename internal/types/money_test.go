package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMultiplyRate(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		rate   string
		want   int64
	}{
		{name: "basic plan tax", amount: 2900, rate: "0.08", want: 232},
		{name: "half rounds up", amount: 1, rate: "0.5", want: 1},
		{name: "below half rounds down", amount: 1006, rate: "0.08", want: 80},
		{name: "exact half cent", amount: 1025, rate: "0.02", want: 21},
		{name: "zero amount", amount: 0, rate: "0.08", want: 0},
		{name: "zero rate", amount: 2900, rate: "0", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MultiplyRate(tt.amount, decimal.RequireFromString(tt.rate))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMultiplyQuantity(t *testing.T) {
	tests := []struct {
		name     string
		unit     int64
		quantity decimal.Decimal
		want     int64
	}{
		{name: "one overage minute", unit: 5, quantity: decimal.NewFromInt(1), want: 5},
		{name: "fractional unit price", unit: 3, quantity: decimal.RequireFromString("2.5"), want: 8},
		{name: "many seats", unit: 1500, quantity: decimal.NewFromInt(12), want: 18000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MultiplyQuantity(tt.unit, tt.quantity))
		})
	}
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "31.32", FormatCents(3132))
	assert.Equal(t, "0.05", FormatCents(5))
	assert.Equal(t, "0.00", FormatCents(0))
	assert.Equal(t, int64(3132), SumCents(2900, 232))
}
