package types

import (
	"github.com/shopspring/decimal"
)

// Amounts are carried as int64 minor units (cents). Decimal is only used for
// intermediate products that need rounding back to whole cents.

// RoundHalfUp rounds a decimal amount of cents to the nearest whole cent,
// with halves rounded away from zero.
func RoundHalfUp(amount decimal.Decimal) int64 {
	return amount.Round(0).IntPart()
}

// MultiplyRate returns round(amount × rate) in cents
func MultiplyRate(amountCents int64, rate decimal.Decimal) int64 {
	return RoundHalfUp(decimal.NewFromInt(amountCents).Mul(rate))
}

// MultiplyQuantity returns round(unitAmount × quantity) in cents
func MultiplyQuantity(unitAmountCents int64, quantity decimal.Decimal) int64 {
	return RoundHalfUp(decimal.NewFromInt(unitAmountCents).Mul(quantity))
}

// CentsToDecimal converts cents into a major unit decimal, e.g. 3132 -> 31.32
func CentsToDecimal(amountCents int64) decimal.Decimal {
	return decimal.New(amountCents, -2)
}

// FormatCents renders cents as a fixed two decimal string, e.g. 3132 -> "31.32"
func FormatCents(amountCents int64) string {
	return CentsToDecimal(amountCents).StringFixed(2)
}

// SumCents adds a list of amounts
func SumCents(amounts ...int64) int64 {
	var total int64
	for _, a := range amounts {
		total += a
	}
	return total
}
