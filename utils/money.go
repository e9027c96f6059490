package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// Currency precision is fixed at 2 decimal places; ledger math rounds
// half-even so repeated aggregation introduces no cent drift.

// RoundMoney rounds d to 2 decimal places using banker's rounding.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// Percent returns pct% of base, rounded to money precision.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return RoundMoney(base.Mul(pct).Div(decimal.NewFromInt(100)))
}

// Round2 rounds x to 2 decimal places. Only used for normalizing float64 DTO
// fields at the HTTP edge; ledger amounts are decimal.Decimal throughout.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
