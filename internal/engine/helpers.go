package engine

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// breached reports whether price is at least pct percent below entry.
func breached(price int64, entry decimal.Decimal, pct float64) bool {
	if !entry.IsPositive() || pct <= 0 {
		return false
	}
	limit := entry.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(pct).Div(hundred)))
	return decimal.NewFromInt(price).LessThanOrEqual(limit)
}

// changePct is (price / entry − 1) × 100.
func changePct(price int64, entry decimal.Decimal) float64 {
	if !entry.IsPositive() {
		return 0
	}
	f, _ := decimal.NewFromInt(price).Div(entry).Sub(decimal.NewFromInt(1)).Mul(hundred).Round(2).Float64()
	return f
}
