package risk

import (
	"github.com/shopspring/decimal"

	"trend-trader/internal/types"
)

var hundred = decimal.NewFromInt(100)

// Sizer converts capital into share counts. One unit is Unit × UnitBasePct
// percent of the capital base; a regular buy uses half a unit.
type Sizer struct {
	Unit        float64
	UnitBasePct float64
}

func NewSizer(unit, unitBasePct float64) Sizer {
	return Sizer{Unit: unit, UnitBasePct: unitBasePct}
}

// UnitValue is the money value of one unit for the given capital base.
func (s Sizer) UnitValue(capital decimal.Decimal) decimal.Decimal {
	return capital.Mul(decimal.NewFromFloat(s.Unit)).Mul(decimal.NewFromFloat(s.UnitBasePct)).Div(hundred)
}

// HalfUnitShares is floor(capital × unit/2 × pct / price).
func (s Sizer) HalfUnitShares(capital decimal.Decimal, price int64) int64 {
	return shares(s.UnitValue(capital).Div(decimal.NewFromInt(2)), price)
}

// FullUnitShares is the share count of a whole unit.
func (s Sizer) FullUnitShares(capital decimal.Decimal, price int64) int64 {
	return shares(s.UnitValue(capital), price)
}

func shares(value decimal.Decimal, price int64) int64 {
	if price <= 0 || !value.IsPositive() {
		return 0
	}
	return value.Div(decimal.NewFromInt(price)).Floor().IntPart()
}

// UnitsHeld expresses a position's value in units of the capital base.
func (s Sizer) UnitsHeld(positionValue, capital decimal.Decimal) float64 {
	unit := s.UnitValue(capital)
	if !unit.IsPositive() {
		return 0
	}
	f, _ := positionValue.Div(unit).Float64()
	return f
}

// CanBuyMoreUnits reports whether the position is still below maxUnits.
func (s Sizer) CanBuyMoreUnits(positionValue, capital decimal.Decimal, maxUnits float64) bool {
	return s.UnitsHeld(positionValue, capital) < maxUnits
}

// CapitalBase is available cash plus the mark-to-market value of every open
// position. A position without a mark is valued at its average price.
func CapitalBase(available int64, positions []types.Position, marks map[string]int64) decimal.Decimal {
	total := decimal.NewFromInt(available)
	for _, p := range positions {
		if p.Quantity <= 0 {
			continue
		}
		if mark, ok := marks[p.StockCode]; ok && mark > 0 {
			total = total.Add(p.MarketValue(mark))
			continue
		}
		total = total.Add(p.AvgPrice.Mul(decimal.NewFromInt(p.Quantity)))
	}
	return total
}
