package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"trend-trader/internal/types"
)

// LeverageCheck is the outcome of one leverage test. Percentages are stock
// value over net assets.
type LeverageCheck struct {
	Allowed   bool
	Current   decimal.Decimal
	Projected decimal.Decimal
	Max       decimal.Decimal
}

func (c LeverageCheck) String() string {
	return fmt.Sprintf("current=%s%% projected=%s%% max=%s%%",
		c.Current.StringFixed(1), c.Projected.StringFixed(1), c.Max.StringFixed(1))
}

// BalanceSource supplies the account summary.
type BalanceSource interface {
	Balance(ctx context.Context) (types.AccountBalance, error)
}

// LeverageGuard rejects buys that would push leverage above MaxPct.
type LeverageGuard struct {
	MaxPct decimal.Decimal
}

func NewLeverageGuard(maxPct float64) LeverageGuard {
	return LeverageGuard{MaxPct: decimal.NewFromFloat(maxPct)}
}

// Check projects (stock assets + buyAmount) / net assets and allows the buy
// only if the projection stays at or below the ceiling.
func (g LeverageGuard) Check(bal types.AccountBalance, buyAmount int64) LeverageCheck {
	c := LeverageCheck{Max: g.MaxPct, Current: bal.LeveragePct()}
	if bal.NetAssets <= 0 {
		c.Projected = c.Current
		return c
	}
	c.Projected = decimal.NewFromInt(bal.StockAssets + buyAmount).Mul(hundred).Div(decimal.NewFromInt(bal.NetAssets))
	c.Allowed = c.Projected.LessThanOrEqual(g.MaxPct)
	return c
}

// CheckAccount fetches the balance and checks it. A balance error denies.
func (g LeverageGuard) CheckAccount(ctx context.Context, src BalanceSource, buyAmount int64) (LeverageCheck, error) {
	bal, err := src.Balance(ctx)
	if err != nil {
		return LeverageCheck{Max: g.MaxPct}, fmt.Errorf("leverage balance: %w", err)
	}
	return g.Check(bal, buyAmount), nil
}
