package eod

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"trend-trader/internal/types"
)

// AccountReader is the broker view needed for the daily aggregate.
type AccountReader interface {
	Holdings(ctx context.Context) ([]types.Holding, error)
	Balance(ctx context.Context) (types.AccountBalance, error)
}

type PortfolioSaver interface {
	SavePortfolioDaily(ctx context.Context, p types.PortfolioDaily) error
}

// BuildPortfolioDaily derives the account aggregate for date.
func BuildPortfolioDaily(date string, holdings []types.Holding, bal types.AccountBalance) types.PortfolioDaily {
	p := types.PortfolioDaily{
		Date:          date,
		NetAssets:     bal.NetAssets,
		StockAssets:   bal.StockAssets,
		Cash:          bal.Available,
		LeveragePct:   bal.LeveragePct().Round(2),
		CostBasis:     decimal.Zero,
		UnrealizedPnL: decimal.Zero,
	}
	codes := map[string]struct{}{}
	for _, h := range holdings {
		if h.Quantity <= 0 {
			continue
		}
		codes[h.StockCode] = struct{}{}
		cost := h.PurchaseAmount
		if cost == 0 {
			cost = h.AvgPrice * h.Quantity
		}
		eval := h.EvalAmount
		if eval == 0 {
			eval = h.CurrentPrice * h.Quantity
		}
		p.CostBasis = p.CostBasis.Add(decimal.NewFromInt(cost))
		p.UnrealizedPnL = p.UnrealizedPnL.Add(decimal.NewFromInt(eval - cost))
	}
	p.PositionCount = len(codes)
	return p
}

// SnapshotPortfolio reads the account and stores the aggregate for date.
func SnapshotPortfolio(ctx context.Context, acct AccountReader, saver PortfolioSaver, date string) (types.PortfolioDaily, error) {
	holdings, err := acct.Holdings(ctx)
	if err != nil {
		return types.PortfolioDaily{}, fmt.Errorf("portfolio holdings: %w", err)
	}
	bal, err := acct.Balance(ctx)
	if err != nil {
		return types.PortfolioDaily{}, fmt.Errorf("portfolio balance: %w", err)
	}
	p := BuildPortfolioDaily(date, holdings, bal)
	if err := saver.SavePortfolioDaily(ctx, p); err != nil {
		return p, fmt.Errorf("save portfolio %s: %w", date, err)
	}
	return p, nil
}
