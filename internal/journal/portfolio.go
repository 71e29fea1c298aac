package journal

import (
	"context"
	"database/sql"

	"trend-trader/internal/types"
)

func (s *SQLite) SavePortfolioDaily(ctx context.Context, p types.PortfolioDaily) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portfolio_daily
		  (date, net_assets, stock_assets, cash, leverage_pct, position_count, cost_basis, unrealized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date) DO UPDATE SET
		    net_assets = excluded.net_assets,
		    stock_assets = excluded.stock_assets,
		    cash = excluded.cash,
		    leverage_pct = excluded.leverage_pct,
		    position_count = excluded.position_count,
		    cost_basis = excluded.cost_basis,
		    unrealized_pnl = excluded.unrealized_pnl`,
		p.Date, p.NetAssets, p.StockAssets, p.Cash, p.LeveragePct.String(), p.PositionCount,
		p.CostBasis.String(), p.UnrealizedPnL.String())
	return err
}

func (s *SQLite) PortfolioDailyOn(ctx context.Context, date string) (types.PortfolioDaily, error) {
	var p types.PortfolioDaily
	err := s.db.QueryRowContext(ctx, `
		SELECT date, net_assets, stock_assets, cash, leverage_pct, position_count, cost_basis, unrealized_pnl
		FROM portfolio_daily WHERE date = ?`, date).
		Scan(&p.Date, &p.NetAssets, &p.StockAssets, &p.Cash, &p.LeveragePct, &p.PositionCount,
			&p.CostBasis, &p.UnrealizedPnL)
	if err == sql.ErrNoRows {
		return p, types.ErrNotFound
	}
	return p, err
}
