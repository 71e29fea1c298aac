package journal

import (
	"context"
	"database/sql"

	"trend-trader/internal/types"
)

// ReplaceHoldings stores the broker snapshot for a date, replacing any
// earlier snapshot taken the same day. The date is marked as taken even
// when holdings is empty, so a flat account reads back as flat.
func (s *SQLite) ReplaceHoldings(ctx context.Context, date string, holdings []types.Holding) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM holdings WHERE snapshot_date = ?`, date); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO holdings
			  (snapshot_date, stock_code, stock_name, quantity, avg_price, current_price, eval_amount,
			   pnl_amount, pnl_rate, loan_date, credit_class, purchase_amount, today_buy_qty, today_sell_qty)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (snapshot_date, stock_code, credit_class, loan_date) DO UPDATE SET
			    quantity = holdings.quantity + excluded.quantity,
			    purchase_amount = holdings.purchase_amount + excluded.purchase_amount,
			    eval_amount = holdings.eval_amount + excluded.eval_amount`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO holdings_snapshots (snapshot_date, positions, taken_at)
			VALUES (?, ?, datetime('now'))
			ON CONFLICT (snapshot_date) DO UPDATE SET
			    positions = excluded.positions,
			    taken_at = excluded.taken_at`, date, len(holdings)); err != nil {
			return err
		}
		for _, h := range holdings {
			if _, err := stmt.ExecContext(ctx,
				date, h.StockCode, h.StockName, h.Quantity, h.AvgPrice, h.CurrentPrice, h.EvalAmount,
				h.PnLAmount, h.PnLRate, h.LoanDate, string(h.CreditClass), h.PurchaseAmount,
				h.TodayBuyQty, h.TodaySellQty); err != nil {
				return err
			}
		}
		return nil
	})
}

// HoldingsOn returns the snapshot taken on date.
func (s *SQLite) HoldingsOn(ctx context.Context, date string) ([]types.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_date, stock_code, stock_name, quantity, avg_price, current_price, eval_amount,
		       pnl_amount, pnl_rate, loan_date, credit_class, purchase_amount, today_buy_qty, today_sell_qty
		FROM holdings WHERE snapshot_date = ?
		ORDER BY stock_code, credit_class, loan_date`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Holding
	for rows.Next() {
		var h types.Holding
		var class string
		if err := rows.Scan(&h.SnapshotDate, &h.StockCode, &h.StockName, &h.Quantity, &h.AvgPrice,
			&h.CurrentPrice, &h.EvalAmount, &h.PnLAmount, &h.PnLRate, &h.LoanDate, &class,
			&h.PurchaseAmount, &h.TodayBuyQty, &h.TodaySellQty); err != nil {
			return nil, err
		}
		h.CreditClass = types.CreditClass(class)
		out = append(out, h)
	}
	return out, rows.Err()
}

// LatestHoldings returns the most recent snapshot taken on or before date.
// Once date itself has been snapshotted its rows are returned, possibly
// none; earlier days are read only before the first snapshot of date.
func (s *SQLite) LatestHoldings(ctx context.Context, date string) ([]types.Holding, error) {
	var snap sql.NullString
	if err := s.db.QueryRowContext(ctx, `
		SELECT MAX(d) FROM (
		    SELECT snapshot_date AS d FROM holdings_snapshots WHERE snapshot_date <= ?
		    UNION ALL
		    SELECT snapshot_date FROM holdings WHERE snapshot_date <= ?
		)`, date, date).Scan(&snap); err != nil {
		return nil, err
	}
	if !snap.Valid {
		return nil, nil
	}
	return s.HoldingsOn(ctx, snap.String)
}
