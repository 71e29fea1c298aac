package journal

import (
	"context"
	"database/sql"
	"strings"

	"trend-trader/internal/types"
)

const lotColumns = `stock_code, stock_name, credit_class, loan_date, trade_date, net_quantity,
	avg_price, total_cost, is_closed, closed_date, current_price, unrealized_pnl, return_pct, holding_days`

const upsertLot = `
	INSERT INTO lots (` + lotColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (stock_code, credit_class, loan_date, trade_date) DO UPDATE SET
	    stock_name = excluded.stock_name,
	    net_quantity = excluded.net_quantity,
	    avg_price = excluded.avg_price,
	    total_cost = excluded.total_cost,
	    is_closed = excluded.is_closed,
	    closed_date = excluded.closed_date,
	    current_price = excluded.current_price,
	    unrealized_pnl = excluded.unrealized_pnl,
	    return_pct = excluded.return_pct,
	    holding_days = excluded.holding_days,
	    updated_at = datetime('now')`

// LotFilter narrows a lot query.
type LotFilter struct {
	StockCode string
	OpenOnly  bool
}

// ReplaceLots swaps the whole lot table for the given set in one
// transaction, so readers never observe a partially rebuilt ledger.
func (s *SQLite) ReplaceLots(ctx context.Context, lots []types.Lot) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM lots`); err != nil {
			return err
		}
		return upsertLots(ctx, tx, lots)
	})
}

// UpsertLots writes lots keyed by stock, credit class, loan date and
// trade date.
func (s *SQLite) UpsertLots(ctx context.Context, lots []types.Lot) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertLots(ctx, tx, lots)
	})
}

func upsertLots(ctx context.Context, tx *sql.Tx, lots []types.Lot) error {
	stmt, err := tx.PrepareContext(ctx, upsertLot)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, l := range lots {
		if _, err := stmt.ExecContext(ctx,
			l.StockCode, l.StockName, string(l.CreditClass), l.LoanDate, l.TradeDate, l.NetQuantity,
			l.AvgPrice.String(), l.TotalCost.String(), l.IsClosed, l.ClosedDate, l.CurrentPrice,
			l.UnrealizedPnL.String(), l.ReturnPct.String(), l.HoldingDays); err != nil {
			return err
		}
	}
	return nil
}

// Lots returns lots ordered by stock, then open date.
func (s *SQLite) Lots(ctx context.Context, f LotFilter) ([]types.Lot, error) {
	var where []string
	var args []any
	if f.StockCode != "" {
		where = append(where, "stock_code = ?")
		args = append(args, f.StockCode)
	}
	if f.OpenOnly {
		where = append(where, "is_closed = 0")
	}
	q := `SELECT ` + lotColumns + ` FROM lots`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY stock_code, credit_class, trade_date, loan_date"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Lot
	for rows.Next() {
		var l types.Lot
		var class string
		if err := rows.Scan(&l.StockCode, &l.StockName, &class, &l.LoanDate, &l.TradeDate, &l.NetQuantity,
			&l.AvgPrice, &l.TotalCost, &l.IsClosed, &l.ClosedDate, &l.CurrentPrice,
			&l.UnrealizedPnL, &l.ReturnPct, &l.HoldingDays); err != nil {
			return nil, err
		}
		l.CreditClass = types.CreditClass(class)
		out = append(out, l)
	}
	return out, rows.Err()
}
