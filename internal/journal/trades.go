package journal

import (
	"context"
	"database/sql"

	"trend-trader/internal/types"
)

// InsertTradeEvents appends trade events, ignoring ones already recorded
// for the same broker order number and date. It returns how many were new.
func (s *SQLite) InsertTradeEvents(ctx context.Context, events []types.TradeEvent) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO trade_history
			  (order_no, stock_code, stock_name, trade_type, quantity, price,
			   trade_date, trade_time, credit_class, loan_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range events {
			res, err := stmt.ExecContext(ctx,
				e.OrderNo, e.StockCode, e.StockName, e.TradeType, e.Quantity, e.Price,
				e.TradeDate, e.Time, string(e.CreditClass), e.LoanDate)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	return inserted, err
}

// TradeEventsSince returns events on or after since, oldest first.
func (s *SQLite) TradeEventsSince(ctx context.Context, since string) ([]types.TradeEvent, error) {
	return s.queryTradeEvents(ctx, `WHERE trade_date >= ?`, since)
}

// TradeEventsOn returns the events of a single trading day.
func (s *SQLite) TradeEventsOn(ctx context.Context, date string) ([]types.TradeEvent, error) {
	return s.queryTradeEvents(ctx, `WHERE trade_date = ?`, date)
}

func (s *SQLite) queryTradeEvents(ctx context.Context, where string, args ...any) ([]types.TradeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_no, stock_code, stock_name, trade_type, quantity, price,
		       trade_date, trade_time, credit_class, loan_date
		FROM trade_history `+where+`
		ORDER BY trade_date, trade_time, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.TradeEvent
	for rows.Next() {
		var e types.TradeEvent
		var class string
		if err := rows.Scan(&e.OrderNo, &e.StockCode, &e.StockName, &e.TradeType, &e.Quantity, &e.Price,
			&e.TradeDate, &e.Time, &class, &e.LoanDate); err != nil {
			return nil, err
		}
		e.CreditClass = types.CreditClass(class)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastTradePrice returns the most recent execution price for a stock.
func (s *SQLite) LastTradePrice(ctx context.Context, stockCode string) (int64, error) {
	var price int64
	err := s.db.QueryRowContext(ctx, `
		SELECT price FROM trade_history
		WHERE stock_code = ?
		ORDER BY trade_date DESC, trade_time DESC, id DESC
		LIMIT 1`, stockCode).Scan(&price)
	if err == sql.ErrNoRows {
		return 0, types.ErrNotFound
	}
	return price, err
}
