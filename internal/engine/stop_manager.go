package engine

import (
	"github.com/shopspring/decimal"

	"trend-trader/internal/logger"
	"trend-trader/internal/metrics"
	"trend-trader/internal/risk"
	"trend-trader/internal/types"
)

const (
	tierLot      = "lot"
	tierPosition = "position"
	tierClose    = "close"
)

// stopDecision is the outcome of a two-tier stop test for one position.
type stopDecision struct {
	tier     string
	qty      int64
	entry    decimal.Decimal
	loanDate string
}

// evaluateStop tests the newest lot first and the whole position second.
//
// Tier (a) uses today's split when the position was added to today, else
// the ledger's most recently opened lot. Only that lot's quantity sells, so
// an add-on can be stopped without liquidating a profitable original lot.
// Tier (b) compares the position's weighted average and sells everything.
func evaluateStop(p types.Position, newest *types.Lot, price int64, pct float64) (stopDecision, bool) {
	if p.Quantity <= 0 || price <= 0 {
		return stopDecision{}, false
	}

	var (
		lotQty   int64
		lotEntry decimal.Decimal
		loanDate string
	)
	switch {
	case p.TodayQty > 0 && p.TodayEntryPrice.IsPositive():
		lotQty, lotEntry = p.TodayQty, p.TodayEntryPrice
	case newest != nil && newest.NetQuantity > 0:
		lotQty, lotEntry, loanDate = newest.NetQuantity, newest.AvgPrice, newest.LoanDate
	}
	if lotQty > p.Quantity {
		lotQty = p.Quantity
	}

	if lotQty > 0 && breached(price, lotEntry, pct) {
		return stopDecision{tier: tierLot, qty: lotQty, entry: lotEntry, loanDate: loanDate}, true
	}
	if breached(price, p.AvgPrice, pct) {
		return stopDecision{tier: tierPosition, qty: p.Quantity, entry: p.AvgPrice}, true
	}
	return stopDecision{}, false
}

func (e *Engine) stopPct(p types.Position) float64 {
	if p.StopLossPct > 0 {
		return p.StopLossPct
	}
	if e.watchlist != nil {
		return e.watchlist.StopLossPct(p.StockCode, e.cfg.Trading.StopLossPct)
	}
	return e.cfg.Trading.StopLossPct
}

// newestLot returns the ledger's most recent open lot for the position's
// credit class, or nil when the ledger has none.
func (e *Engine) newestLot(tc *tickContext, p types.Position) *types.Lot {
	if e.lots == nil {
		return nil
	}
	l, ok, err := e.lots.LatestOpenLot(tc, p.StockCode, p.CreditClass)
	if err != nil {
		logger.Warn(tc, "Open lots unavailable, stop falls back to position average",
			"stock_code", p.StockCode, "error", err.Error())
		return nil
	}
	if !ok {
		return nil
	}
	return &l
}

// runStops checks every held position. A symbol whose exit was submitted
// within the grace window is skipped.
func (e *Engine) runStops(tc *tickContext) {
	grace := e.cfg.PositionGrace()
	for _, p := range e.pos.list() {
		if e.day.ExitInFlight(p.StockCode, tc.now, grace) {
			continue
		}
		q, err := e.prices.Quote(tc, p.StockCode, tc.venue)
		if err != nil || q.Last <= 0 {
			logger.Debug(tc, "No price for stop check", "stock_code", p.StockCode, "error", err)
			continue
		}

		pct := e.stopPct(p)
		d, hit := evaluateStop(p, e.newestLot(tc, p), q.Last, pct)
		if !hit {
			continue
		}

		sellPrice := risk.AddTicks(q.Last, -e.cfg.Trading.StopTicks)
		logger.Warn(tc, "Stop loss triggered",
			"event", "STOP_LOSS_TRIGGERED",
			"stock_code", p.StockCode,
			"credit_class", string(p.CreditClass),
			"tier", d.tier,
			"current_price", q.Last,
			"entry_price", d.entry.StringFixed(0),
			"change_pct", changePct(q.Last, d.entry),
			"stop_pct", pct,
			"qty", d.qty,
			"sell_price", sellPrice,
		)
		err = e.placeSell(tc, risk.SellIntent{
			StockCode:   p.StockCode,
			Qty:         d.qty,
			Price:       sellPrice,
			Venue:       tc.venue,
			CreditClass: p.CreditClass,
			LoanDate:    d.loanDate,
			Tag:         "SL",
		}, "STOP_"+d.tier)
		if err == nil {
			metrics.IncStop(d.tier)
		}
	}
}
