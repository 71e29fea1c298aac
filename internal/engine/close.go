package engine

import (
	"github.com/shopspring/decimal"

	"trend-trader/internal/logger"
	"trend-trader/internal/metrics"
	"trend-trader/internal/risk"
	"trend-trader/internal/ta"
	"trend-trader/internal/types"
)

// runClose is the end-of-session pass, run once per day in the NXT close
// window. Any lot breaching its stop sells first; otherwise today's
// quantity either pyramids (above today's entry on confirmed volume) or is
// sold (at or below today's entry).
func (e *Engine) runClose(tc *tickContext) {
	e.day.CloseDone = true
	e.dirty = true
	grace := e.cfg.PositionGrace()

	for _, p := range e.pos.list() {
		if e.day.ExitInFlight(p.StockCode, tc.now, grace) {
			continue
		}
		q, err := e.prices.Quote(tc, p.StockCode, tc.venue)
		if err != nil || q.Last <= 0 {
			tc.fail()
			logger.Warn(tc, "No price for close logic", "stock_code", p.StockCode, "error", err)
			continue
		}

		pct := e.stopPct(p)
		if qty, loanDate := e.breachedLotQty(tc, p, q.Last, pct); qty > 0 {
			sellPrice := risk.AddTicks(q.Last, -e.cfg.Trading.StopTicks)
			logger.Warn(tc, "Lots breached stop at close",
				"event", "STOP_LOSS_TRIGGERED",
				"stock_code", p.StockCode,
				"tier", tierClose,
				"qty", qty,
				"current_price", q.Last,
				"stop_pct", pct,
			)
			if err := e.placeSell(tc, risk.SellIntent{
				StockCode: p.StockCode, Qty: qty, Price: sellPrice, Venue: tc.venue,
				CreditClass: p.CreditClass, LoanDate: loanDate, Tag: "SL",
			}, "CLOSE_STOP"); err == nil {
				metrics.IncStop(tierClose)
			}
			continue
		}

		if p.TodayQty <= 0 || !p.TodayEntryPrice.IsPositive() {
			continue
		}
		price := decimal.NewFromInt(q.Last)
		switch {
		case price.GreaterThan(p.TodayEntryPrice):
			e.closePyramid(tc, p, q)
		default:
			sellPrice := risk.AddTicks(q.Last, -e.cfg.Trading.StopTicks)
			logger.Decision(tc, p.StockCode, "SELL_TODAY", "close at or below today's entry",
				"current_price", q.Last,
				"today_entry", p.TodayEntryPrice.StringFixed(0),
				"qty", p.TodayQty,
			)
			_ = e.placeSell(tc, risk.SellIntent{
				StockCode: p.StockCode, Qty: p.TodayQty, Price: sellPrice, Venue: tc.venue,
				CreditClass: p.CreditClass, Tag: "CLOSE",
			}, "CLOSE_BELOW_ENTRY")
		}
	}
}

// breachedLotQty sums the open lots of p at or past the stop. Today's
// split stands in for a lot the ledger has not recorded yet, and the
// position average stands in when the ledger has nothing.
func (e *Engine) breachedLotQty(tc *tickContext, p types.Position, price int64, pct float64) (int64, string) {
	var lots []types.Lot
	if e.lots != nil {
		all, err := e.lots.OpenLots(tc, p.StockCode)
		if err != nil {
			logger.Warn(tc, "Open lots unavailable at close", "stock_code", p.StockCode, "error", err.Error())
		}
		for _, l := range all {
			if l.CreditClass == p.CreditClass && l.NetQuantity > 0 {
				lots = append(lots, l)
			}
		}
	}

	today := tc.now.Format(types.DateLayout)
	hasToday := false
	for _, l := range lots {
		if l.TradeDate == today {
			hasToday = true
		}
	}
	if p.TodayQty > 0 && !hasToday {
		lots = append(lots, types.Lot{TradeDate: today, NetQuantity: p.TodayQty, AvgPrice: p.TodayEntryPrice})
	}
	if len(lots) == 0 || (len(lots) == 1 && lots[0].TradeDate == today && p.Quantity > p.TodayQty) {
		lots = append(lots, types.Lot{NetQuantity: p.Quantity - p.TodayQty, AvgPrice: p.AvgPrice})
	}

	var (
		qty      int64
		loanDate string
		n        int
	)
	for _, l := range lots {
		if breached(price, l.AvgPrice, pct) {
			qty += l.NetQuantity
			loanDate = l.LoanDate
			n++
		}
	}
	if n > 1 {
		loanDate = ""
	}
	if qty > p.Quantity {
		qty = p.Quantity
	}
	return qty, loanDate
}

func (e *Engine) closePyramid(tc *tickContext, p types.Position, q types.Quote) {
	window := e.cfg.VolumeConfirm.WindowDays
	bars, err := e.broker.DailyBars(tc, p.StockCode, window+5)
	if err != nil {
		tc.fail()
		logger.Warn(tc, "Daily bars unavailable, skipping pyramid", "stock_code", p.StockCode, "error", err.Error())
		return
	}
	ok, avg := ta.VolumeConfirmed(bars, tc.now.Format(types.DateLayout), q.Volume, window, e.cfg.VolumeConfirm.Multiplier)
	if !ok {
		logger.Decision(tc, p.StockCode, "HOLD", "volume not confirmed",
			"volume", q.Volume, "avg_volume", avg, "multiplier", e.cfg.VolumeConfirm.Multiplier)
		return
	}

	capital, err := e.capitalBase(tc)
	if err != nil {
		tc.fail()
		logger.ErrorWithErr(tc, "Capital base unavailable for pyramid", err, "stock_code", p.StockCode)
		return
	}
	limit := risk.AddTicks(q.Last, e.cfg.Trading.TickBuffer)
	qty := e.sizer.HalfUnitShares(capital, limit)
	if qty <= 0 {
		return
	}
	logger.Decision(tc, p.StockCode, "PYRAMID", "close above today's entry on volume",
		"current_price", q.Last,
		"today_entry", p.TodayEntryPrice.StringFixed(0),
		"volume", q.Volume,
		"avg_volume", avg,
	)
	if _, err := e.placeBuy(tc, risk.BuyIntent{StockCode: p.StockCode, Qty: qty, Price: limit, Venue: tc.venue, Tag: EntryPyramid}, EntryPyramid); err == nil {
		metrics.IncTrigger(EntryPyramid)
	}
}
