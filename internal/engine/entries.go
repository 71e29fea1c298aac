package engine

import (
	"errors"

	"github.com/shopspring/decimal"

	"trend-trader/internal/logger"
	"trend-trader/internal/metrics"
	"trend-trader/internal/risk"
	"trend-trader/internal/store"
	"trend-trader/internal/types"
)

// entrySignal is a fired trigger waiting to be sized and routed.
type entrySignal struct {
	entryType string
	session   string
	limit     int64
}

func (e *Engine) runEntries(tc *tickContext) {
	if e.watchlist == nil {
		return
	}
	for _, item := range e.watchlist.Items() {
		e.evaluateEntry(tc, item)
	}
}

// entryBlocked applies the gates that do not depend on price.
func (e *Engine) entryBlocked(tc *tickContext, item store.WatchItem) string {
	code := item.Ticker
	switch {
	case e.day.SoldToday[code]:
		return "sold today"
	case e.day.SoldSinceAdded[code]:
		return "sold since added to watchlist"
	case e.pos.openedToday(code):
		return "position already opened today"
	}
	return ""
}

func (e *Engine) evaluateEntry(tc *tickContext, item store.WatchItem) {
	code := item.Ticker
	if reason := e.entryBlocked(tc, item); reason != "" {
		return
	}

	gapSession := tc.win.SessionFor(AllowGapUp)
	entrySession := tc.win.SessionFor(AllowEntry)
	gapOK := gapSession != "" && e.day.TriggerAllowed(code, gapSession)
	entryOK := entrySession != "" && e.day.TriggerAllowed(code, entrySession)
	if !gapOK && !entryOK {
		return
	}

	q, err := e.prices.Quote(tc, code, tc.venue)
	if err != nil || q.Last <= 0 {
		logger.Debug(tc, "No price for entry check", "stock_code", code, "error", err)
		return
	}

	if !e.belowMaxUnits(tc, item, q.Last) {
		return
	}

	buffer := e.cfg.Trading.TickBuffer
	var sig *entrySignal
	if gapOK && q.Open > 0 && q.Open >= risk.AddTicks(item.TargetPrice, buffer) {
		sig = &entrySignal{entryType: EntryGapUp, session: gapSession}
	} else if entryOK && q.Last >= item.TargetPrice {
		sig = &entrySignal{entryType: EntryBreakout, session: entrySession, limit: risk.AddTicks(item.TargetPrice, buffer)}
	}
	if sig == nil {
		return
	}
	e.executeEntry(tc, item, *sig, q)
}

func (e *Engine) belowMaxUnits(tc *tickContext, item store.WatchItem, mark int64) bool {
	if len(e.pos.forStock(item.Ticker)) == 0 {
		return true
	}
	capital, err := e.capitalBase(tc)
	if err != nil {
		logger.Warn(tc, "Capital base unavailable, skipping unit check", "stock_code", item.Ticker, "error", err.Error())
		return false
	}
	return e.sizer.CanBuyMoreUnits(e.pos.value(item.Ticker, mark), capital, item.MaxUnits)
}

// capitalBase is available cash plus the marked value of every position.
func (e *Engine) capitalBase(tc *tickContext) (decimal.Decimal, error) {
	bal, err := e.broker.Balance(tc)
	if err != nil {
		return decimal.Zero, err
	}
	positions := e.pos.list()
	marks := make(map[string]int64, len(positions))
	for _, p := range positions {
		if q, err := e.prices.Quote(tc, p.StockCode, tc.venue); err == nil && q.Last > 0 {
			marks[p.StockCode] = q.Last
		}
	}
	return risk.CapitalBase(bal.Available, positions, marks), nil
}

// executeEntry records the trigger as PENDING before the order is sent so
// a crash between the two never produces a second order.
func (e *Engine) executeEntry(tc *tickContext, item store.WatchItem, sig entrySignal, cached types.Quote) {
	code := item.Ticker
	t := e.day.Triggers[code]
	if t == nil {
		t = &Trigger{StockCode: code, Status: StatusNotTriggered}
		e.day.Triggers[code] = t
	}
	if err := t.moveTo(StatusPending, tc.now); err != nil {
		logger.Warn(tc, "Trigger refused", "stock_code", code, "error", err.Error())
		return
	}
	*t = Trigger{StockCode: code, EntryType: sig.entryType, Session: sig.session, Status: StatusPending, At: tc.now}
	e.dirty = true
	e.persist(tc)

	logger.Info(tc, "Entry triggered",
		"event", "ENTRY_TRIGGERED",
		"stock_code", code,
		"entry_type", sig.entryType,
		"session", sig.session,
		"target_price", item.TargetPrice,
		"last", cached.Last,
		"open", cached.Open,
	)
	metrics.IncTrigger(sig.entryType)

	fresh, err := e.broker.Quote(tc, code, tc.venue)
	if err != nil || fresh.Last <= 0 {
		tc.fail()
		_ = t.moveTo(StatusPriceFailed, tc.now)
		t.Reason = "price unavailable"
		logger.Warn(tc, "Entry price unavailable", "stock_code", code, "error", err)
		return
	}
	if sig.entryType == EntryGapUp {
		sig.limit = risk.AddTicks(fresh.Last, e.cfg.Trading.TickBuffer)
	}

	capital, err := e.capitalBase(tc)
	if err != nil {
		tc.fail()
		_ = t.moveTo(StatusRejected, tc.now)
		t.Reason = "balance unavailable"
		logger.ErrorWithErr(tc, "Capital base unavailable", err, "stock_code", code)
		return
	}

	qty := e.sizer.HalfUnitShares(capital, sig.limit)
	if sig.session == NXTEvening {
		qty = e.sizer.FullUnitShares(capital, sig.limit)
	}
	if qty <= 0 {
		_ = t.moveTo(StatusRejected, tc.now)
		t.Reason = "insufficient capital"
		metrics.IncRejection("size")
		logger.Warn(tc, "Entry size is zero", "stock_code", code, "limit", sig.limit, "capital", capital.StringFixed(0))
		return
	}

	routed, err := e.placeBuy(tc, risk.BuyIntent{
		StockCode: code,
		Qty:       qty,
		Price:     sig.limit,
		Venue:     tc.venue,
		Tag:       sig.entryType,
	}, sig.entryType)
	if err != nil {
		_ = t.moveTo(StatusRejected, tc.now)
		t.Reason = err.Error()
		if !errors.Is(err, types.ErrLeverageBlocked) {
			tc.fail()
		}
		return
	}

	t.OrderID = routed.Resp.OrderID
	t.Qty = qty
	t.LimitPrice = sig.limit
	t.Venue = tc.venue
	t.Channel = routed.Channel
	t.PlacedAt = tc.now
	t.Deadline = tc.now.Add(e.cfg.VITimeout())
	logger.Decision(tc, code, "PENDING", sig.entryType,
		"order_id", t.OrderID,
		"qty", qty,
		"limit", sig.limit,
		"channel", string(routed.Channel),
	)
}
