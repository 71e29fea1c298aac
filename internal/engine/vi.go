package engine

import (
	"sort"

	"trend-trader/internal/logger"
	"trend-trader/internal/risk"
	"trend-trader/internal/types"
)

// processOrders advances outstanding entry orders. An order still open on
// the tick after submission is assumed halted by a volatility interruption
// and waits until its deadline; then it is cancelled and, once, rerouted to
// the other venue if that venue reports the stock tradable.
func (e *Engine) processOrders(tc *tickContext) {
	var outstanding []*Trigger
	for _, t := range e.day.Triggers {
		if t.OrderID != "" && (t.Status == StatusPending || t.Status == StatusVIPending) {
			outstanding = append(outstanding, t)
		}
	}
	if len(outstanding) == 0 {
		return
	}
	sort.Slice(outstanding, func(i, j int) bool { return outstanding[i].StockCode < outstanding[j].StockCode })

	open, err := e.broker.PendingOrders(tc)
	if err != nil {
		tc.fail()
		logger.ErrorWithErr(tc, "Pending orders unavailable", err)
		return
	}
	remaining := make(map[string]types.PendingOrder, len(open))
	for _, o := range open {
		remaining[o.OrderID] = o
	}

	for _, t := range outstanding {
		o, stillOpen := remaining[t.OrderID]
		if !stillOpen {
			if err := t.moveTo(StatusFilled, tc.now); err == nil {
				e.dirty = true
				logger.Decision(tc, t.StockCode, "FILLED", t.EntryType, "order_id", t.OrderID)
			}
			continue
		}
		switch t.Status {
		case StatusPending:
			if !tc.now.After(t.PlacedAt) {
				continue
			}
			if t.Deadline.IsZero() {
				t.Deadline = t.PlacedAt.Add(e.cfg.VITimeout())
			}
			_ = t.moveTo(StatusVIPending, tc.now)
			e.dirty = true
			logger.Warn(tc, "Order unfilled, waiting for volatility interruption to clear",
				"event", "VI_PENDING",
				"stock_code", t.StockCode,
				"order_id", t.OrderID,
				"limit", t.LimitPrice,
				"deadline", t.Deadline,
			)
		case StatusVIPending:
			if tc.now.Before(t.Deadline) {
				continue
			}
			e.expireVI(tc, t, o)
		}
	}
}

func (e *Engine) expireVI(tc *tickContext, t *Trigger, o types.PendingOrder) {
	if err := e.broker.CancelOrder(tc, t.OrderID, t.StockCode, t.Venue); err != nil {
		tc.fail()
		logger.ErrorWithErr(tc, "Cancel of VI order failed, retrying next tick", err,
			"stock_code", t.StockCode, "order_id", t.OrderID)
		return
	}
	e.dirty = true

	qty := o.Remaining
	if qty <= 0 {
		qty = t.Qty
	}
	if e.cfg.VI.Reroute && !t.Rerouted && qty > 0 {
		other := t.Venue.Other()
		q, err := e.broker.Quote(tc, t.StockCode, other)
		if err == nil && q.Tradable {
			e.reroute(tc, t, other, qty)
			return
		}
		logger.Info(tc, "Alternate venue not tradable", "stock_code", t.StockCode, "venue", string(other), "error", err)
	}

	_ = t.moveTo(StatusCancelled, tc.now)
	t.Reason = "vi timeout"
	logger.Warn(tc, "VI order cancelled",
		"event", "VI_CANCELLED",
		"stock_code", t.StockCode,
		"order_id", t.OrderID,
		"waited", tc.now.Sub(t.PlacedAt).String(),
	)
}

func (e *Engine) reroute(tc *tickContext, t *Trigger, venue types.Venue, qty int64) {
	routed, err := e.placeBuy(tc, risk.BuyIntent{
		StockCode: t.StockCode,
		Qty:       qty,
		Price:     t.LimitPrice,
		Venue:     venue,
		Tag:       t.EntryType,
	}, t.EntryType+"_reroute")
	if err != nil {
		_ = t.moveTo(StatusCancelled, tc.now)
		t.Reason = "reroute failed: " + err.Error()
		return
	}
	_ = t.moveTo(StatusPending, tc.now)
	t.Rerouted = true
	t.OrderID = routed.Resp.OrderID
	t.Venue = venue
	t.Channel = routed.Channel
	t.Qty = qty
	t.PlacedAt = tc.now
	t.Deadline = tc.now.Add(e.cfg.VITimeout())
	logger.Info(tc, "VI order rerouted",
		"stock_code", t.StockCode,
		"venue", string(venue),
		"order_id", t.OrderID,
		"qty", qty,
	)
}
