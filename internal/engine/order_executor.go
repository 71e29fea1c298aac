package engine

import (
	"trend-trader/internal/logger"
	"trend-trader/internal/risk"
	"trend-trader/internal/tradelog"
	"trend-trader/internal/types"
)

// placeBuy routes a buy and journals the outcome.
//
// Parameters:
//   - tc: Tick context for logging and tracing
//   - in: Sized and priced buy intent
//   - reason: Why the engine is buying (breakout, gap_up, pyramid)
//
// Returns:
//   - routed: The order actually sent and its channel
//   - err: Leverage block or broker rejection
func (e *Engine) placeBuy(tc *tickContext, in risk.BuyIntent, reason string) (risk.Routed, error) {
	routed, err := e.router.Buy(tc, in)
	if err != nil {
		logger.ErrorWithErr(tc, "Buy not placed", err,
			"stock_code", in.StockCode,
			"qty", in.Qty,
			"price", in.Price,
			"reason", reason,
		)
		_ = tradelog.AppendDecision(tradelog.DecisionEntry{
			Symbol: in.StockCode, Action: "BUY_REJECTED", Reason: reason + ": " + err.Error(),
			Price: in.Price, Session: tc.win.String(), RunID: e.runID,
		})
		return routed, err
	}

	logger.Trade(tc, in.StockCode, string(types.SideBuy), in.Qty, in.Price, routed.Resp.OrderID,
		"channel", string(routed.Channel),
		"venue", string(in.Venue),
		"reason", reason,
	)
	_ = tradelog.Append(tradelog.Entry{
		Symbol:  in.StockCode,
		Name:    e.name(tc, in.StockCode),
		Side:    string(types.SideBuy),
		Channel: string(routed.Channel),
		Qty:     in.Qty,
		Price:   in.Price,
		OrderID: routed.Resp.OrderID,
		Reason:  reason,
		Session: tc.win.String(),
		Venue:   string(in.Venue),
		RunID:   e.runID,
	})
	tc.act(types.Action{StockCode: in.StockCode, Kind: "BUY", Qty: in.Qty, Price: in.Price, OrderID: routed.Resp.OrderID, Reason: reason})
	return routed, nil
}

// placeSell sends an exit and marks the symbol sold. The exit is recorded
// as pending so the next ticks inside the grace window leave it alone.
func (e *Engine) placeSell(tc *tickContext, in risk.SellIntent, reason string) error {
	routed, err := e.router.Sell(tc, in)
	if err != nil {
		tc.fail()
		logger.ErrorWithErr(tc, "Sell not placed", err,
			"stock_code", in.StockCode,
			"qty", in.Qty,
			"price", in.Price,
			"reason", reason,
		)
		return err
	}

	e.day.MarkSold(in.StockCode)
	e.day.ExitPending[in.StockCode] = tc.now
	e.dirty = true

	logger.Trade(tc, in.StockCode, string(types.SideSell), in.Qty, in.Price, routed.Resp.OrderID,
		"channel", string(routed.Channel),
		"reason", reason,
	)
	_ = tradelog.Append(tradelog.Entry{
		Symbol:  in.StockCode,
		Name:    e.name(tc, in.StockCode),
		Side:    string(types.SideSell),
		Channel: string(routed.Channel),
		Qty:     in.Qty,
		Price:   in.Price,
		OrderID: routed.Resp.OrderID,
		Reason:  reason,
		Session: tc.win.String(),
		Venue:   string(in.Venue),
		RunID:   e.runID,
	})
	tc.act(types.Action{StockCode: in.StockCode, Kind: "SELL", Qty: in.Qty, Price: in.Price, OrderID: routed.Resp.OrderID, Reason: reason})
	return nil
}
