package brokerobs

import (
	"context"
	"errors"

	"trend-trader/internal/interfaces"
	"trend-trader/internal/logger"
	"trend-trader/internal/trace"
	"trend-trader/internal/types"
)

// observableBroker wraps a Broker with observability (logging & tracing)
type observableBroker struct {
	broker interfaces.Broker
}

// Compile-time interface check
var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap wraps a broker with observability middleware
func Wrap(broker interfaces.Broker) interfaces.Broker {
	return &observableBroker{
		broker: broker,
	}
}

func (ob *observableBroker) Quote(ctx context.Context, stockCode string, venue types.Venue) (types.Quote, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Quote")
	defer span.End()

	q, err := ob.broker.Quote(ctx, stockCode, venue)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch quote", err, "stock_code", stockCode, "venue", string(venue))
		return q, err
	}

	logger.DebugSkip(ctx, 1, "Quote fetched", "stock_code", stockCode, "venue", string(venue), "last", q.Last, "tradable", q.Tradable)
	return q, nil
}

// PlaceOrder places an order with observability
func (ob *observableBroker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PlaceOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing order",
		"stock_code", req.StockCode,
		"side", string(req.Side),
		"channel", string(req.Channel),
		"venue", string(req.Venue),
		"qty", req.Qty,
		"price", req.Price,
		"tag", req.Tag,
	)

	resp, err := ob.broker.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err,
			"reason", rejectionReason(err),
			"stock_code", req.StockCode,
			"side", string(req.Side),
			"channel", string(req.Channel),
			"qty", req.Qty,
		)
		return types.OrderResp{}, err
	}

	logger.InfoSkip(ctx, 1, "Order placed successfully",
		"stock_code", req.StockCode,
		"order_id", resp.OrderID,
		"status", resp.Status,
	)
	return resp, nil
}

func (ob *observableBroker) CancelOrder(ctx context.Context, orderID, stockCode string, venue types.Venue) error {
	ctx, span := trace.StartSpan(ctx, "broker.CancelOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Cancelling order", "order_id", orderID, "stock_code", stockCode, "venue", string(venue))
	if err := ob.broker.CancelOrder(ctx, orderID, stockCode, venue); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to cancel order", err, "order_id", orderID)
		return err
	}
	return nil
}

func (ob *observableBroker) PendingOrders(ctx context.Context) ([]types.PendingOrder, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PendingOrders")
	defer span.End()

	orders, err := ob.broker.PendingOrders(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to list pending orders", err)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Pending orders fetched", "count", len(orders))
	return orders, nil
}

func (ob *observableBroker) Holdings(ctx context.Context) ([]types.Holding, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Holdings")
	defer span.End()

	holdings, err := ob.broker.Holdings(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch holdings", err)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Holdings fetched", "count", len(holdings))
	return holdings, nil
}

func (ob *observableBroker) Balance(ctx context.Context) (types.AccountBalance, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Balance")
	defer span.End()

	bal, err := ob.broker.Balance(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch balance", err)
		return bal, err
	}
	logger.DebugSkip(ctx, 1, "Balance fetched",
		"available", bal.Available,
		"net_assets", bal.NetAssets,
		"stock_assets", bal.StockAssets,
	)
	return bal, nil
}

func (ob *observableBroker) TradeHistory(ctx context.Context, from, to string) ([]types.TradeEvent, error) {
	ctx, span := trace.StartSpan(ctx, "broker.TradeHistory")
	defer span.End()

	events, err := ob.broker.TradeHistory(ctx, from, to)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch trade history", err, "from", from, "to", to)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Trade history fetched", "from", from, "to", to, "count", len(events))
	return events, nil
}

func (ob *observableBroker) DailyBars(ctx context.Context, stockCode string, n int) ([]types.DailyBar, error) {
	ctx, span := trace.StartSpan(ctx, "broker.DailyBars")
	defer span.End()

	bars, err := ob.broker.DailyBars(ctx, stockCode, n)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch daily bars", err, "stock_code", stockCode, "count", n)
		return nil, err
	}
	return bars, nil
}

// Fills starts the fill stream; individual fills are logged by the consumer.
func (ob *observableBroker) Fills(ctx context.Context) (<-chan types.Fill, error) {
	logger.InfoSkip(ctx, 1, "Starting fill stream")
	ch, err := ob.broker.Fills(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to start fill stream", err)
		return nil, err
	}
	return ch, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, types.ErrCreditLimit):
		return "credit_limit"
	case errors.Is(err, types.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, types.ErrAuthExpired):
		return "auth"
	default:
		return "rejected"
	}
}
