package interfaces

import (
	"context"

	"trend-trader/internal/types"
)

// Broker is the single-account brokerage collaborator.
type Broker interface {
	// Quote returns the latest price for a symbol on a venue
	Quote(ctx context.Context, stockCode string, venue types.Venue) (types.Quote, error)

	// PlaceOrder submits a limit order. It is never retried by callers.
	PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)

	// CancelOrder cancels the unfilled remainder of an order
	CancelOrder(ctx context.Context, orderID, stockCode string, venue types.Venue) error

	// PendingOrders lists orders that are still open
	PendingOrders(ctx context.Context) ([]types.PendingOrder, error)

	// Holdings returns the current account holdings snapshot
	Holdings(ctx context.Context) ([]types.Holding, error)

	// Balance returns cash, net assets and stock assets
	Balance(ctx context.Context) (types.AccountBalance, error)

	// TradeHistory returns executed trades between two dates, inclusive
	TradeHistory(ctx context.Context, from, to string) ([]types.TradeEvent, error)

	// DailyBars returns up to n most recent daily candles
	DailyBars(ctx context.Context, stockCode string, n int) ([]types.DailyBar, error)

	// Fills streams execution notifications until ctx is done
	Fills(ctx context.Context) (<-chan types.Fill, error)
}
