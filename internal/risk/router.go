package risk

import (
	"context"
	"errors"
	"fmt"

	"trend-trader/internal/logger"
	"trend-trader/internal/metrics"
	"trend-trader/internal/types"
)

// OrderPlacer is the slice of the broker the router needs.
type OrderPlacer interface {
	BalanceSource
	PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)
}

// BuyIntent is a sized, priced buy awaiting channel selection.
type BuyIntent struct {
	StockCode string
	Qty       int64
	Price     int64
	Venue     types.Venue
	Tag       string
}

// SellIntent is an exit. The credit class picks the order channel.
type SellIntent struct {
	StockCode   string
	Qty         int64
	Price       int64
	Venue       types.Venue
	CreditClass types.CreditClass
	LoanDate    string
	Tag         string
}

// Routed describes the order that was actually sent.
type Routed struct {
	Resp    types.OrderResp
	Channel types.CreditClass
	Check   LeverageCheck
}

// Router sends buys margin-first with a single cash fallback and sends
// sells on the channel matching the holding.
type Router struct {
	broker OrderPlacer
	guard  LeverageGuard
}

func NewRouter(broker OrderPlacer, guard LeverageGuard) *Router {
	return &Router{broker: broker, guard: guard}
}

// Buy places a margin order after the leverage check. Only a credit-limit
// rejection falls back to cash, and only once after re-checking leverage.
// Submission itself is never retried.
func (r *Router) Buy(ctx context.Context, in BuyIntent) (Routed, error) {
	if in.Qty <= 0 || in.Price <= 0 {
		return Routed{}, fmt.Errorf("buy %s: invalid qty %d or price %d", in.StockCode, in.Qty, in.Price)
	}

	check, err := r.allowed(ctx, in)
	if err != nil {
		return Routed{Check: check}, err
	}

	req := types.OrderReq{
		StockCode: in.StockCode,
		Side:      types.SideBuy,
		Channel:   types.CreditMargin,
		Qty:       in.Qty,
		Price:     in.Price,
		Venue:     in.Venue,
		Tag:       in.Tag,
	}
	resp, err := r.broker.PlaceOrder(ctx, req)
	if err == nil {
		metrics.IncOrder(string(types.SideBuy), string(types.CreditMargin))
		return Routed{Resp: resp, Channel: types.CreditMargin, Check: check}, nil
	}
	if !errors.Is(err, types.ErrCreditLimit) {
		metrics.IncRejection("broker")
		return Routed{Channel: types.CreditMargin, Check: check}, fmt.Errorf("margin buy %s: %w", in.StockCode, err)
	}

	logger.Risk(ctx, in.StockCode, "CREDIT_LIMIT_FALLBACK",
		"qty", in.Qty,
		"price", in.Price,
		"error", err.Error(),
	)
	check, err = r.allowed(ctx, in)
	if err != nil {
		return Routed{Check: check}, err
	}

	req.Channel = types.CreditCash
	resp, err = r.broker.PlaceOrder(ctx, req)
	if err != nil {
		metrics.IncRejection("broker")
		return Routed{Channel: types.CreditCash, Check: check}, fmt.Errorf("cash buy %s: %w", in.StockCode, err)
	}
	metrics.IncOrder(string(types.SideBuy), string(types.CreditCash))
	return Routed{Resp: resp, Channel: types.CreditCash, Check: check}, nil
}

func (r *Router) allowed(ctx context.Context, in BuyIntent) (LeverageCheck, error) {
	check, err := r.guard.CheckAccount(ctx, r.broker, in.Qty*in.Price)
	if err != nil {
		metrics.IncRejection("leverage")
		logger.Risk(ctx, in.StockCode, "LEVERAGE_BLOCKED", "reason", "balance unavailable", "error", err.Error())
		return check, fmt.Errorf("%w: %v", types.ErrLeverageBlocked, err)
	}
	if !check.Allowed {
		metrics.IncRejection("leverage")
		logger.Risk(ctx, in.StockCode, "LEVERAGE_BLOCKED",
			"current_pct", check.Current.StringFixed(2),
			"projected_pct", check.Projected.StringFixed(2),
			"max_pct", check.Max.StringFixed(2),
			"amount", in.Qty*in.Price,
		)
		return check, fmt.Errorf("%w: %s", types.ErrLeverageBlocked, check)
	}
	return check, nil
}

// Sell places a single exit order on the holding's own channel.
func (r *Router) Sell(ctx context.Context, in SellIntent) (Routed, error) {
	if in.Qty <= 0 || in.Price <= 0 {
		return Routed{}, fmt.Errorf("sell %s: invalid qty %d or price %d", in.StockCode, in.Qty, in.Price)
	}
	channel := in.CreditClass
	if channel == "" {
		channel = types.CreditCash
	}
	loanDate := ""
	if channel == types.CreditMargin {
		loanDate = in.LoanDate
		if loanDate == "" {
			loanDate = types.LoanDateAnyCredit
		}
	}

	resp, err := r.broker.PlaceOrder(ctx, types.OrderReq{
		StockCode: in.StockCode,
		Side:      types.SideSell,
		Channel:   channel,
		Qty:       in.Qty,
		Price:     in.Price,
		Venue:     in.Venue,
		LoanDate:  loanDate,
		Tag:       in.Tag,
	})
	if err != nil {
		metrics.IncRejection("broker")
		return Routed{Channel: channel}, fmt.Errorf("sell %s: %w", in.StockCode, err)
	}
	metrics.IncOrder(string(types.SideSell), string(channel))
	return Routed{Resp: resp, Channel: channel}, nil
}
