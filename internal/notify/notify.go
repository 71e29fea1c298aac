// Package notify consumes broker execution notices and turns them into
// engine updates.
package notify

import (
	"context"
	"fmt"

	"trend-trader/internal/logger"
	"trend-trader/internal/types"
)

// FillSource streams executions until ctx is done.
type FillSource interface {
	Fills(ctx context.Context) (<-chan types.Fill, error)
}

// FillHandler applies one execution. The engine's OnFill refreshes and
// resyncs through a shared in-flight call, so bursts collapse.
type FillHandler interface {
	OnFill(ctx context.Context, fill types.Fill)
}

// Subscriber adds symbols to the price poller.
type Subscriber interface {
	Subscribe(codes ...string) int
}

// Listener forwards fills to the handler and subscribes bought symbols.
type Listener struct {
	src     FillSource
	handler FillHandler
	sub     Subscriber
	seen    map[string]struct{}
}

// NewListener builds a listener. sub may be nil.
func NewListener(src FillSource, handler FillHandler, sub Subscriber) *Listener {
	return &Listener{src: src, handler: handler, sub: sub, seen: make(map[string]struct{})}
}

// Run blocks until the stream closes or ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	fills, err := l.src.Fills(ctx)
	if err != nil {
		return fmt.Errorf("open fill stream: %w", err)
	}
	logger.Info(ctx, "Fill listener started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-fills:
			if !ok {
				logger.Info(ctx, "Fill stream closed")
				return nil
			}
			l.handle(ctx, f)
		}
	}
}

func (l *Listener) handle(ctx context.Context, f types.Fill) {
	// Order IDs repeat for partial fills; only an identical notice is a duplicate.
	k := fmt.Sprintf("%s/%d/%d/%d", f.OrderID, f.Qty, f.Price, f.At.UnixNano())
	if _, dup := l.seen[k]; dup {
		logger.Debug(ctx, "Duplicate fill notice ignored", "order_id", f.OrderID)
		return
	}
	l.seen[k] = struct{}{}

	logger.Info(ctx, "Fill received",
		"order_id", f.OrderID,
		"stock_code", f.StockCode,
		"side", string(f.Side),
		"qty", f.Qty,
		"price", f.Price,
	)
	l.handler.OnFill(ctx, f)

	if l.sub != nil && f.Side == types.SideBuy {
		if n := l.sub.Subscribe(f.StockCode); n > 0 {
			logger.Info(ctx, "Price polling added for bought symbol", "stock_code", f.StockCode)
		}
	}
}
