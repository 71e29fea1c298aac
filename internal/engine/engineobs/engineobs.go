package engineobs

import (
	"context"
	"time"

	"trend-trader/internal/interfaces"
	"trend-trader/internal/logger"
	"trend-trader/internal/trace"
	"trend-trader/internal/types"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{
		engine: eng,
	}
}

func (oe *observableEngine) Tick(ctx context.Context) (*types.TickResult, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Tick")
	defer span.End()

	start := time.Now()
	result, err := oe.engine.Tick(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Tick failed", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	if len(result.Actions) > 0 || result.Errors > 0 {
		logger.InfoSkip(ctx, 1, "Tick completed",
			"session", result.Session,
			"actions", len(result.Actions),
			"errors", result.Errors,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return result, nil
}

func (oe *observableEngine) Resync(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "engine.Resync")
	defer span.End()

	start := time.Now()
	if err := oe.engine.Resync(ctx); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Resync failed", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	}
	logger.DebugSkip(ctx, 1, "Resync completed",
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (oe *observableEngine) OnFill(ctx context.Context, fill types.Fill) {
	ctx, span := trace.StartSpan(ctx, "engine.OnFill")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Fill received",
		"order_id", fill.OrderID,
		"stock_code", fill.StockCode,
		"side", string(fill.Side),
		"qty", fill.Qty,
		"price", fill.Price,
	)
	oe.engine.OnFill(ctx, fill)
}
