package interfaces

import (
	"context"

	"trend-trader/internal/types"
)

type Engine interface {
	Tick(ctx context.Context) (*types.TickResult, error)
	Resync(ctx context.Context) error
	OnFill(ctx context.Context, fill types.Fill)
}
