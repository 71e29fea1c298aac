package reconcile

import (
	"context"
	"fmt"
	"time"

	"trend-trader/internal/ledger"
	"trend-trader/internal/logger"
	"trend-trader/internal/types"
)

// BrokerReader is the broker side of a refresh.
type BrokerReader interface {
	Holdings(ctx context.Context) ([]types.Holding, error)
	TradeHistory(ctx context.Context, from, to string) ([]types.TradeEvent, error)
}

// Writer persists what a refresh pulls from the broker.
type Writer interface {
	ReplaceHoldings(ctx context.Context, date string, holdings []types.Holding) error
	InsertTradeEvents(ctx context.Context, events []types.TradeEvent) (int, error)
}

// LotBuilder rebuilds lots after new trade events arrive.
type LotBuilder interface {
	ConstructDailyLots(ctx context.Context) (ledger.RebuildResult, error)
}

// Refresher copies broker state into the store so Sync can read it.
type Refresher struct {
	broker BrokerReader
	store  Writer
	lots   LotBuilder
	loc    *time.Location
}

func NewRefresher(broker BrokerReader, store Writer, lots LotBuilder, loc *time.Location) *Refresher {
	if loc == nil {
		loc = time.UTC
	}
	return &Refresher{broker: broker, store: store, lots: lots, loc: loc}
}

// RefreshResult reports one refresh.
type RefreshResult struct {
	Holdings  int
	NewTrades int
	Rebuilt   bool
}

// RefreshFromBroker stores today's holdings snapshot and trade history,
// then rebuilds lots when new trades were recorded.
func (r *Refresher) RefreshFromBroker(ctx context.Context, now time.Time) (RefreshResult, error) {
	date := now.In(r.loc).Format(types.DateLayout)
	return r.refresh(ctx, date, date, date)
}

// Backfill records the broker's trade history between two dates inclusive.
// The holdings snapshot is stored under to.
func (r *Refresher) Backfill(ctx context.Context, from, to string) (RefreshResult, error) {
	return r.refresh(ctx, from, to, to)
}

func (r *Refresher) refresh(ctx context.Context, from, to, snapshotDate string) (RefreshResult, error) {
	op := logger.StartOperation(ctx, "reconcile.refresh", "from", from, "to", to)
	ctx = op.GetContext()
	var res RefreshResult

	holdings, err := r.broker.Holdings(ctx)
	if err != nil {
		op.EndWithError(err)
		return res, fmt.Errorf("broker holdings: %w", err)
	}
	for i := range holdings {
		holdings[i].SnapshotDate = snapshotDate
	}
	if err := r.store.ReplaceHoldings(ctx, snapshotDate, holdings); err != nil {
		op.EndWithError(err)
		return res, fmt.Errorf("store holdings: %w", err)
	}
	res.Holdings = len(holdings)

	events, err := r.broker.TradeHistory(ctx, from, to)
	if err != nil {
		op.EndWithError(err)
		return res, fmt.Errorf("broker trade history: %w", err)
	}
	n, err := r.store.InsertTradeEvents(ctx, events)
	if err != nil {
		op.EndWithError(err)
		return res, fmt.Errorf("store trade history: %w", err)
	}
	res.NewTrades = n

	if n > 0 && r.lots != nil {
		if _, err := r.lots.ConstructDailyLots(ctx); err != nil {
			op.EndWithError(err)
			return res, fmt.Errorf("rebuild lots: %w", err)
		}
		res.Rebuilt = true
	}

	op.End("holdings", res.Holdings, "new_trades", res.NewTrades, "rebuilt", res.Rebuilt)
	return res, nil
}
