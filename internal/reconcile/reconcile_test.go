package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend-trader/internal/journal"
	"trend-trader/internal/ledger"
	"trend-trader/internal/types"
)

type fakeStore struct {
	holdings    []types.Holding
	holdingsErr error
	events      []types.TradeEvent
}

func (f *fakeStore) LatestHoldings(ctx context.Context, date string) ([]types.Holding, error) {
	return f.holdings, f.holdingsErr
}

func (f *fakeStore) TradeEventsOn(ctx context.Context, date string) ([]types.TradeEvent, error) {
	return f.events, nil
}

type fakeBroker struct {
	holdings []types.Holding
	events   []types.TradeEvent
	err      error
}

func (f *fakeBroker) Holdings(ctx context.Context) ([]types.Holding, error) {
	return f.holdings, f.err
}

func (f *fakeBroker) TradeHistory(ctx context.Context, from, to string) ([]types.TradeEvent, error) {
	return f.events, f.err
}

var now = time.Date(2025, 12, 16, 10, 0, 0, 0, time.UTC)

func fixedStop(pct float64) StopPolicy {
	return func(string) float64 { return pct }
}

func TestSyncAggregatesAndSplitsToday(t *testing.T) {
	store := &fakeStore{
		holdings: []types.Holding{
			{StockCode: "005930", StockName: "삼성전자", Quantity: 10, AvgPrice: 10_000, CreditClass: types.CreditMargin, LoanDate: "20251211"},
			{StockCode: "005930", Quantity: 5, AvgPrice: 10_500, CreditClass: types.CreditMargin, LoanDate: "20251216"},
		},
		events: []types.TradeEvent{
			{OrderNo: "9", StockCode: "005930", TradeType: "신용매수", Quantity: 5, Price: 10_500, TradeDate: "2025-12-16", CreditClass: types.CreditMargin},
		},
	}
	r := New(store, nil, fixedStop(7), 90*time.Second, time.UTC)

	snap, err := r.Sync(context.Background(), now, nil)
	require.NoError(t, err)
	require.Len(t, snap.Positions, 1)

	p := snap.Positions[types.PositionKey{StockCode: "005930", CreditClass: types.CreditMargin}]
	assert.Equal(t, int64(15), p.Quantity)
	assert.Equal(t, "10166.67", p.AvgPrice.StringFixed(2))
	assert.Equal(t, int64(5), p.TodayQty)
	assert.True(t, p.TodayEntryPrice.Equal(decimal.NewFromInt(10_500)))
	assert.Equal(t, 7.0, p.StopLossPct)
	assert.Equal(t, "삼성전자", p.StockName)
	assert.False(t, snap.FromBroker)
}

func TestSyncDetectsSoldOutside(t *testing.T) {
	store := &fakeStore{}
	r := New(store, nil, fixedStop(7), 90*time.Second, time.UTC)

	prev := map[types.PositionKey]types.Position{
		{StockCode: "000660", CreditClass: types.CreditCash}: {StockCode: "000660", CreditClass: types.CreditCash, Quantity: 3},
	}
	snap, err := r.Sync(context.Background(), now, prev)
	require.NoError(t, err)
	assert.Empty(t, snap.Positions)
	assert.Equal(t, []string{"000660"}, snap.SoldOutside)
}

func TestSyncCarriesRecentFillWithinGrace(t *testing.T) {
	store := &fakeStore{}
	r := New(store, nil, fixedStop(7), 90*time.Second, time.UTC)

	key := types.PositionKey{StockCode: "035720", CreditClass: types.CreditMargin}
	prev := map[types.PositionKey]types.Position{
		key: {StockCode: "035720", CreditClass: types.CreditMargin, Quantity: 4, OpenedAt: now.Add(-30 * time.Second)},
	}
	snap, err := r.Sync(context.Background(), now, prev)
	require.NoError(t, err)
	assert.Contains(t, snap.Positions, key)
	assert.Equal(t, []types.PositionKey{key}, snap.Carried)
	assert.Empty(t, snap.SoldOutside)

	later, err := r.Sync(context.Background(), now.Add(2*time.Minute), prev)
	require.NoError(t, err)
	assert.Empty(t, later.Positions)
	assert.Equal(t, []string{"035720"}, later.SoldOutside)
}

func TestSyncKeepsAddOnAheadOfSnapshot(t *testing.T) {
	store := &fakeStore{holdings: []types.Holding{
		{StockCode: "005930", Quantity: 10, AvgPrice: 10_000, CreditClass: types.CreditMargin, LoanDate: "20251211"},
	}}
	r := New(store, nil, fixedStop(7), 90*time.Second, time.UTC)

	key := types.PositionKey{StockCode: "005930", CreditClass: types.CreditMargin}
	prev := map[types.PositionKey]types.Position{
		key: {
			StockCode:       "005930",
			CreditClass:     types.CreditMargin,
			Quantity:        15,
			AvgPrice:        decimal.RequireFromString("10166.67"),
			TodayQty:        5,
			TodayEntryPrice: decimal.NewFromInt(10_500),
			OpenedAt:        now.Add(-10 * time.Second),
		},
	}
	snap, err := r.Sync(context.Background(), now, prev)
	require.NoError(t, err)
	p := snap.Positions[key]
	assert.Equal(t, int64(15), p.Quantity)
	assert.Equal(t, int64(5), p.TodayQty)
	assert.True(t, p.TodayEntryPrice.Equal(decimal.NewFromInt(10_500)))
	assert.Equal(t, 7.0, p.StopLossPct)
	assert.Equal(t, []types.PositionKey{key}, snap.Carried)

	// Past the grace window the snapshot wins.
	later, err := r.Sync(context.Background(), now.Add(2*time.Minute), prev)
	require.NoError(t, err)
	assert.Equal(t, int64(10), later.Positions[key].Quantity)
	assert.Zero(t, later.Positions[key].TodayQty)
	assert.Empty(t, later.Carried)
}

func TestSyncAfterSellOutReadsFlat(t *testing.T) {
	db, err := journal.NewSQLite(filepath.Join(t.TempDir(), "trader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	require.NoError(t, db.ReplaceHoldings(ctx, "2025-12-15", []types.Holding{
		{StockCode: "005930", Quantity: 10, AvgPrice: 10_000, CreditClass: types.CreditCash},
	}))
	r := New(db, nil, fixedStop(7), 90*time.Second, time.UTC)
	key := types.PositionKey{StockCode: "005930", CreditClass: types.CreditCash}

	// No snapshot yet today: yesterday's holdings stand in.
	first, err := r.Sync(ctx, now, nil)
	require.NoError(t, err)
	require.Contains(t, first.Positions, key)

	_, err = NewRefresher(&fakeBroker{}, db, nil, time.UTC).RefreshFromBroker(ctx, now)
	require.NoError(t, err)

	snap, err := r.Sync(ctx, now, first.Positions)
	require.NoError(t, err)
	assert.Empty(t, snap.Positions)
	assert.Equal(t, []string{"005930"}, snap.SoldOutside)
}

func TestSyncFallsBackToBroker(t *testing.T) {
	store := &fakeStore{holdingsErr: errors.New("database is locked")}
	broker := &fakeBroker{holdings: []types.Holding{
		{StockCode: "005930", Quantity: 10, AvgPrice: 10_000, CreditClass: types.CreditCash},
	}}
	r := New(store, broker, fixedStop(5), time.Minute, time.UTC)

	snap, err := r.Sync(context.Background(), now, nil)
	require.NoError(t, err)
	assert.True(t, snap.FromBroker)
	p := snap.Positions[types.PositionKey{StockCode: "005930", CreditClass: types.CreditCash}]
	assert.Equal(t, int64(10), p.Quantity)
	assert.Zero(t, p.TodayQty)
	assert.True(t, p.StopPrice.Equal(decimal.NewFromInt(9_500)))
}

func TestSyncFailsWhenBothSourcesFail(t *testing.T) {
	store := &fakeStore{holdingsErr: errors.New("closed")}
	broker := &fakeBroker{err: errors.New("timeout")}
	r := New(store, broker, fixedStop(5), time.Minute, time.UTC)

	_, err := r.Sync(context.Background(), now, nil)
	require.Error(t, err)
}

func TestSyncIsIdempotent(t *testing.T) {
	store := &fakeStore{holdings: []types.Holding{
		{StockCode: "005930", Quantity: 10, AvgPrice: 10_000, CreditClass: types.CreditCash},
	}}
	r := New(store, nil, fixedStop(7), time.Minute, time.UTC)

	first, err := r.Sync(context.Background(), now, nil)
	require.NoError(t, err)
	second, err := r.Sync(context.Background(), now, first.Positions)
	require.NoError(t, err)
	assert.Equal(t, first.List(), second.List())
	assert.Empty(t, second.SoldOutside)
}

type fakeWriter struct {
	holdings []types.Holding
	inserted int
}

func (f *fakeWriter) ReplaceHoldings(ctx context.Context, date string, holdings []types.Holding) error {
	f.holdings = holdings
	return nil
}

func (f *fakeWriter) InsertTradeEvents(ctx context.Context, events []types.TradeEvent) (int, error) {
	f.inserted += len(events)
	return len(events), nil
}

type fakeLots struct{ calls int }

func (f *fakeLots) ConstructDailyLots(ctx context.Context) (ledger.RebuildResult, error) {
	f.calls++
	return ledger.RebuildResult{}, nil
}

func TestRefreshFromBroker(t *testing.T) {
	broker := &fakeBroker{
		holdings: []types.Holding{{StockCode: "005930", Quantity: 10}},
		events:   []types.TradeEvent{{OrderNo: "1", StockCode: "005930", TradeType: "현금매수", Quantity: 10, Price: 10_000, TradeDate: "2025-12-16"}},
	}
	w := &fakeWriter{}
	lots := &fakeLots{}

	res, err := NewRefresher(broker, w, lots, time.UTC).RefreshFromBroker(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Holdings)
	assert.Equal(t, 1, res.NewTrades)
	assert.True(t, res.Rebuilt)
	assert.Equal(t, 1, lots.calls)
	assert.Equal(t, "2025-12-16", w.holdings[0].SnapshotDate)
}
