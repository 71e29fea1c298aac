package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend-trader/internal/logger"
	"trend-trader/internal/reconcile"
	"trend-trader/internal/store"
	"trend-trader/internal/types"
)

var kst = time.FixedZone("KST", 9*3600)

// Tuesday.
func at(hour, min, sec int) time.Time {
	return time.Date(2025, 12, 16, hour, min, sec, 0, kst)
}

type fakeBroker struct {
	mu        sync.Mutex
	quotes    map[string]types.Quote
	nxtQuotes map[string]types.Quote
	balance   types.AccountBalance
	orders    []types.OrderReq
	pending   []types.PendingOrder
	cancelled []string
	bars      []types.DailyBar
	seq       int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		quotes:    map[string]types.Quote{},
		nxtQuotes: map[string]types.Quote{},
		balance:   types.AccountBalance{Available: 10_000_000, NetAssets: 10_000_000},
	}
}

func (f *fakeBroker) Quote(ctx context.Context, code string, venue types.Venue) (types.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if venue == types.VenueNXT {
		if q, ok := f.nxtQuotes[code]; ok {
			return q, nil
		}
	}
	q, ok := f.quotes[code]
	if !ok {
		return types.Quote{}, types.ErrNotFound
	}
	return q, nil
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.orders = append(f.orders, req)
	return types.OrderResp{OrderID: fmt.Sprintf("%04d", f.seq), Status: "ACCEPTED"}, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, orderID, code string, venue types.Venue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	kept := f.pending[:0]
	for _, o := range f.pending {
		if o.OrderID != orderID {
			kept = append(kept, o)
		}
	}
	f.pending = kept
	return nil
}

func (f *fakeBroker) PendingOrders(ctx context.Context) ([]types.PendingOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.PendingOrder(nil), f.pending...), nil
}

func (f *fakeBroker) Holdings(ctx context.Context) ([]types.Holding, error) { return nil, nil }

func (f *fakeBroker) Balance(ctx context.Context) (types.AccountBalance, error) {
	return f.balance, nil
}

func (f *fakeBroker) TradeHistory(ctx context.Context, from, to string) ([]types.TradeEvent, error) {
	return nil, nil
}

func (f *fakeBroker) DailyBars(ctx context.Context, code string, n int) ([]types.DailyBar, error) {
	return f.bars, nil
}

func (f *fakeBroker) Fills(ctx context.Context) (<-chan types.Fill, error) {
	return make(chan types.Fill), nil
}

type fakeStore struct {
	mu       sync.Mutex
	holdings []types.Holding
	events   []types.TradeEvent
}

func (s *fakeStore) LatestHoldings(ctx context.Context, date string) ([]types.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Holding(nil), s.holdings...), nil
}

func (s *fakeStore) TradeEventsOn(ctx context.Context, date string) ([]types.TradeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.TradeEvent(nil), s.events...), nil
}

type fakeStates struct {
	date    string
	payload []byte
}

func (s *fakeStates) SaveDayState(ctx context.Context, date string, payload []byte) error {
	s.date, s.payload = date, payload
	return nil
}

func (s *fakeStates) LatestDayState(ctx context.Context) (string, []byte, error) {
	if s.payload == nil {
		return "", nil, types.ErrNotFound
	}
	return s.date, s.payload, nil
}

type harness struct {
	engine *Engine
	broker *fakeBroker
	store  *fakeStore
	states *fakeStates
}

func newHarness(t *testing.T, start time.Time, items ...store.WatchItem) *harness {
	t.Helper()
	t.Setenv("TRADER_LOG_DIR", t.TempDir())

	cfg := store.Default()
	broker := newFakeBroker()
	st := &fakeStore{}
	states := &fakeStates{}
	wl := store.NewStaticWatchlist(items...)
	rec := reconcile.New(st, broker, func(code string) float64 {
		return wl.StopLossPct(code, cfg.Trading.StopLossPct)
	}, cfg.PositionGrace(), cfg.Location())

	e := New(Deps{
		Config:     cfg,
		Broker:     broker,
		Prices:     broker,
		Watchlist:  wl,
		Reconciler: rec,
		States:     states,
		Clock:      func() time.Time { return start },
	})
	return &harness{engine: e, broker: broker, store: st, states: states}
}

func (h *harness) tick(t *testing.T, now time.Time) *types.TickResult {
	t.Helper()
	res, err := h.engine.TickAt(context.Background(), now)
	require.NoError(t, err)
	return res
}

func TestBreakoutPlacesMarginBuyAndGoesPending(t *testing.T) {
	h := newHarness(t, at(9, 5, 0), store.WatchItem{Ticker: "000001", TargetPrice: 10_000})
	h.broker.quotes["000001"] = types.Quote{StockCode: "000001", Last: 10_050, Open: 9_900, Tradable: true}

	res := h.tick(t, at(9, 5, 0))

	require.Len(t, h.broker.orders, 1)
	o := h.broker.orders[0]
	assert.Equal(t, types.SideBuy, o.Side)
	assert.Equal(t, types.CreditMargin, o.Channel)
	assert.Equal(t, int64(10_030), o.Price)
	assert.Equal(t, int64(250_000/10_030), o.Qty)
	assert.Equal(t, types.VenueKRX, o.Venue)

	tr := h.engine.State().Day.Triggers["000001"]
	require.NotNil(t, tr)
	assert.Equal(t, StatusPending, tr.Status)
	assert.Equal(t, EntryBreakout, tr.EntryType)
	assert.Equal(t, KRXMorning, tr.Session)
	assert.Equal(t, at(9, 5, 0).Add(3*time.Minute), tr.Deadline)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, "BUY", res.Actions[0].Kind)

	h.tick(t, at(9, 5, 1))
	assert.Len(t, h.broker.orders, 1, "one trigger per symbol per session")
}

func TestAcceptedOrderLogsOneTradeEvent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, logger.InitWithWriter(logger.LogConfig{Level: "INFO", Format: "json"}, &buf))
	t.Cleanup(func() {
		_ = logger.InitWithWriter(logger.LogConfig{Level: "INFO", Format: "text"}, os.Stderr)
	})

	h := newHarness(t, at(9, 5, 0), store.WatchItem{Ticker: "000001", TargetPrice: 10_000})
	h.broker.quotes["000001"] = types.Quote{StockCode: "000001", Last: 10_050, Open: 9_900, Tradable: true}
	h.tick(t, at(9, 5, 0))
	require.Len(t, h.broker.orders, 1)

	assert.Equal(t, 1, strings.Count(buf.String(), `"type":"TRADE"`))
}

func TestNoEntryOutsideSessions(t *testing.T) {
	h := newHarness(t, at(11, 0, 0), store.WatchItem{Ticker: "000001", TargetPrice: 10_000})
	h.broker.quotes["000001"] = types.Quote{Last: 10_500, Tradable: true}

	h.tick(t, at(11, 0, 0))
	assert.Empty(t, h.broker.orders)
}

func TestGapUpBuysAtLastPlusBuffer(t *testing.T) {
	h := newHarness(t, at(9, 0, 10), store.WatchItem{Ticker: "000001", TargetPrice: 10_000})
	h.broker.quotes["000001"] = types.Quote{Last: 10_300, Open: 10_200, Tradable: true}

	h.tick(t, at(9, 0, 10))

	require.Len(t, h.broker.orders, 1)
	assert.Equal(t, int64(10_330), h.broker.orders[0].Price)
	tr := h.engine.State().Day.Triggers["000001"]
	assert.Equal(t, EntryGapUp, tr.EntryType)
	assert.Equal(t, KRXOpen, tr.Session)
}

func TestNXTEveningFirstEntryBuysFullUnit(t *testing.T) {
	h := newHarness(t, at(19, 40, 0), store.WatchItem{Ticker: "000001", TargetPrice: 10_000})
	h.broker.quotes["000001"] = types.Quote{Last: 10_100, Tradable: true}

	h.tick(t, at(19, 40, 0))

	require.Len(t, h.broker.orders, 1)
	assert.Equal(t, int64(500_000/10_030), h.broker.orders[0].Qty)
	assert.Equal(t, types.VenueNXT, h.broker.orders[0].Venue)
}

func TestTwoTierStopSellsOnlyTheAddOnLot(t *testing.T) {
	h := newHarness(t, at(10, 0, 0))
	h.store.holdings = []types.Holding{
		{StockCode: "000001", Quantity: 10, AvgPrice: 9_750, CreditClass: types.CreditMargin, LoanDate: "20251211"},
		{StockCode: "000001", Quantity: 5, AvgPrice: 10_500, CreditClass: types.CreditMargin, LoanDate: "20251216"},
	}
	h.store.events = []types.TradeEvent{
		{OrderNo: "7", StockCode: "000001", TradeType: "신용매수", Quantity: 5, Price: 10_500, TradeDate: "2025-12-16", CreditClass: types.CreditMargin},
	}
	h.broker.quotes["000001"] = types.Quote{Last: 9_700, Tradable: true}

	h.tick(t, at(10, 0, 0))

	require.Len(t, h.broker.orders, 1)
	o := h.broker.orders[0]
	assert.Equal(t, types.SideSell, o.Side)
	assert.Equal(t, int64(5), o.Qty)
	assert.Equal(t, int64(9_670), o.Price)
	assert.Equal(t, types.CreditMargin, o.Channel)
	assert.True(t, h.engine.State().Day.SoldToday["000001"])

	h.tick(t, at(10, 0, 1))
	assert.Len(t, h.broker.orders, 1, "an exit inside the grace window is not repeated")
}

type fakeLots struct {
	lots  []types.Lot
	asked []types.CreditClass
}

func (f *fakeLots) OpenLots(ctx context.Context, code string) ([]types.Lot, error) {
	return f.lots, nil
}

func (f *fakeLots) LatestOpenLot(ctx context.Context, code string, class types.CreditClass) (types.Lot, bool, error) {
	f.asked = append(f.asked, class)
	for i := len(f.lots) - 1; i >= 0; i-- {
		if f.lots[i].CreditClass == class {
			return f.lots[i], true, nil
		}
	}
	return types.Lot{}, false, nil
}

func TestLotStopUsesLedgerNewestLot(t *testing.T) {
	h := newHarness(t, at(10, 0, 0))
	h.store.holdings = []types.Holding{
		{StockCode: "000001", Quantity: 10, AvgPrice: 9_750, CreditClass: types.CreditMargin, LoanDate: "20251211"},
		{StockCode: "000001", Quantity: 5, AvgPrice: 10_500, CreditClass: types.CreditMargin, LoanDate: "20251212"},
	}
	lots := &fakeLots{lots: []types.Lot{
		{StockCode: "000001", CreditClass: types.CreditMargin, LoanDate: "20251211", TradeDate: "2025-12-11", NetQuantity: 10, AvgPrice: decimal.NewFromInt(9_750)},
		{StockCode: "000001", CreditClass: types.CreditMargin, LoanDate: "20251212", TradeDate: "2025-12-12", NetQuantity: 5, AvgPrice: decimal.NewFromInt(10_500)},
	}}
	h.engine.lots = lots
	h.broker.quotes["000001"] = types.Quote{Last: 9_700, Tradable: true}

	h.tick(t, at(10, 0, 0))

	require.Len(t, h.broker.orders, 1)
	o := h.broker.orders[0]
	assert.Equal(t, types.SideSell, o.Side)
	assert.Equal(t, int64(5), o.Qty)
	assert.Equal(t, "20251212", o.LoanDate)
	assert.Contains(t, lots.asked, types.CreditMargin)
}

func TestWholePositionStop(t *testing.T) {
	h := newHarness(t, at(10, 0, 0))
	h.store.holdings = []types.Holding{
		{StockCode: "000002", Quantity: 20, AvgPrice: 10_000, CreditClass: types.CreditCash},
	}
	h.broker.quotes["000002"] = types.Quote{Last: 9_300, Tradable: true}

	h.tick(t, at(10, 0, 0))

	require.Len(t, h.broker.orders, 1)
	assert.Equal(t, int64(20), h.broker.orders[0].Qty)
	assert.Equal(t, types.CreditCash, h.broker.orders[0].Channel)
}

func TestStopsSuppressedDuringClosingAuction(t *testing.T) {
	h := newHarness(t, at(15, 25, 0))
	h.store.holdings = []types.Holding{
		{StockCode: "000002", Quantity: 20, AvgPrice: 10_000, CreditClass: types.CreditCash},
	}
	h.broker.quotes["000002"] = types.Quote{Last: 9_000, Tradable: true}

	h.tick(t, at(15, 25, 0))
	assert.Empty(t, h.broker.orders)
}

func TestStopsRunBeforeEntries(t *testing.T) {
	h := newHarness(t, at(9, 5, 0), store.WatchItem{Ticker: "000002", TargetPrice: 9_000})
	h.store.holdings = []types.Holding{
		{StockCode: "000002", Quantity: 20, AvgPrice: 10_000, CreditClass: types.CreditCash},
	}
	h.broker.quotes["000002"] = types.Quote{Last: 9_300, Tradable: true}

	h.tick(t, at(9, 5, 0))

	require.Len(t, h.broker.orders, 1)
	assert.Equal(t, types.SideSell, h.broker.orders[0].Side)
}

func TestDailyResetClearsTransientState(t *testing.T) {
	h := newHarness(t, at(9, 5, 0), store.WatchItem{Ticker: "000001", TargetPrice: 10_000})
	h.broker.quotes["000001"] = types.Quote{Last: 10_050, Tradable: true}
	h.tick(t, at(9, 5, 0))

	h.engine.mu.Lock()
	h.engine.day.MarkSold("000003")
	h.engine.mu.Unlock()

	next := time.Date(2025, 12, 17, 7, 0, 0, 0, kst)
	h.tick(t, next)

	day := h.engine.State().Day
	assert.Equal(t, "2025-12-17", day.Date)
	assert.Empty(t, day.Triggers)
	assert.Empty(t, day.SoldToday)
	assert.True(t, day.SoldSinceAdded["000003"], "sold-since-added outlives the day")
	assert.Equal(t, "2025-12-17", h.states.date)
}

func TestVITimeoutCancelsAndReroutes(t *testing.T) {
	h := newHarness(t, at(9, 5, 0), store.WatchItem{Ticker: "000001", TargetPrice: 10_000})
	h.broker.quotes["000001"] = types.Quote{Last: 10_050, Tradable: true}

	h.tick(t, at(9, 5, 0))
	require.Len(t, h.broker.orders, 1)
	first := h.engine.State().Day.Triggers["000001"].OrderID
	h.broker.pending = []types.PendingOrder{{OrderID: first, StockCode: "000001", Qty: 24, Remaining: 24}}

	h.tick(t, at(9, 5, 1))
	assert.Equal(t, StatusVIPending, h.engine.State().Day.Triggers["000001"].Status)
	assert.Len(t, h.engine.State().VIOrders, 1)

	h.tick(t, at(9, 7, 0))
	assert.Empty(t, h.broker.cancelled, "deadline not reached")

	h.broker.nxtQuotes["000001"] = types.Quote{Last: 10_050, Tradable: true}
	h.tick(t, at(9, 8, 1))

	assert.Equal(t, []string{first}, h.broker.cancelled)
	require.Len(t, h.broker.orders, 2)
	assert.Equal(t, types.VenueNXT, h.broker.orders[1].Venue)
	assert.Equal(t, int64(10_030), h.broker.orders[1].Price)

	tr := h.engine.State().Day.Triggers["000001"]
	assert.Equal(t, StatusPending, tr.Status)
	assert.True(t, tr.Rerouted)
	assert.NotEqual(t, first, tr.OrderID)
}

func TestVITimeoutCancelsWhenOtherVenueHalted(t *testing.T) {
	h := newHarness(t, at(9, 5, 0), store.WatchItem{Ticker: "000001", TargetPrice: 10_000})
	h.broker.quotes["000001"] = types.Quote{Last: 10_050, Tradable: true}
	h.broker.nxtQuotes["000001"] = types.Quote{Last: 10_050, Tradable: false}

	h.tick(t, at(9, 5, 0))
	first := h.engine.State().Day.Triggers["000001"].OrderID
	h.broker.pending = []types.PendingOrder{{OrderID: first, StockCode: "000001", Remaining: 24}}
	h.tick(t, at(9, 5, 1))
	h.tick(t, at(9, 8, 1))

	tr := h.engine.State().Day.Triggers["000001"]
	assert.Equal(t, StatusCancelled, tr.Status)
	assert.Len(t, h.broker.orders, 1)

	h.tick(t, at(9, 8, 2))
	assert.Len(t, h.broker.orders, 1, "cancelled trigger waits for another session")

	h.tick(t, at(15, 16, 0))
	assert.Len(t, h.broker.orders, 2, "afternoon session may retry")
}

func TestFilledOrderLeavesPending(t *testing.T) {
	h := newHarness(t, at(9, 5, 0), store.WatchItem{Ticker: "000001", TargetPrice: 10_000})
	h.broker.quotes["000001"] = types.Quote{Last: 10_050, Tradable: true}

	h.tick(t, at(9, 5, 0))
	h.tick(t, at(9, 5, 1))
	assert.Equal(t, StatusFilled, h.engine.State().Day.Triggers["000001"].Status)
}

func TestOnFillRecordsPositionWithinGrace(t *testing.T) {
	h := newHarness(t, at(9, 5, 0), store.WatchItem{Ticker: "000001", TargetPrice: 10_000})
	h.broker.quotes["000001"] = types.Quote{Last: 10_050, Tradable: true}
	h.tick(t, at(9, 5, 0))
	orderID := h.engine.State().Day.Triggers["000001"].OrderID

	h.engine.OnFill(context.Background(), types.Fill{OrderID: orderID, StockCode: "000001", Side: types.SideBuy, Qty: 24, Price: 10_030, At: at(9, 5, 0)})

	st := h.engine.State()
	assert.Equal(t, StatusFilled, st.Day.Triggers["000001"].Status)
	require.Len(t, st.Positions, 1)
	assert.Equal(t, int64(24), st.Positions[0].TodayQty)
	assert.False(t, st.Day.SoldToday["000001"])

	h.tick(t, at(9, 6, 0))
	assert.Len(t, h.engine.State().Positions, 1, "own fill survives resync inside the grace window")
}

func TestSoldOutsideBlocksReentry(t *testing.T) {
	h := newHarness(t, at(9, 2, 0), store.WatchItem{Ticker: "000001", TargetPrice: 10_000})
	h.store.holdings = []types.Holding{{StockCode: "000001", Quantity: 10, AvgPrice: 9_000, CreditClass: types.CreditCash}}
	h.broker.quotes["000001"] = types.Quote{Last: 9_500, Tradable: true}
	h.tick(t, at(9, 2, 0))

	h.store.mu.Lock()
	h.store.holdings = nil
	h.store.mu.Unlock()
	h.broker.quotes["000001"] = types.Quote{Last: 10_100, Tradable: true}
	h.tick(t, at(9, 3, 0))

	assert.Empty(t, h.broker.orders)
	day := h.engine.State().Day
	assert.True(t, day.SoldToday["000001"])
	assert.True(t, day.SoldSinceAdded["000001"])
}

func TestCloseSellsTodayQtyAtOrBelowEntry(t *testing.T) {
	h := newHarness(t, at(19, 56, 0))
	h.store.holdings = []types.Holding{{StockCode: "000001", Quantity: 10, AvgPrice: 10_000, CreditClass: types.CreditMargin}}
	h.store.events = []types.TradeEvent{
		{OrderNo: "1", StockCode: "000001", TradeType: "신용매수", Quantity: 10, Price: 10_000, TradeDate: "2025-12-16", CreditClass: types.CreditMargin},
	}
	h.broker.quotes["000001"] = types.Quote{Last: 9_950, Tradable: true}

	h.tick(t, at(19, 56, 0))

	require.Len(t, h.broker.orders, 1)
	assert.Equal(t, types.SideSell, h.broker.orders[0].Side)
	assert.Equal(t, int64(10), h.broker.orders[0].Qty)
	assert.True(t, h.engine.State().Day.CloseDone)

	h.tick(t, at(19, 57, 0))
	assert.Len(t, h.broker.orders, 1, "close logic runs once per day")
}

func TestClosePyramidsOnConfirmedVolume(t *testing.T) {
	h := newHarness(t, at(19, 56, 0))
	h.store.holdings = []types.Holding{{StockCode: "000001", Quantity: 10, AvgPrice: 10_000, CreditClass: types.CreditMargin}}
	h.store.events = []types.TradeEvent{
		{OrderNo: "1", StockCode: "000001", TradeType: "신용매수", Quantity: 10, Price: 10_000, TradeDate: "2025-12-16", CreditClass: types.CreditMargin},
	}
	for i := 1; i <= 20; i++ {
		h.broker.bars = append(h.broker.bars, types.DailyBar{Date: fmt.Sprintf("2025-11-%02d", i), Volume: 1_000})
	}
	h.broker.quotes["000001"] = types.Quote{Last: 10_400, Volume: 2_000, Tradable: true}

	h.tick(t, at(19, 56, 0))

	require.Len(t, h.broker.orders, 1)
	o := h.broker.orders[0]
	assert.Equal(t, types.SideBuy, o.Side)
	assert.Equal(t, int64(10_430), o.Price)
}

func TestCloseHoldsWithoutVolume(t *testing.T) {
	h := newHarness(t, at(19, 56, 0))
	h.store.holdings = []types.Holding{{StockCode: "000001", Quantity: 10, AvgPrice: 10_000, CreditClass: types.CreditMargin}}
	h.store.events = []types.TradeEvent{
		{OrderNo: "1", StockCode: "000001", TradeType: "신용매수", Quantity: 10, Price: 10_000, TradeDate: "2025-12-16", CreditClass: types.CreditMargin},
	}
	for i := 1; i <= 20; i++ {
		h.broker.bars = append(h.broker.bars, types.DailyBar{Date: fmt.Sprintf("2025-11-%02d", i), Volume: 1_000})
	}
	h.broker.quotes["000001"] = types.Quote{Last: 10_400, Volume: 1_200, Tradable: true}

	h.tick(t, at(19, 56, 0))
	assert.Empty(t, h.broker.orders)
}

func TestRestoreSameDay(t *testing.T) {
	h := newHarness(t, at(9, 5, 0), store.WatchItem{Ticker: "000001", TargetPrice: 10_000})
	h.broker.quotes["000001"] = types.Quote{Last: 10_050, Tradable: true}
	h.tick(t, at(9, 5, 0))

	again := newHarness(t, at(9, 30, 0), store.WatchItem{Ticker: "000001", TargetPrice: 10_000})
	again.engine.states = h.states
	require.NoError(t, again.engine.Restore(context.Background()))

	tr := again.engine.State().Day.Triggers["000001"]
	require.NotNil(t, tr)
	assert.Equal(t, StatusPending, tr.Status)
}

func TestEvaluateStopTiers(t *testing.T) {
	p := types.Position{
		StockCode: "000001", Quantity: 15,
		AvgPrice: decimal.NewFromInt(10_000),
		TodayQty: 5, TodayEntryPrice: decimal.NewFromInt(10_500),
	}
	d, hit := evaluateStop(p, nil, 9_700, 7)
	require.True(t, hit)
	assert.Equal(t, tierLot, d.tier)
	assert.Equal(t, int64(5), d.qty)

	_, hit = evaluateStop(p, nil, 9_800, 7)
	assert.False(t, hit)

	d, hit = evaluateStop(types.Position{Quantity: 15, AvgPrice: decimal.NewFromInt(10_000)}, &types.Lot{NetQuantity: 5, AvgPrice: decimal.NewFromInt(9_000), LoanDate: "20251212"}, 9_300, 7)
	require.True(t, hit)
	assert.Equal(t, tierPosition, d.tier)
	assert.Equal(t, int64(15), d.qty)

	d, hit = evaluateStop(types.Position{Quantity: 15, AvgPrice: decimal.NewFromInt(10_000)}, &types.Lot{NetQuantity: 5, AvgPrice: decimal.NewFromInt(10_500), LoanDate: "20251212"}, 9_700, 7)
	require.True(t, hit)
	assert.Equal(t, tierLot, d.tier)
	assert.Equal(t, "20251212", d.loanDate)
}
