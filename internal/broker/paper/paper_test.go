package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend-trader/internal/id"
	"trend-trader/internal/types"
)

var kst = time.FixedZone("KST", 9*3600)

func newPaper(t *testing.T, cash int64) *Broker {
	t.Helper()
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	b := New(nil, cash, kst)
	b.SetClock(func() time.Time { return time.Date(2025, 12, 16, 10, 5, 0, 0, kst) })
	return b
}

func TestCashBuyThenSell(t *testing.T) {
	ctx := context.Background()
	b := newPaper(t, 1_000_000)

	resp, err := b.PlaceOrder(ctx, types.OrderReq{StockCode: "005930", Side: types.SideBuy, Channel: types.CreditCash, Qty: 10, Price: 50_000, Venue: types.VenueKRX})
	require.NoError(t, err)
	assert.Equal(t, "FILLED", resp.Status)
	at, ok := id.Time(resp.OrderID)
	require.True(t, ok)
	assert.Equal(t, int64(1765847100000), at.UnixMilli())

	bal, err := b.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), bal.Available)
	assert.Equal(t, int64(1_000_000), bal.NetAssets)

	_, err = b.PlaceOrder(ctx, types.OrderReq{StockCode: "005930", Side: types.SideSell, Channel: types.CreditCash, Qty: 4, Price: 55_000})
	require.NoError(t, err)

	holdings, err := b.Holdings(ctx)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, int64(6), holdings[0].Quantity)
	assert.Equal(t, int64(50_000), holdings[0].AvgPrice)
	assert.Equal(t, int64(55_000), holdings[0].CurrentPrice)

	bal, err = b.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(720_000), bal.Available)
	assert.Equal(t, int64(330_000), bal.StockAssets)

	hist, err := b.TradeHistory(ctx, "2025-12-16", "2025-12-16")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "현금매수", hist[0].TradeType)
	assert.Equal(t, "현금매도", hist[1].TradeType)
	assert.Equal(t, "100500", hist[0].Time)
}

func TestCreditBuyRecordsLoanDate(t *testing.T) {
	ctx := context.Background()
	b := newPaper(t, 100_000)

	_, err := b.PlaceOrder(ctx, types.OrderReq{StockCode: "000660", Side: types.SideBuy, Channel: types.CreditMargin, Qty: 5, Price: 100_000})
	require.NoError(t, err)

	holdings, err := b.Holdings(ctx)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, types.CreditMargin, holdings[0].CreditClass)
	assert.Equal(t, "20251216", holdings[0].LoanDate)

	bal, err := b.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), bal.Available, "credit buys do not draw cash")
	assert.Equal(t, int64(500_000), bal.LoanAmount)

	_, err = b.PlaceOrder(ctx, types.OrderReq{StockCode: "000660", Side: types.SideSell, Channel: types.CreditMargin, Qty: 5, Price: 110_000, LoanDate: types.LoanDateAnyCredit})
	require.NoError(t, err)

	bal, err = b.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(150_000), bal.Available)
	assert.Zero(t, bal.LoanAmount)

	hist, err := b.TradeHistory(ctx, "2025-12-01", "2025-12-31")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "신용매수", hist[0].TradeType)
	assert.Equal(t, "20251216", hist[0].LoanDate)
	assert.Equal(t, "신용상환", hist[1].TradeType)
}

func TestRejections(t *testing.T) {
	ctx := context.Background()
	b := newPaper(t, 10_000)

	_, err := b.PlaceOrder(ctx, types.OrderReq{StockCode: "005930", Side: types.SideBuy, Channel: types.CreditCash, Qty: 1, Price: 50_000})
	assert.ErrorIs(t, err, types.ErrOrderRejected)

	_, err = b.PlaceOrder(ctx, types.OrderReq{StockCode: "005930", Side: types.SideSell, Channel: types.CreditCash, Qty: 1, Price: 50_000})
	assert.ErrorIs(t, err, types.ErrOrderRejected, "cannot sell what is not held")

	b.RejectWith(func(req types.OrderReq) error {
		if req.Channel == types.CreditMargin {
			return &types.BrokerError{Code: 1, Message: "신용한도 초과", Kind: types.ErrCreditLimit}
		}
		return nil
	})
	_, err = b.PlaceOrder(ctx, types.OrderReq{StockCode: "005930", Side: types.SideBuy, Channel: types.CreditMargin, Qty: 1, Price: 5_000})
	assert.True(t, errors.Is(err, types.ErrCreditLimit))

	err = b.CancelOrder(ctx, "x", "005930", types.VenueKRX)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestFillsAreBroadcast(t *testing.T) {
	b := newPaper(t, 1_000_000)
	ctx, cancel := context.WithCancel(context.Background())
	fills, err := b.Fills(ctx)
	require.NoError(t, err)

	resp, err := b.PlaceOrder(context.Background(), types.OrderReq{StockCode: "005930", Side: types.SideBuy, Channel: types.CreditCash, Qty: 2, Price: 1_000})
	require.NoError(t, err)

	select {
	case f := <-fills:
		assert.Equal(t, resp.OrderID, f.OrderID)
		assert.Equal(t, int64(2), f.Qty)
		assert.Equal(t, types.SideBuy, f.Side)
	case <-time.After(time.Second):
		t.Fatal("no fill received")
	}

	cancel()
	select {
	case _, ok := <-fills:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("fill channel not closed")
	}
}

func TestQuoteFromMark(t *testing.T) {
	b := newPaper(t, 0)
	_, err := b.Quote(context.Background(), "005930", types.VenueKRX)
	assert.ErrorIs(t, err, types.ErrNotFound)

	b.SetMark("005930", 70_000)
	q, err := b.Quote(context.Background(), "005930", types.VenueNXT)
	require.NoError(t, err)
	assert.Equal(t, int64(70_000), q.Last)
	assert.Equal(t, types.VenueNXT, q.Venue)
	assert.True(t, q.Tradable)
}
