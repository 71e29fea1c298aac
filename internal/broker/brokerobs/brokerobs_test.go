package brokerobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend-trader/internal/broker/paper"
	"trend-trader/internal/types"
)

func TestWrapPassesThrough(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	ctx := context.Background()
	inner := paper.New(nil, 1_000_000, time.UTC)
	b := Wrap(inner)

	resp, err := b.PlaceOrder(ctx, types.OrderReq{StockCode: "005930", Side: types.SideBuy, Channel: types.CreditCash, Qty: 1, Price: 1_000})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.OrderID)

	holdings, err := b.Holdings(ctx)
	require.NoError(t, err)
	require.Len(t, holdings, 1)

	q, err := b.Quote(ctx, "005930", types.VenueKRX)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), q.Last)

	_, err = b.PlaceOrder(ctx, types.OrderReq{StockCode: "005930", Side: types.SideSell, Channel: types.CreditCash, Qty: 5, Price: 1_000})
	assert.ErrorIs(t, err, types.ErrOrderRejected)
}

func TestRejectionReason(t *testing.T) {
	assert.Equal(t, "credit_limit", rejectionReason(fmt.Errorf("x: %w", types.ErrCreditLimit)))
	assert.Equal(t, "rate_limited", rejectionReason(types.ErrRateLimited))
	assert.Equal(t, "auth", rejectionReason(&types.BrokerError{Code: 3, Kind: types.ErrAuthExpired}))
	assert.Equal(t, "rejected", rejectionReason(types.ErrOrderRejected))
}
