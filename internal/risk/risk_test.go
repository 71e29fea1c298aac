package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend-trader/internal/types"
)

func TestTickSize(t *testing.T) {
	cases := []struct {
		price int64
		want  int64
	}{
		{1_999, 1}, {2_000, 5}, {4_995, 5}, {5_000, 10}, {19_990, 10},
		{20_000, 50}, {49_950, 50}, {50_000, 100}, {199_900, 100},
		{200_000, 500}, {499_500, 500}, {500_000, 1_000}, {1_500_000, 1_000},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, TickSize(c.price), "price %d", c.price)
	}
}

func TestAddTicks(t *testing.T) {
	assert.Equal(t, int64(10_030), AddTicks(10_000, 3))
	assert.Equal(t, int64(9_670), AddTicks(9_700, -3))
	assert.Equal(t, int64(20_050), AddTicks(19_990, 2))
	assert.Equal(t, int64(19_990), AddTicks(20_000, -1))
	assert.Equal(t, int64(10_000), AddTicks(10_000, 0))
	assert.Equal(t, int64(10_010), AddTicks(10_005, 1))
}

func TestHalfUnitShares(t *testing.T) {
	s := NewSizer(1, 5)
	capital := decimal.NewFromInt(10_000_000)

	assert.Equal(t, int64(24), s.HalfUnitShares(capital, 10_030))
	assert.Equal(t, int64(250_000/10_030), s.HalfUnitShares(capital, 10_030))
	assert.Equal(t, int64(49), s.FullUnitShares(capital, 10_030))
	assert.Equal(t, int64(0), s.HalfUnitShares(capital, 0))
	assert.Equal(t, int64(0), s.HalfUnitShares(capital, 300_000))
}

func TestUnitsHeld(t *testing.T) {
	s := NewSizer(1, 5)
	capital := decimal.NewFromInt(10_000_000)

	assert.InDelta(t, 0.5, s.UnitsHeld(decimal.NewFromInt(250_000), capital), 1e-9)
	assert.True(t, s.CanBuyMoreUnits(decimal.NewFromInt(250_000), capital, 1))
	assert.False(t, s.CanBuyMoreUnits(decimal.NewFromInt(500_000), capital, 1))
}

func TestCapitalBase(t *testing.T) {
	positions := []types.Position{
		{StockCode: "005930", Quantity: 10, AvgPrice: decimal.NewFromInt(10_000)},
		{StockCode: "000660", Quantity: 2, AvgPrice: decimal.NewFromInt(100_000)},
	}
	got := CapitalBase(1_000_000, positions, map[string]int64{"005930": 12_000})
	assert.True(t, got.Equal(decimal.NewFromInt(1_000_000+120_000+200_000)), got.String())
}

func TestLeverageGuard(t *testing.T) {
	g := NewLeverageGuard(120)
	bal := types.AccountBalance{NetAssets: 10_000_000, StockAssets: 11_500_000}

	rejected := g.Check(bal, 700_000)
	assert.False(t, rejected.Allowed)
	assert.True(t, rejected.Projected.Equal(decimal.NewFromInt(122)))
	assert.True(t, rejected.Current.Equal(decimal.NewFromInt(115)))

	accepted := g.Check(bal, 400_000)
	assert.True(t, accepted.Allowed)
	assert.True(t, accepted.Projected.Equal(decimal.NewFromInt(119)))

	assert.False(t, g.Check(types.AccountBalance{}, 1).Allowed)
}

type fakeBroker struct {
	balance    types.AccountBalance
	balanceErr error
	errs       []error
	orders     []types.OrderReq
}

func (f *fakeBroker) Balance(ctx context.Context) (types.AccountBalance, error) {
	return f.balance, f.balanceErr
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	f.orders = append(f.orders, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return types.OrderResp{}, err
		}
	}
	return types.OrderResp{OrderID: "ord-1", Status: "ACCEPTED"}, nil
}

func newRouter(f *fakeBroker) *Router {
	return NewRouter(f, NewLeverageGuard(120))
}

var healthyBalance = types.AccountBalance{NetAssets: 10_000_000, StockAssets: 5_000_000, Available: 5_000_000}

func TestRouterBuyMarginFirst(t *testing.T) {
	f := &fakeBroker{balance: healthyBalance}
	routed, err := newRouter(f).Buy(context.Background(), BuyIntent{StockCode: "005930", Qty: 24, Price: 10_030, Venue: types.VenueKRX})
	require.NoError(t, err)
	assert.Equal(t, types.CreditMargin, routed.Channel)
	require.Len(t, f.orders, 1)
	assert.Equal(t, types.CreditMargin, f.orders[0].Channel)
	assert.Equal(t, int64(10_030), f.orders[0].Price)
}

func TestRouterBuyFallsBackToCashOnCreditLimit(t *testing.T) {
	creditErr := &types.BrokerError{Code: 400, Message: "신용한도 초과", Kind: types.ErrCreditLimit}
	f := &fakeBroker{balance: healthyBalance, errs: []error{creditErr, nil}}

	routed, err := newRouter(f).Buy(context.Background(), BuyIntent{StockCode: "005930", Qty: 10, Price: 10_000})
	require.NoError(t, err)
	assert.Equal(t, types.CreditCash, routed.Channel)
	require.Len(t, f.orders, 2)
	assert.Equal(t, types.CreditMargin, f.orders[0].Channel)
	assert.Equal(t, types.CreditCash, f.orders[1].Channel)
}

func TestRouterBuyOtherRejectionIsTerminal(t *testing.T) {
	f := &fakeBroker{balance: healthyBalance, errs: []error{types.ErrOrderRejected}}

	_, err := newRouter(f).Buy(context.Background(), BuyIntent{StockCode: "005930", Qty: 10, Price: 10_000})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrOrderRejected))
	assert.Len(t, f.orders, 1)
}

func TestRouterBuyCashFallbackFailsOnce(t *testing.T) {
	creditErr := &types.BrokerError{Code: 400, Message: "융자한도", Kind: types.ErrCreditLimit}
	f := &fakeBroker{balance: healthyBalance, errs: []error{creditErr, types.ErrOrderRejected}}

	_, err := newRouter(f).Buy(context.Background(), BuyIntent{StockCode: "005930", Qty: 10, Price: 10_000})
	require.Error(t, err)
	assert.Len(t, f.orders, 2)
}

func TestRouterBuyBlockedByLeverage(t *testing.T) {
	f := &fakeBroker{balance: types.AccountBalance{NetAssets: 10_000_000, StockAssets: 11_500_000}}

	routed, err := newRouter(f).Buy(context.Background(), BuyIntent{StockCode: "005930", Qty: 70, Price: 10_000})
	require.ErrorIs(t, err, types.ErrLeverageBlocked)
	assert.False(t, routed.Check.Allowed)
	assert.Empty(t, f.orders)
}

func TestRouterBuyDeniedWhenBalanceFails(t *testing.T) {
	f := &fakeBroker{balanceErr: errors.New("timeout")}

	_, err := newRouter(f).Buy(context.Background(), BuyIntent{StockCode: "005930", Qty: 1, Price: 10_000})
	require.ErrorIs(t, err, types.ErrLeverageBlocked)
	assert.Empty(t, f.orders)
}

func TestRouterSellUsesHoldingChannel(t *testing.T) {
	f := &fakeBroker{}
	r := newRouter(f)

	_, err := r.Sell(context.Background(), SellIntent{StockCode: "005930", Qty: 5, Price: 9_670, CreditClass: types.CreditMargin})
	require.NoError(t, err)
	_, err = r.Sell(context.Background(), SellIntent{StockCode: "000660", Qty: 1, Price: 90_000})
	require.NoError(t, err)

	require.Len(t, f.orders, 2)
	assert.Equal(t, types.CreditMargin, f.orders[0].Channel)
	assert.Equal(t, types.LoanDateAnyCredit, f.orders[0].LoanDate)
	assert.Equal(t, types.CreditCash, f.orders[1].Channel)
	assert.Empty(t, f.orders[1].LoanDate)
}
