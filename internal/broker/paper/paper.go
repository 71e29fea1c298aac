// Package paper is the DRY_RUN broker: orders fill immediately at their
// limit price against an in-memory account, while market data comes from
// an optional upstream broker.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"trend-trader/internal/id"
	"trend-trader/internal/interfaces"
	"trend-trader/internal/logger"
	"trend-trader/internal/types"
)

// MarketData is the read-only part of a live broker.
type MarketData interface {
	Quote(ctx context.Context, stockCode string, venue types.Venue) (types.Quote, error)
	DailyBars(ctx context.Context, stockCode string, n int) ([]types.DailyBar, error)
}

type lotKey struct {
	code  string
	class types.CreditClass
	loan  string
}

type lot struct {
	name string
	qty  int64
	cost int64
}

// Broker simulates one account. Credit buys draw a loan instead of cash.
type Broker struct {
	market MarketData
	loc    *time.Location
	now    func() time.Time

	mu       sync.Mutex
	cash     int64
	loans    int64
	lots     map[lotKey]*lot
	events   []types.TradeEvent
	marks    map[string]int64
	subs     []chan types.Fill
	rejectFn func(types.OrderReq) error
}

var _ interfaces.Broker = (*Broker)(nil)

// New starts the account with cash. market may be nil, in which case
// quotes come from the last simulated fill.
func New(market MarketData, cash int64, loc *time.Location) *Broker {
	if loc == nil {
		loc = time.UTC
	}
	return &Broker{
		market: market,
		loc:    loc,
		now:    time.Now,
		cash:   cash,
		lots:   map[lotKey]*lot{},
		marks:  map[string]int64{},
	}
}

// SetClock replaces the time source.
func (b *Broker) SetClock(now func() time.Time) { b.now = now }

// RejectWith installs a hook that can refuse orders, for exercising the
// credit fallback without a live account.
func (b *Broker) RejectWith(fn func(types.OrderReq) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectFn = fn
}

// SetMark sets the price used when no upstream market is configured.
func (b *Broker) SetMark(code string, price int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marks[code] = price
}

func (b *Broker) Quote(ctx context.Context, stockCode string, venue types.Venue) (types.Quote, error) {
	if b.market != nil {
		return b.market.Quote(ctx, stockCode, venue)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.marks[stockCode]
	if !ok {
		return types.Quote{}, fmt.Errorf("paper quote %s: %w", stockCode, types.ErrNotFound)
	}
	return types.Quote{StockCode: stockCode, Venue: venue, Last: p, Tradable: true, UpdatedAt: b.now()}, nil
}

func (b *Broker) DailyBars(ctx context.Context, stockCode string, n int) ([]types.DailyBar, error) {
	if b.market != nil {
		return b.market.DailyBars(ctx, stockCode, n)
	}
	return nil, nil
}

// PlaceOrder fills the whole order at its limit price.
func (b *Broker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	if req.Qty <= 0 || req.Price <= 0 {
		return types.OrderResp{}, fmt.Errorf("paper order %s: %w", req.StockCode, types.ErrOrderRejected)
	}
	now := b.now().In(b.loc)

	b.mu.Lock()
	if b.rejectFn != nil {
		if err := b.rejectFn(req); err != nil {
			b.mu.Unlock()
			return types.OrderResp{}, err
		}
	}
	amount := req.Qty * req.Price
	orderID := id.At(now)
	today := now.Format(types.DateLayout)
	class := req.Channel
	if class == "" {
		class = types.CreditCash
	}

	var err error
	switch req.Side {
	case types.SideBuy:
		err = b.buy(req, class, amount, today)
	case types.SideSell:
		err = b.sell(req, class)
	default:
		err = fmt.Errorf("paper order side %q: %w", req.Side, types.ErrOrderRejected)
	}
	if err != nil {
		b.mu.Unlock()
		return types.OrderResp{}, err
	}

	tradeType := "현금매수"
	switch {
	case class == types.CreditMargin && req.Side == types.SideBuy:
		tradeType = "신용매수"
	case class == types.CreditMargin:
		tradeType = "신용상환"
	case req.Side == types.SideSell:
		tradeType = "현금매도"
	}
	loan := ""
	if class == types.CreditMargin {
		loan = compact(today)
		if req.Side == types.SideSell {
			loan = req.LoanDate
		}
	}
	b.events = append(b.events, types.TradeEvent{
		OrderNo:     orderID,
		StockCode:   req.StockCode,
		TradeType:   tradeType,
		Quantity:    req.Qty,
		Price:       req.Price,
		TradeDate:   today,
		Time:        now.Format("150405"),
		CreditClass: class,
		LoanDate:    loan,
	})
	b.marks[req.StockCode] = req.Price
	fill := types.Fill{OrderID: orderID, StockCode: req.StockCode, Side: req.Side, Qty: req.Qty, Price: req.Price, At: now}
	subs := append([]chan types.Fill(nil), b.subs...)
	b.mu.Unlock()

	logger.Info(ctx, "Paper order filled",
		"order_id", orderID,
		"stock_code", req.StockCode,
		"side", string(req.Side),
		"channel", string(class),
		"qty", req.Qty,
		"price", req.Price,
	)
	for _, ch := range subs {
		select {
		case ch <- fill:
		default:
			logger.Warn(ctx, "Paper fill dropped, subscriber not keeping up", "order_id", orderID)
		}
	}
	return types.OrderResp{OrderID: orderID, Status: "FILLED", Message: "paper"}, nil
}

func (b *Broker) buy(req types.OrderReq, class types.CreditClass, amount int64, today string) error {
	k := lotKey{code: req.StockCode, class: class}
	if class == types.CreditMargin {
		k.loan = compact(today)
		b.loans += amount
	} else {
		if amount > b.cash {
			return fmt.Errorf("paper buy %s needs %d, cash %d: %w", req.StockCode, amount, b.cash, types.ErrOrderRejected)
		}
		b.cash -= amount
	}
	l := b.lots[k]
	if l == nil {
		l = &lot{}
		b.lots[k] = l
	}
	l.qty += req.Qty
	l.cost += amount
	return nil
}

// sell reduces the newest loans first for credit, or the cash lot.
func (b *Broker) sell(req types.OrderReq, class types.CreditClass) error {
	var keys []lotKey
	for k, l := range b.lots {
		if k.code != req.StockCode || k.class != class || l.qty <= 0 {
			continue
		}
		if class == types.CreditMargin && req.LoanDate != "" && req.LoanDate != types.LoanDateAnyCredit && k.loan != req.LoanDate {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].loan > keys[j].loan })

	var held int64
	for _, k := range keys {
		held += b.lots[k].qty
	}
	if held < req.Qty {
		return fmt.Errorf("paper sell %s qty %d, held %d: %w", req.StockCode, req.Qty, held, types.ErrOrderRejected)
	}

	remaining := req.Qty
	for _, k := range keys {
		l := b.lots[k]
		take := min(remaining, l.qty)
		avg := l.cost / l.qty
		l.qty -= take
		l.cost -= avg * take
		if class == types.CreditMargin {
			b.loans -= avg * take
			b.cash += (req.Price - avg) * take
		} else {
			b.cash += req.Price * take
		}
		if l.qty == 0 {
			delete(b.lots, k)
		}
		remaining -= take
		if remaining == 0 {
			break
		}
	}
	return nil
}

func (b *Broker) CancelOrder(ctx context.Context, orderID, stockCode string, venue types.Venue) error {
	return fmt.Errorf("paper order %s already filled: %w", orderID, types.ErrNotFound)
}

// PendingOrders is always empty; paper orders fill on submission.
func (b *Broker) PendingOrders(ctx context.Context) ([]types.PendingOrder, error) {
	return nil, nil
}

func (b *Broker) Holdings(ctx context.Context) ([]types.Holding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	today := b.now().In(b.loc).Format(types.DateLayout)
	out := make([]types.Holding, 0, len(b.lots))
	for k, l := range b.lots {
		mark := b.marks[k.code]
		h := types.Holding{
			SnapshotDate:   today,
			StockCode:      k.code,
			StockName:      l.name,
			Quantity:       l.qty,
			AvgPrice:       l.cost / l.qty,
			CurrentPrice:   mark,
			EvalAmount:     mark * l.qty,
			PnLAmount:      mark*l.qty - l.cost,
			CreditClass:    k.class,
			LoanDate:       k.loan,
			PurchaseAmount: l.cost,
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StockCode != out[j].StockCode {
			return out[i].StockCode < out[j].StockCode
		}
		return out[i].LoanDate < out[j].LoanDate
	})
	return out, nil
}

// Balance values stock at the latest mark. Net assets are cash plus stock
// minus outstanding loans.
func (b *Broker) Balance(ctx context.Context) (types.AccountBalance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var stock int64
	for k, l := range b.lots {
		mark := b.marks[k.code]
		if mark == 0 {
			mark = l.cost / l.qty
		}
		stock += mark * l.qty
	}
	return types.AccountBalance{
		Available:   b.cash,
		NetAssets:   b.cash + stock - b.loans,
		StockAssets: stock,
		LoanAmount:  b.loans,
	}, nil
}

func (b *Broker) TradeHistory(ctx context.Context, from, to string) ([]types.TradeEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.TradeEvent
	for _, e := range b.events {
		if e.TradeDate >= from && e.TradeDate <= to {
			out = append(out, e)
		}
	}
	return out, nil
}

// Fills returns a channel receiving every simulated execution until ctx is
// done.
func (b *Broker) Fills(ctx context.Context) (<-chan types.Fill, error) {
	if ctx == nil {
		return nil, errors.New("paper fills: nil context")
	}
	ch := make(chan types.Fill, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func compact(date string) string {
	if len(date) == 10 {
		return date[:4] + date[5:7] + date[8:]
	}
	return date
}
