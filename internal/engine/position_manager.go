package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"trend-trader/internal/reconcile"
	"trend-trader/internal/types"
)

// positionBook holds the latest reconciled positions. It is guarded by the
// engine mutex and only ever replaced wholesale by a resync, apart from
// provisional buys recorded on fill.
type positionBook struct {
	positions map[types.PositionKey]types.Position
}

func newPositionBook() *positionBook {
	return &positionBook{positions: map[types.PositionKey]types.Position{}}
}

func (pb *positionBook) replace(s reconcile.Snapshot) {
	pb.positions = s.Positions
	if pb.positions == nil {
		pb.positions = map[types.PositionKey]types.Position{}
	}
}

// snapshot copies the map so a resync can read it without the lock.
func (pb *positionBook) snapshot() map[types.PositionKey]types.Position {
	out := make(map[types.PositionKey]types.Position, len(pb.positions))
	for k, v := range pb.positions {
		out[k] = v
	}
	return out
}

// forStock returns every open position of code, cash before credit.
func (pb *positionBook) forStock(code string) []types.Position {
	var out []types.Position
	for k, p := range pb.positions {
		if k.StockCode == code && p.Quantity > 0 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreditClass < out[j].CreditClass })
	return out
}

func (pb *positionBook) list() []types.Position {
	out := make([]types.Position, 0, len(pb.positions))
	for _, p := range pb.positions {
		if p.Quantity > 0 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StockCode != out[j].StockCode {
			return out[i].StockCode < out[j].StockCode
		}
		return out[i].CreditClass < out[j].CreditClass
	})
	return out
}

// openedToday reports whether any position of code has today's quantity.
func (pb *positionBook) openedToday(code string) bool {
	for _, p := range pb.forStock(code) {
		if p.TodayQty > 0 {
			return true
		}
	}
	return false
}

// value is the position value of code at mark, or at cost without a mark.
func (pb *positionBook) value(code string, mark int64) decimal.Decimal {
	total := decimal.Zero
	for _, p := range pb.forStock(code) {
		if mark > 0 {
			total = total.Add(p.MarketValue(mark))
		} else {
			total = total.Add(p.AvgPrice.Mul(decimal.NewFromInt(p.Quantity)))
		}
	}
	return total
}

// recordBuy folds an execution into the book until the broker snapshot
// catches up. OpenedAt starts the reconciler's grace window.
func (pb *positionBook) recordBuy(code string, channel types.CreditClass, f types.Fill) {
	if f.Qty <= 0 {
		return
	}
	if channel == "" {
		channel = types.CreditMargin
	}
	k := types.PositionKey{StockCode: code, CreditClass: channel}
	p := pb.positions[k]
	qty := decimal.NewFromInt(f.Qty)
	price := decimal.NewFromInt(f.Price)

	cost := p.AvgPrice.Mul(decimal.NewFromInt(p.Quantity)).Add(price.Mul(qty))
	todayCost := p.TodayEntryPrice.Mul(decimal.NewFromInt(p.TodayQty)).Add(price.Mul(qty))

	p.StockCode, p.CreditClass, p.Status = code, channel, types.PositionOpen
	if f.StockName != "" {
		p.StockName = f.StockName
	}
	p.Quantity += f.Qty
	p.TodayQty += f.Qty
	p.AvgPrice = cost.Div(decimal.NewFromInt(p.Quantity)).Round(2)
	p.TodayEntryPrice = todayCost.Div(decimal.NewFromInt(p.TodayQty)).Round(2)
	p.StopPrice = reconcile.StopPrice(p.AvgPrice, p.StopLossPct)
	p.OpenedAt = f.At
	pb.positions[k] = p
}
