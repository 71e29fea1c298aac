package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"trend-trader/internal/logger"
	"trend-trader/internal/types"
)

// balanceKey identifies a lot lineage: lots with the same key are reduced
// against each other.
type balanceKey struct {
	code     string
	class    types.CreditClass
	loanDate string
}

type lotID struct {
	balanceKey
	tradeDate string
}

type dayGroup struct {
	lotID
	name     string
	buyQty   int64
	buyValue decimal.Decimal
	sellQty  int64
}

// Oversell records sell quantity that found no open lot to reduce.
type Oversell struct {
	StockCode   string
	CreditClass types.CreditClass
	LoanDate    string
	TradeDate   string
	Quantity    int64
}

// Book is an in-memory lot set built by replaying trade events in date
// order. It is the deterministic core of the ledger.
type Book struct {
	lots      map[lotID]*types.Lot
	oversells []Oversell
}

func NewBook() *Book {
	return &Book{lots: make(map[lotID]*types.Lot)}
}

// Construct replays events into a fresh book and returns its lots. The
// same events always produce the same lots.
func Construct(ctx context.Context, events []types.TradeEvent) ([]types.Lot, []Oversell) {
	b := NewBook()
	b.Apply(ctx, events)
	return b.Lots(), b.Oversells()
}

// Apply groups events by (stock, credit class, loan date, trade date) and
// applies each group in ascending date order.
func (b *Book) Apply(ctx context.Context, events []types.TradeEvent) {
	groups := map[lotID]*dayGroup{}
	for _, e := range events {
		kind := Classify(e.TradeType)
		if kind == types.KindUnknown {
			logger.Debug(ctx, "Skipping unclassified trade", "order_no", e.OrderNo, "trade_type", e.TradeType)
			continue
		}
		id := eventLotID(e)
		g := groups[id]
		if g == nil {
			g = &dayGroup{lotID: id, buyValue: decimal.Zero}
			groups[id] = g
		}
		if e.StockName != "" {
			g.name = e.StockName
		}
		if kind == types.KindBuy {
			g.buyQty += e.Quantity
			g.buyValue = g.buyValue.Add(decimal.NewFromInt(e.Quantity).Mul(decimal.NewFromInt(e.Price)))
		} else {
			g.sellQty += e.Quantity
		}
	}

	ordered := make([]*dayGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return lessLotID(ordered[i].lotID, ordered[j].lotID)
	})

	for _, g := range ordered {
		b.applyGroup(ctx, g)
	}
}

func eventLotID(e types.TradeEvent) lotID {
	class := e.CreditClass
	if class == "" {
		class = types.CreditCash
	}
	loan := e.LoanDate
	if class == types.CreditCash {
		loan = ""
	}
	return lotID{balanceKey: balanceKey{code: e.StockCode, class: class, loanDate: loan}, tradeDate: e.TradeDate}
}

func lessLotID(a, b lotID) bool {
	if a.tradeDate != b.tradeDate {
		return a.tradeDate < b.tradeDate
	}
	if a.code != b.code {
		return a.code < b.code
	}
	if a.class != b.class {
		return a.class < b.class
	}
	// The generic repayment sentinel sorts last so specific loans settle first.
	return a.loanDate < b.loanDate
}

func (b *Book) applyGroup(ctx context.Context, g *dayGroup) {
	existing := b.openBalance(g.balanceKey, g.tradeDate)

	var net int64
	if existing > 0 && g.sellQty > 0 {
		closeQty := g.sellQty
		if existing < closeQty {
			closeQty = existing
		}
		if rest := b.reduceLIFO(g.balanceKey, g.tradeDate, closeQty); rest > 0 {
			logger.Warn(ctx, "LIFO reduction left unmatched quantity",
				"event", "LOT_OVERSELL",
				"stock_code", g.code,
				"trade_date", g.tradeDate,
				"remaining", rest,
			)
		}
		net = g.buyQty - (g.sellQty - closeQty)
	} else {
		net = g.buyQty - g.sellQty
	}

	switch {
	case net > 0:
		avg := g.buyValue.Div(decimal.NewFromInt(g.buyQty))
		b.lots[g.lotID] = &types.Lot{
			StockCode:     g.code,
			StockName:     g.name,
			CreditClass:   g.class,
			LoanDate:      g.loanDate,
			TradeDate:     g.tradeDate,
			NetQuantity:   net,
			AvgPrice:      avg,
			TotalCost:     avg.Mul(decimal.NewFromInt(net)),
			UnrealizedPnL: decimal.Zero,
			ReturnPct:     decimal.Zero,
		}
	case net < 0:
		// Expected when the ledger starts after the position was opened.
		b.oversells = append(b.oversells, Oversell{
			StockCode:   g.code,
			CreditClass: g.class,
			LoanDate:    g.loanDate,
			TradeDate:   g.tradeDate,
			Quantity:    -net,
		})
		logger.Warn(ctx, "Sell without matching lots",
			"event", "LOT_OVERSELL",
			"stock_code", g.code,
			"credit_class", string(g.class),
			"loan_date", g.loanDate,
			"trade_date", g.tradeDate,
			"unmatched_qty", -net,
			"existing_qty", existing,
		)
	}
}

// matches reports whether an open lot belongs to the balance of k. The
// generic repayment loan date matches every credit lot of the stock.
func (k balanceKey) matches(l *types.Lot) bool {
	if l.StockCode != k.code || l.CreditClass != k.class {
		return false
	}
	if k.class == types.CreditMargin && k.loanDate == types.LoanDateAnyCredit {
		return true
	}
	return l.LoanDate == k.loanDate
}

func (b *Book) candidates(k balanceKey, before string) []*types.Lot {
	var out []*types.Lot
	for _, l := range b.lots {
		if !l.IsClosed && l.NetQuantity > 0 && l.TradeDate < before && k.matches(l) {
			out = append(out, l)
		}
	}
	return out
}

func (b *Book) openBalance(k balanceKey, before string) int64 {
	var total int64
	for _, l := range b.candidates(k, before) {
		total += l.NetQuantity
	}
	return total
}

// reduceLIFO closes qty against the newest open lots first and returns the
// quantity it could not place.
func (b *Book) reduceLIFO(k balanceKey, sellDate string, qty int64) int64 {
	lots := b.candidates(k, sellDate)
	sort.Slice(lots, func(i, j int) bool {
		if lots[i].TradeDate != lots[j].TradeDate {
			return lots[i].TradeDate > lots[j].TradeDate
		}
		return lots[i].LoanDate > lots[j].LoanDate
	})

	remaining := qty
	for _, l := range lots {
		if remaining == 0 {
			break
		}
		if l.NetQuantity <= remaining {
			remaining -= l.NetQuantity
			l.NetQuantity = 0
			l.TotalCost = decimal.Zero
			l.IsClosed = true
			l.ClosedDate = sellDate
			continue
		}
		l.NetQuantity -= remaining
		l.TotalCost = l.AvgPrice.Mul(decimal.NewFromInt(l.NetQuantity))
		remaining = 0
	}
	return remaining
}

// Lots returns every lot, open and closed, in a stable order.
func (b *Book) Lots() []types.Lot {
	ids := make([]lotID, 0, len(b.lots))
	for id := range b.lots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, c := ids[i], ids[j]
		if a.code != c.code {
			return a.code < c.code
		}
		if a.class != c.class {
			return a.class < c.class
		}
		if a.tradeDate != c.tradeDate {
			return a.tradeDate < c.tradeDate
		}
		return a.loanDate < c.loanDate
	})
	out := make([]types.Lot, len(ids))
	for i, id := range ids {
		out[i] = *b.lots[id]
	}
	return out
}

func (b *Book) Oversells() []Oversell {
	return append([]Oversell(nil), b.oversells...)
}
