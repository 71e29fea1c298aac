package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"trend-trader/internal/ledger"
	"trend-trader/internal/logger"
	"trend-trader/internal/types"
)

// Store is the read side the reconciler derives positions from.
type Store interface {
	LatestHoldings(ctx context.Context, date string) ([]types.Holding, error)
	TradeEventsOn(ctx context.Context, date string) ([]types.TradeEvent, error)
}

// HoldingsSource is the broker fallback used when the store fails.
type HoldingsSource interface {
	Holdings(ctx context.Context) ([]types.Holding, error)
}

// StopPolicy returns the stop-loss percent for a stock.
type StopPolicy func(stockCode string) float64

// Snapshot is one full derivation of current positions.
type Snapshot struct {
	At          time.Time
	Positions   map[types.PositionKey]types.Position
	SoldOutside []string
	Carried     []types.PositionKey
	FromBroker  bool
}

// Quantity sums every credit class held for a stock.
func (s Snapshot) Quantity(code string) int64 {
	var q int64
	for k, p := range s.Positions {
		if k.StockCode == code {
			q += p.Quantity
		}
	}
	return q
}

// ForStock returns the positions of one stock, cash before credit.
func (s Snapshot) ForStock(code string) []types.Position {
	var out []types.Position
	for k, p := range s.Positions {
		if k.StockCode == code && p.Quantity > 0 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreditClass < out[j].CreditClass })
	return out
}

// List returns every position in a stable order.
func (s Snapshot) List() []types.Position {
	out := make([]types.Position, 0, len(s.Positions))
	for _, p := range s.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StockCode != out[j].StockCode {
			return out[i].StockCode < out[j].StockCode
		}
		return out[i].CreditClass < out[j].CreditClass
	})
	return out
}

// Reconciler rebuilds the positions view from scratch on every call. It
// holds no mutable state, so concurrent calls are safe.
type Reconciler struct {
	store  Store
	broker HoldingsSource
	stop   StopPolicy
	grace  time.Duration
	loc    *time.Location
}

func New(store Store, broker HoldingsSource, stop StopPolicy, grace time.Duration, loc *time.Location) *Reconciler {
	if loc == nil {
		loc = time.UTC
	}
	return &Reconciler{store: store, broker: broker, stop: stop, grace: grace, loc: loc}
}

// Sync derives positions for the trading day of now. prev is the view the
// caller held before; it is only read, to detect positions that disappeared
// and to carry over the caller's own fills still inside the grace window.
func (r *Reconciler) Sync(ctx context.Context, now time.Time, prev map[types.PositionKey]types.Position) (Snapshot, error) {
	date := now.In(r.loc).Format(types.DateLayout)
	snap := Snapshot{At: now, Positions: map[types.PositionKey]types.Position{}}

	holdings, err := r.store.LatestHoldings(ctx, date)
	if err != nil {
		logger.Warn(ctx, "Store unavailable, syncing from broker holdings",
			"event", "RESYNC_FALLBACK",
			"error", err.Error(),
		)
		if r.broker == nil {
			return Snapshot{}, fmt.Errorf("load holdings: %w", err)
		}
		holdings, err = r.broker.Holdings(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("broker holdings fallback: %w", err)
		}
		snap.FromBroker = true
	}

	aggregate(snap.Positions, holdings)

	if !snap.FromBroker {
		events, err := r.store.TradeEventsOn(ctx, date)
		if err != nil {
			logger.Warn(ctx, "Today's trades unavailable, positions lack today split", "error", err.Error())
		} else {
			applyTodaySplit(snap.Positions, events)
		}
	}

	for k, p := range snap.Positions {
		if old, ok := prev[k]; ok && !old.OpenedAt.IsZero() {
			p.OpenedAt = old.OpenedAt
		}
		p.StopLossPct = r.stopPct(k.StockCode)
		p.StopPrice = StopPrice(p.AvgPrice, p.StopLossPct)
		snap.Positions[k] = p
	}

	r.carryAndDetect(ctx, now, prev, &snap)
	return snap, nil
}

func (r *Reconciler) stopPct(code string) float64 {
	if r.stop == nil {
		return 0
	}
	return r.stop(code)
}

// StopPrice is avg × (1 − pct/100).
func StopPrice(avg decimal.Decimal, pct float64) decimal.Decimal {
	if pct <= 0 {
		return decimal.Zero
	}
	return avg.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100))))
}

func aggregate(into map[types.PositionKey]types.Position, holdings []types.Holding) {
	cost := map[types.PositionKey]decimal.Decimal{}
	for _, h := range holdings {
		if h.Quantity <= 0 {
			continue
		}
		class := h.CreditClass
		if class == "" {
			class = types.CreditCash
		}
		k := types.PositionKey{StockCode: h.StockCode, CreditClass: class}
		p := into[k]
		p.StockCode, p.CreditClass, p.Status = h.StockCode, class, types.PositionOpen
		if h.StockName != "" {
			p.StockName = h.StockName
		}
		p.Quantity += h.Quantity

		c := decimal.NewFromInt(h.AvgPrice).Mul(decimal.NewFromInt(h.Quantity))
		if h.PurchaseAmount > 0 {
			c = decimal.NewFromInt(h.PurchaseAmount)
		}
		cost[k] = cost[k].Add(c)
		into[k] = p
	}
	for k, p := range into {
		p.AvgPrice = cost[k].Div(decimal.NewFromInt(p.Quantity)).Round(2)
		into[k] = p
	}
}

// applyTodaySplit sets each position's today quantity and today entry
// price from today's buys net of today's sells.
func applyTodaySplit(positions map[types.PositionKey]types.Position, events []types.TradeEvent) {
	type day struct {
		buyQty, sellQty int64
		buyValue        decimal.Decimal
	}
	days := map[types.PositionKey]*day{}
	for _, e := range events {
		kind := ledger.Classify(e.TradeType)
		if kind == types.KindUnknown {
			continue
		}
		class := e.CreditClass
		if class == "" {
			class = types.CreditCash
		}
		k := types.PositionKey{StockCode: e.StockCode, CreditClass: class}
		d := days[k]
		if d == nil {
			d = &day{buyValue: decimal.Zero}
			days[k] = d
		}
		if kind == types.KindBuy {
			d.buyQty += e.Quantity
			d.buyValue = d.buyValue.Add(decimal.NewFromInt(e.Quantity).Mul(decimal.NewFromInt(e.Price)))
		} else {
			d.sellQty += e.Quantity
		}
	}

	for k, d := range days {
		p, ok := positions[k]
		if !ok || d.buyQty == 0 {
			continue
		}
		qty := d.buyQty - d.sellQty
		if qty <= 0 {
			continue
		}
		if qty > p.Quantity {
			qty = p.Quantity
		}
		p.TodayQty = qty
		p.TodayEntryPrice = d.buyValue.Div(decimal.NewFromInt(d.buyQty)).Round(2)
		positions[k] = p
	}
}

func (r *Reconciler) carryAndDetect(ctx context.Context, now time.Time, prev map[types.PositionKey]types.Position, snap *Snapshot) {
	sold := map[string]struct{}{}
	for k, old := range prev {
		if old.Quantity <= 0 {
			continue
		}
		inGrace := !old.OpenedAt.IsZero() && now.Sub(old.OpenedAt) <= r.grace
		if cur, still := snap.Positions[k]; still {
			// The snapshot has the holding but not yet the caller's add-on.
			if inGrace && old.Quantity > cur.Quantity && old.TodayQty > cur.TodayQty {
				kept := old
				if kept.StockName == "" {
					kept.StockName = cur.StockName
				}
				kept.StopLossPct = cur.StopLossPct
				kept.StopPrice = StopPrice(kept.AvgPrice, kept.StopLossPct)
				snap.Positions[k] = kept
				snap.Carried = append(snap.Carried, k)
				logger.Debug(ctx, "Keeping recent add-on missing from snapshot",
					"stock_code", k.StockCode,
					"credit_class", string(k.CreditClass),
					"snapshot_qty", cur.Quantity,
					"qty", old.Quantity,
				)
			}
			continue
		}
		if inGrace {
			snap.Positions[k] = old
			snap.Carried = append(snap.Carried, k)
			logger.Debug(ctx, "Carrying recent position missing from snapshot",
				"stock_code", k.StockCode,
				"credit_class", string(k.CreditClass),
				"opened_at", old.OpenedAt,
			)
			continue
		}
		sold[k.StockCode] = struct{}{}
	}

	sort.Slice(snap.Carried, func(i, j int) bool {
		if snap.Carried[i].StockCode != snap.Carried[j].StockCode {
			return snap.Carried[i].StockCode < snap.Carried[j].StockCode
		}
		return snap.Carried[i].CreditClass < snap.Carried[j].CreditClass
	})
	for code := range sold {
		snap.SoldOutside = append(snap.SoldOutside, code)
	}
	sort.Strings(snap.SoldOutside)
	for _, code := range snap.SoldOutside {
		logger.Info(ctx, "Position disappeared since last sync",
			"event", "SOLD_OUTSIDE_ENGINE",
			"stock_code", code,
		)
	}
}
