package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"trend-trader/internal/journal"
	"trend-trader/internal/logger"
	"trend-trader/internal/types"
)

// Store is the persistence the ledger needs. *journal.SQLite satisfies it.
type Store interface {
	TradeEventsSince(ctx context.Context, since string) ([]types.TradeEvent, error)
	ReplaceLots(ctx context.Context, lots []types.Lot) error
	UpsertLots(ctx context.Context, lots []types.Lot) error
	Lots(ctx context.Context, f journal.LotFilter) ([]types.Lot, error)
	LatestHoldings(ctx context.Context, date string) ([]types.Holding, error)
	LastTradePrice(ctx context.Context, stockCode string) (int64, error)
}

// Service rebuilds and queries the persisted lot ledger.
type Service struct {
	store     Store
	startDate string
	loc       *time.Location
}

func NewService(store Store, startDate string, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, startDate: startDate, loc: loc}
}

// RebuildResult reports what a rebuild produced.
type RebuildResult struct {
	Events    int
	Lots      int
	OpenLots  int
	Oversells []Oversell
}

// ConstructDailyLots replays every trade event from the ledger start date
// and replaces the stored lots with the result. Running it twice over the
// same history stores the same lots.
func (s *Service) ConstructDailyLots(ctx context.Context) (RebuildResult, error) {
	op := logger.StartOperation(ctx, "ledger.construct_daily_lots", "start_date", s.startDate)
	ctx = op.GetContext()

	events, err := s.store.TradeEventsSince(ctx, s.startDate)
	if err != nil {
		op.EndWithError(err)
		return RebuildResult{}, fmt.Errorf("load trade events: %w", err)
	}

	lots, oversells := Construct(ctx, events)
	if err := s.store.ReplaceLots(ctx, lots); err != nil {
		op.EndWithError(err)
		return RebuildResult{}, fmt.Errorf("replace lots: %w", err)
	}

	res := RebuildResult{Events: len(events), Lots: len(lots), Oversells: oversells}
	for _, l := range lots {
		if !l.IsClosed {
			res.OpenLots++
		}
	}
	op.End("events", res.Events, "lots", res.Lots, "open_lots", res.OpenLots, "oversells", len(oversells))
	return res, nil
}

// UpdateLotMetrics refreshes price derived fields of every open lot. Prices
// come from quotes first, then the latest holdings snapshot, then the last
// recorded trade.
func (s *Service) UpdateLotMetrics(ctx context.Context, asOf time.Time, quotes map[string]int64) error {
	lots, err := s.store.Lots(ctx, journal.LotFilter{OpenOnly: true})
	if err != nil {
		return fmt.Errorf("load open lots: %w", err)
	}
	if len(lots) == 0 {
		return nil
	}

	date := asOf.In(s.loc).Format(types.DateLayout)
	snapshot, err := s.store.LatestHoldings(ctx, date)
	if err != nil {
		logger.Warn(ctx, "Holdings snapshot unavailable for lot metrics", "error", err)
	}
	snapPrice := map[string]int64{}
	for _, h := range snapshot {
		if h.CurrentPrice > 0 {
			snapPrice[h.StockCode] = h.CurrentPrice
		}
	}

	for i := range lots {
		price := quotes[lots[i].StockCode]
		if price <= 0 {
			price = snapPrice[lots[i].StockCode]
		}
		if price <= 0 {
			p, err := s.store.LastTradePrice(ctx, lots[i].StockCode)
			if err != nil && !errors.Is(err, types.ErrNotFound) {
				return fmt.Errorf("last trade price %s: %w", lots[i].StockCode, err)
			}
			price = p
		}
		ApplyMetrics(&lots[i], price, asOf.In(s.loc))
	}
	return s.store.UpsertLots(ctx, lots)
}

// ApplyMetrics fills current price, unrealized P&L, return percent and
// holding days of one lot.
func ApplyMetrics(l *types.Lot, price int64, asOf time.Time) {
	if traded, err := time.ParseInLocation(types.DateLayout, l.TradeDate, asOf.Location()); err == nil {
		today := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())
		l.HoldingDays = int(today.Sub(traded).Hours() / 24)
	}
	if price <= 0 {
		return
	}
	l.CurrentPrice = price
	cur := decimal.NewFromInt(price)
	l.UnrealizedPnL = cur.Sub(l.AvgPrice).Mul(decimal.NewFromInt(l.NetQuantity))
	if l.AvgPrice.IsPositive() {
		l.ReturnPct = cur.Sub(l.AvgPrice).Div(l.AvgPrice).Mul(decimal.NewFromInt(100)).Round(2)
	}
}

// OpenLots returns the open lots of one stock, or of every stock when code
// is empty.
func (s *Service) OpenLots(ctx context.Context, code string) ([]types.Lot, error) {
	return s.store.Lots(ctx, journal.LotFilter{StockCode: code, OpenOnly: true})
}

// LatestOpenLot returns the most recently opened lot still held for code
// in one credit class. An empty class matches every class.
func (s *Service) LatestOpenLot(ctx context.Context, code string, class types.CreditClass) (types.Lot, bool, error) {
	lots, err := s.OpenLots(ctx, code)
	if err != nil {
		return types.Lot{}, false, err
	}
	if class != "" {
		same := lots[:0]
		for _, l := range lots {
			if l.CreditClass == class {
				same = append(same, l)
			}
		}
		lots = same
	}
	l, ok := NewestLot(lots)
	return l, ok, nil
}

// NewestLot picks the open lot with the latest trade date.
func NewestLot(lots []types.Lot) (types.Lot, bool) {
	var (
		best  types.Lot
		found bool
	)
	for _, l := range lots {
		if l.IsClosed || l.NetQuantity <= 0 {
			continue
		}
		if !found || l.TradeDate > best.TradeDate || (l.TradeDate == best.TradeDate && l.LoanDate > best.LoanDate) {
			best, found = l, true
		}
	}
	return best, found
}

// HoldingsFromLots aggregates open lots into one holding per
// (stock, credit class), weighted by quantity.
func HoldingsFromLots(lots []types.Lot) []types.Holding {
	type agg struct {
		h    types.Holding
		cost decimal.Decimal
	}
	byKey := map[types.PositionKey]*agg{}
	for _, l := range lots {
		if l.IsClosed || l.NetQuantity <= 0 {
			continue
		}
		k := types.PositionKey{StockCode: l.StockCode, CreditClass: l.CreditClass}
		a := byKey[k]
		if a == nil {
			a = &agg{h: types.Holding{StockCode: l.StockCode, StockName: l.StockName, CreditClass: l.CreditClass}, cost: decimal.Zero}
			byKey[k] = a
		}
		a.h.Quantity += l.NetQuantity
		a.cost = a.cost.Add(l.AvgPrice.Mul(decimal.NewFromInt(l.NetQuantity)))
		if l.CurrentPrice > 0 {
			a.h.CurrentPrice = l.CurrentPrice
		}
		if l.LoanDate > a.h.LoanDate {
			a.h.LoanDate = l.LoanDate
		}
	}

	out := make([]types.Holding, 0, len(byKey))
	for _, a := range byKey {
		h := a.h
		h.AvgPrice = a.cost.Div(decimal.NewFromInt(h.Quantity)).Round(0).IntPart()
		h.PurchaseAmount = a.cost.Round(0).IntPart()
		if h.CurrentPrice > 0 {
			h.EvalAmount = h.CurrentPrice * h.Quantity
			h.PnLAmount = h.EvalAmount - h.PurchaseAmount
			if h.PurchaseAmount > 0 {
				h.PnLRate, _ = decimal.NewFromInt(h.PnLAmount).Mul(decimal.NewFromInt(100)).
					Div(decimal.NewFromInt(h.PurchaseAmount)).Round(2).Float64()
			}
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StockCode != out[j].StockCode {
			return out[i].StockCode < out[j].StockCode
		}
		return out[i].CreditClass < out[j].CreditClass
	})
	return out
}

// Mismatch is a quantity difference between the ledger and the broker.
type Mismatch struct {
	StockCode   string
	CreditClass types.CreditClass
	LedgerQty   int64
	BrokerQty   int64
}

// VerifyAgainstHoldings compares ledger quantities to a broker snapshot.
func VerifyAgainstHoldings(lots []types.Lot, holdings []types.Holding) []Mismatch {
	ledgerQty := map[types.PositionKey]int64{}
	for _, h := range HoldingsFromLots(lots) {
		ledgerQty[types.PositionKey{StockCode: h.StockCode, CreditClass: h.CreditClass}] = h.Quantity
	}
	brokerQty := map[types.PositionKey]int64{}
	for _, h := range holdings {
		class := h.CreditClass
		if class == "" {
			class = types.CreditCash
		}
		brokerQty[types.PositionKey{StockCode: h.StockCode, CreditClass: class}] += h.Quantity
	}

	keys := map[types.PositionKey]struct{}{}
	for k := range ledgerQty {
		keys[k] = struct{}{}
	}
	for k := range brokerQty {
		keys[k] = struct{}{}
	}

	var out []Mismatch
	for k := range keys {
		if ledgerQty[k] != brokerQty[k] {
			out = append(out, Mismatch{StockCode: k.StockCode, CreditClass: k.CreditClass, LedgerQty: ledgerQty[k], BrokerQty: brokerQty[k]})
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
