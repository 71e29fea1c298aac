package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trend-trader/internal/interfaces"
	"trend-trader/internal/logger"
	"trend-trader/internal/metrics"
	"trend-trader/internal/reconcile"
	"trend-trader/internal/risk"
	"trend-trader/internal/store"
	"trend-trader/internal/types"
)

// PriceSource serves quotes, usually from the polled cache.
type PriceSource interface {
	Quote(ctx context.Context, stockCode string, venue types.Venue) (types.Quote, error)
}

// LotSource reads open lots from the ledger.
type LotSource interface {
	OpenLots(ctx context.Context, stockCode string) ([]types.Lot, error)
	LatestOpenLot(ctx context.Context, stockCode string, class types.CreditClass) (types.Lot, bool, error)
}

// StateStore persists DayState between restarts.
type StateStore interface {
	SaveDayState(ctx context.Context, date string, payload []byte) error
	LatestDayState(ctx context.Context) (string, []byte, error)
}

// Refresher pulls broker holdings and trades into the store.
type Refresher interface {
	RefreshFromBroker(ctx context.Context, now time.Time) (reconcile.RefreshResult, error)
}

// Deps are the collaborators of an Engine. Names and Refresher may be nil.
type Deps struct {
	Config     *store.Config
	Broker     interfaces.Broker
	Prices     PriceSource
	Watchlist  *store.Watchlist
	Reconciler *reconcile.Reconciler
	Refresher  Refresher
	Lots       LotSource
	States     StateStore
	Names      interfaces.SymbolLookup
	Sessions   []Session
	Clock      func() time.Time
	RunID      string
}

// Engine is the per-day decision state machine. Tick is driven by one
// loop; Resync and OnFill may be called from other goroutines.
type Engine struct {
	cfg        *store.Config
	broker     interfaces.Broker
	prices     PriceSource
	watchlist  *store.Watchlist
	reconciler *reconcile.Reconciler
	refresher  Refresher
	lots       LotSource
	states     StateStore
	names      interfaces.SymbolLookup
	router     *risk.Router
	sizer      risk.Sizer
	sessions   []Session
	loc        *time.Location
	clock      func() time.Time
	runID      string

	mu     sync.Mutex
	day    *DayState
	pos    *positionBook
	synced time.Time
	dirty  bool

	flight singleflight.Group
}

var _ interfaces.Engine = (*Engine)(nil)

func newEngine(d Deps) *Engine {
	cfg := d.Config
	if cfg == nil {
		cfg = store.Default()
	}
	sessions := d.Sessions
	if sessions == nil {
		sessions = DefaultSessions
	}
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}
	loc := cfg.Location()
	return &Engine{
		cfg:        cfg,
		broker:     d.Broker,
		prices:     d.Prices,
		watchlist:  d.Watchlist,
		reconciler: d.Reconciler,
		refresher:  d.Refresher,
		lots:       d.Lots,
		states:     d.States,
		names:      d.Names,
		router:     risk.NewRouter(d.Broker, risk.NewLeverageGuard(cfg.Trading.MaxLeveragePct)),
		sizer:      risk.NewSizer(cfg.Trading.Unit, cfg.Trading.UnitBasePct),
		sessions:   sessions,
		loc:        loc,
		clock:      clock,
		runID:      d.RunID,
		day:        NewDayState(clock().In(loc).Format(types.DateLayout)),
		pos:        newPositionBook(),
	}
}

func (e *Engine) now() time.Time { return e.clock().In(e.loc) }

// Restore loads persisted day state. State from an earlier date only
// contributes its watchlist-scoped sold set.
func (e *Engine) Restore(ctx context.Context) error {
	if e.states == nil {
		return nil
	}
	date, payload, err := e.states.LatestDayState(ctx)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load day state: %w", err)
	}
	saved, err := UnmarshalDayState(payload)
	if err != nil {
		return fmt.Errorf("decode day state %s: %w", date, err)
	}

	today := e.now().Format(types.DateLayout)
	e.mu.Lock()
	defer e.mu.Unlock()
	if saved.Date == today {
		e.day = saved
	} else {
		e.day = saved.Reset(today)
	}
	logger.Info(ctx, "Day state restored",
		"saved_date", saved.Date,
		"today", today,
		"triggers", len(e.day.Triggers),
		"sold_since_added", len(e.day.SoldSinceAdded),
	)
	return nil
}

// Tick runs one pass of the decision loop at the current clock time.
func (e *Engine) Tick(ctx context.Context) (*types.TickResult, error) {
	return e.TickAt(ctx, e.now())
}

// TickAt runs one pass at now. Within a pass, stops are evaluated before
// entries. Per-symbol failures are counted and logged, never returned.
func (e *Engine) TickAt(ctx context.Context, now time.Time) (*types.TickResult, error) {
	start := time.Now()
	defer func() { metrics.ObserveTick(time.Since(start)) }()

	now = now.In(e.loc)
	if err := e.resyncAt(ctx, now); err != nil {
		logger.ErrorWithErr(ctx, "Resync failed, using previous positions", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	win := SessionsAt(e.sessions, now)
	res := &types.TickResult{Time: now, Session: win.String()}
	tc := &tickContext{Context: ctx, now: now, win: win, res: res, venue: VenueAt(now)}

	e.rollDay(tc)
	e.reloadWatchlist(tc)

	if win.Trading {
		e.processOrders(tc)
		if win.StopsAllowed() {
			e.runStops(tc)
		}
		if win.Allows(AllowEntry) || win.Allows(AllowGapUp) {
			e.runEntries(tc)
		}
		if win.Allows(RunClose) && !e.day.CloseDone {
			e.runClose(tc)
		}
	}

	if e.dirty {
		e.persist(ctx)
	}
	return res, nil
}

// tickContext carries the per-tick values every step needs.
type tickContext struct {
	context.Context
	now   time.Time
	win   Window
	venue types.Venue
	res   *types.TickResult
}

func (tc *tickContext) act(a types.Action) {
	tc.res.Actions = append(tc.res.Actions, a)
}

func (tc *tickContext) fail() {
	tc.res.Errors++
}

// rollDay performs the daily reset at the first tick of a new date. It is
// the only place transient state is cleared.
func (e *Engine) rollDay(tc *tickContext) {
	today := tc.now.Format(types.DateLayout)
	if e.day.Date == today {
		return
	}
	logger.Info(tc, "Daily reset",
		"event", "DAILY_RESET",
		"previous_date", e.day.Date,
		"date", today,
		"triggers_cleared", len(e.day.Triggers),
		"sold_today_cleared", len(e.day.SoldToday),
	)
	e.day = e.day.Reset(today)
	e.dirty = true
}

func (e *Engine) reloadWatchlist(tc *tickContext) {
	if e.watchlist == nil {
		return
	}
	var (
		change store.WatchlistChange
		err    error
	)
	if tc.win.Allows(ReloadWatchlist) && !e.day.Reloaded {
		change, err = e.watchlist.Load()
		e.day.Reloaded = true
		e.dirty = true
	} else {
		change, err = e.watchlist.ReloadIfChanged()
	}
	if err != nil {
		logger.Warn(tc, "Watchlist reload failed, keeping previous items", "error", err.Error())
		return
	}
	if change.Empty() {
		return
	}
	for _, code := range change.Removed {
		if e.day.SoldSinceAdded[code] {
			e.day.Forget(code)
			e.dirty = true
		}
	}
	logger.Info(tc, "Watchlist reloaded", "added", change.Added, "removed", change.Removed)
}

func (e *Engine) persist(ctx context.Context) {
	if e.states == nil {
		e.dirty = false
		return
	}
	b, err := e.day.Marshal()
	if err != nil {
		logger.ErrorWithErr(ctx, "Encode day state failed", err)
		return
	}
	if err := e.states.SaveDayState(ctx, e.day.Date, b); err != nil {
		logger.ErrorWithErr(ctx, "Persist day state failed", err, "date", e.day.Date)
		return
	}
	e.dirty = false
}

// Resync rederives positions from the store. Concurrent callers share
// one derivation.
func (e *Engine) Resync(ctx context.Context) error {
	return e.resyncAt(ctx, e.now())
}

func (e *Engine) resyncAt(ctx context.Context, now time.Time) error {
	if e.reconciler == nil {
		return nil
	}
	_, err, _ := e.flight.Do("resync", func() (any, error) {
		e.mu.Lock()
		prev := e.pos.snapshot()
		e.mu.Unlock()

		snap, err := e.reconciler.Sync(ctx, now, prev)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		e.pos.replace(snap)
		e.synced = now
		for _, code := range snap.SoldOutside {
			if !e.day.SoldToday[code] {
				e.day.MarkSold(code)
				e.dirty = true
			}
		}
		return nil, nil
	})
	return err
}

// RefreshAndResync pulls broker state into the store, then resyncs.
func (e *Engine) RefreshAndResync(ctx context.Context) error {
	_, err, _ := e.flight.Do("refresh", func() (any, error) {
		if e.refresher != nil {
			if _, err := e.refresher.RefreshFromBroker(ctx, e.now()); err != nil {
				logger.Warn(ctx, "Broker refresh failed", "error", err.Error())
			}
		}
		return nil, e.Resync(ctx)
	})
	return err
}

// OnFill applies an execution notification: an outstanding entry becomes
// FILLED, a bought position is recorded provisionally, and positions are
// rederived from the broker.
func (e *Engine) OnFill(ctx context.Context, fill types.Fill) {
	e.mu.Lock()
	for _, t := range e.day.Triggers {
		if t.OrderID == "" || t.OrderID != fill.OrderID {
			continue
		}
		if t.Status == StatusPending || t.Status == StatusVIPending {
			if err := t.moveTo(StatusFilled, fill.At); err == nil {
				logger.Decision(ctx, t.StockCode, "FILLED", "execution notice", "order_id", fill.OrderID, "qty", fill.Qty, "price", fill.Price)
				e.dirty = true
			}
		}
		if fill.Side == types.SideBuy {
			e.pos.recordBuy(t.StockCode, t.Channel, fill)
		}
	}
	if fill.Side == types.SideSell {
		e.day.MarkSold(fill.StockCode)
		e.dirty = true
	}
	if e.dirty {
		e.persist(ctx)
	}
	e.mu.Unlock()

	if err := e.RefreshAndResync(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Resync after fill failed", err, "order_id", fill.OrderID)
	}
}

// State is a read-only view for status reporting.
type State struct {
	Day       *DayState        `json:"day"`
	Positions []types.Position `json:"positions"`
	VIOrders  []VIOrder        `json:"vi_orders,omitempty"`
	SyncedAt  time.Time        `json:"synced_at"`
	Sessions  string           `json:"sessions"`
	Venue     types.Venue      `json:"venue"`
}

func (e *Engine) State() State {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Day:       e.day.Clone(),
		Positions: e.pos.list(),
		VIOrders:  e.day.VIOrders(),
		SyncedAt:  e.synced,
		Sessions:  SessionsAt(e.sessions, now).String(),
		Venue:     VenueAt(now),
	}
}

func (e *Engine) name(ctx context.Context, code string) string {
	if e.names == nil {
		return code
	}
	return e.names.Name(ctx, code)
}
