package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trend-trader/internal/engine"
	"trend-trader/internal/interfaces"
	"trend-trader/internal/journal"
	"trend-trader/internal/ledger"
	"trend-trader/internal/logger"
	"trend-trader/internal/notify"
	"trend-trader/internal/opsapi"
	"trend-trader/internal/pricecache"
	"trend-trader/internal/reconcile"
	"trend-trader/internal/store"
	"trend-trader/internal/symbols"
	"trend-trader/internal/types"
)

// RunID identifies one process run in logs and the trade journal.
type RunID string

// App holds every wired component of the trader.
type App struct {
	Config     *store.Config
	RunID      RunID
	Broker     interfaces.Broker
	DB         *journal.SQLite
	Ledger     *ledger.Service
	Refresher  *reconcile.Refresher
	Reconciler *reconcile.Reconciler
	Watchlist  *store.Watchlist
	Prices     *pricecache.Cache
	Poller     *pricecache.Poller
	Names      *symbols.Lookup
	Engine     *engine.Engine
	Listener   *notify.Listener
	Ops        *opsapi.Server
}

func provideRunID() RunID {
	return RunID(uuid.NewString())
}

func provideBroker(ctx context.Context, cfg *store.Config) (interfaces.Broker, error) {
	return initializeBroker(ctx, cfg)
}

func provideJournal(cfg *store.Config) (*journal.SQLite, func(), error) {
	db, err := journal.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	return db, func() { _ = db.Close() }, nil
}

func provideLedger(db *journal.SQLite, cfg *store.Config) *ledger.Service {
	return ledger.NewService(db, cfg.Ledger.StartDate, cfg.Location())
}

func provideRefresher(brk interfaces.Broker, db *journal.SQLite, lots *ledger.Service, cfg *store.Config) *reconcile.Refresher {
	return reconcile.NewRefresher(brk, db, lots, cfg.Location())
}

func provideWatchlist(cfg *store.Config) (*store.Watchlist, error) {
	wl := store.NewWatchlist(cfg.WatchlistPath)
	if _, err := wl.Load(); err != nil {
		return nil, fmt.Errorf("load watchlist %s: %w", cfg.WatchlistPath, err)
	}
	return wl, nil
}

func provideReconciler(db *journal.SQLite, brk interfaces.Broker, wl *store.Watchlist, cfg *store.Config) *reconcile.Reconciler {
	stop := func(code string) float64 { return wl.StopLossPct(code, cfg.Trading.StopLossPct) }
	return reconcile.New(db, brk, stop, cfg.PositionGrace(), cfg.Location())
}

// providePriceCache serves quotes up to three poll intervals old.
func providePriceCache(brk interfaces.Broker, cfg *store.Config) *pricecache.Cache {
	return pricecache.NewCache(brk, 3*cfg.PricePollInterval())
}

func providePoller(cache *pricecache.Cache, cfg *store.Config) *pricecache.Poller {
	loc := cfg.Location()
	return pricecache.NewPoller(cache, cfg.PricePollInterval(), func(t time.Time) types.Venue {
		return engine.VenueAt(t.In(loc))
	})
}

func provideSymbols(cfg *store.Config, wl *store.Watchlist, brk interfaces.Broker) *symbols.Lookup {
	return symbols.FromConfig(cfg, wl, brk)
}

func provideEngine(
	cfg *store.Config,
	runID RunID,
	brk interfaces.Broker,
	prices *pricecache.Cache,
	wl *store.Watchlist,
	rec *reconcile.Reconciler,
	ref *reconcile.Refresher,
	lots *ledger.Service,
	db *journal.SQLite,
	names *symbols.Lookup,
) *engine.Engine {
	return engine.New(engine.Deps{
		Config:     cfg,
		Broker:     brk,
		Prices:     prices,
		Watchlist:  wl,
		Reconciler: rec,
		Refresher:  ref,
		Lots:       lots,
		States:     db,
		Names:      names,
		RunID:      string(runID),
	})
}

func provideListener(brk interfaces.Broker, eng *engine.Engine, poller *pricecache.Poller) *notify.Listener {
	return notify.NewListener(brk, eng, poller)
}

func provideOps(cfg *store.Config, runID RunID, eng *engine.Engine, db *journal.SQLite) *opsapi.Server {
	return opsapi.New(cfg.Ops.Listen, string(runID), func() any { return eng.State() }, db)
}

func newApp(
	cfg *store.Config,
	runID RunID,
	brk interfaces.Broker,
	db *journal.SQLite,
	lots *ledger.Service,
	ref *reconcile.Refresher,
	rec *reconcile.Reconciler,
	wl *store.Watchlist,
	prices *pricecache.Cache,
	poller *pricecache.Poller,
	names *symbols.Lookup,
	eng *engine.Engine,
	listener *notify.Listener,
	ops *opsapi.Server,
) *App {
	return &App{
		Config:     cfg,
		RunID:      runID,
		Broker:     brk,
		DB:         db,
		Ledger:     lots,
		Refresher:  ref,
		Reconciler: rec,
		Watchlist:  wl,
		Prices:     prices,
		Poller:     poller,
		Names:      names,
		Engine:     eng,
		Listener:   listener,
		Ops:        ops,
	}
}

// openApp loads config and wires the full application.
func openApp(ctx context.Context, rc *rootConfig) (*App, func(), error) {
	cfg, err := loadConfig(ctx, rc)
	if err != nil {
		return nil, nil, err
	}
	app, cleanup, err := buildApp(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug(ctx, "Application wired", "mode", cfg.Mode, "run_id", string(app.RunID))
	return app, cleanup, nil
}
