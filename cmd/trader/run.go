package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"trend-trader/internal/engine/engineobs"
	"trend-trader/internal/eod"
	"trend-trader/internal/interfaces"
	"trend-trader/internal/logger"
	"trend-trader/internal/types"
)

func newRunCmd(rc *rootConfig) *cobra.Command {
	var noOps bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, cleanup, err := openApp(ctx, rc)
			if err != nil {
				return err
			}
			defer cleanup()
			return runTrader(ctx, app, !noOps)
		},
	}
	cmd.Flags().BoolVar(&noOps, "no-ops", false, "Do not start the ops HTTP server")
	return cmd
}

func runTrader(ctx context.Context, app *App, withOps bool) error {
	cfg := app.Config
	logger.Info(ctx, "Trader starting",
		"run_id", string(app.RunID),
		"mode", cfg.Mode,
		"watchlist", len(app.Watchlist.Codes()),
		"poll_interval", cfg.PollInterval().String(),
	)
	compressOldLogs(ctx)
	summarizer := initializeEOD(cfg)

	if err := startup(ctx, app); err != nil {
		return err
	}

	eng := engineobs.Wrap(app.Engine)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tickLoop(gctx, app, eng) })
	g.Go(func() error { return app.Poller.Run(gctx) })
	g.Go(func() error {
		if err := app.Listener.Run(gctx); err != nil {
			// Trading continues on polling and periodic resync.
			logger.ErrorWithErr(gctx, "Fill listener stopped", err)
		}
		return nil
	})
	g.Go(func() error { return eodLoop(gctx, app, summarizer) })
	if withOps {
		g.Go(func() error { return app.Ops.Run(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if p, serr := summarizer.SummarizeToday(); serr == nil && p != "" {
		logger.Info(context.Background(), "EOD CSV written on shutdown", "path", p)
	}
	logger.Info(context.Background(), "Trader stopped", "run_id", string(app.RunID))
	return err
}

// startup pulls broker state, restores the persisted day and subscribes
// watched and held symbols to the price poller.
func startup(ctx context.Context, app *App) error {
	if res, err := app.Refresher.RefreshFromBroker(ctx, time.Now()); err != nil {
		logger.Warn(ctx, "Startup broker refresh failed, using stored data", "error", err.Error())
	} else {
		logger.Info(ctx, "Startup broker refresh", "holdings", res.Holdings, "new_trades", res.NewTrades)
	}
	if err := app.Engine.Restore(ctx); err != nil {
		return err
	}
	if err := app.Engine.Resync(ctx); err != nil {
		logger.Warn(ctx, "Startup resync failed", "error", err.Error())
	}

	app.Poller.Subscribe(app.Watchlist.Codes()...)
	for _, p := range app.Engine.State().Positions {
		app.Poller.Subscribe(p.StockCode)
	}
	go func() {
		if err := app.Names.Refresh(ctx); err != nil {
			logger.Debug(ctx, "Some symbol names unresolved", "error", err.Error())
		}
	}()
	return nil
}

func tickLoop(ctx context.Context, app *App, eng interfaces.Engine) error {
	t := time.NewTicker(app.Config.PollInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if _, err := eng.Tick(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Tick failed", err)
		}
		app.Poller.Subscribe(app.Watchlist.Codes()...)
	}
}

// eodLoop writes the summary and the portfolio aggregate once per day
// after the close.
func eodLoop(ctx context.Context, app *App, s interfaces.EodSummarizer) error {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	var doneFor string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		today := time.Now().In(app.Config.Location()).Format(types.DateLayout)
		if doneFor == today {
			continue
		}
		ok, _ := s.ShouldRunNow()
		if !ok {
			continue
		}
		doneFor = today
		if p, err := s.SummarizeToday(); err == nil && p != "" {
			logger.Info(ctx, "EOD CSV written", "path", p)
		}
		if _, err := eod.SnapshotPortfolio(ctx, app.Broker, app.DB, today); err != nil {
			logger.ErrorWithErr(ctx, "Portfolio snapshot failed", err, "date", today)
		}
	}
}
