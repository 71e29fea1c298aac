package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"trend-trader/internal/engine"
	"trend-trader/internal/eod"
	"trend-trader/internal/ledger"
	"trend-trader/internal/logger"
	"trend-trader/internal/types"
)

func newStatusCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print positions and today's trigger states",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := openApp(ctx, rc)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := app.Engine.Restore(ctx); err != nil {
				return err
			}
			if err := app.Engine.Resync(ctx); err != nil {
				return fmt.Errorf("resync: %w", err)
			}
			b, err := json.MarshalIndent(app.Engine.State(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}

// newSyncCmd runs the daily batch: broker to store, lot rebuild, lot
// metrics, then the portfolio aggregate.
func newSyncCmd(rc *rootConfig) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy broker holdings and trades into the store and rebuild lots",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := openApp(ctx, rc)
			if err != nil {
				return err
			}
			defer cleanup()

			now := time.Now().In(app.Config.Location())
			today := now.Format(types.DateLayout)
			if from == "" {
				from = today
			}
			res, err := app.Refresher.Backfill(ctx, from, today)
			if err != nil {
				return err
			}
			rebuilt, err := app.Ledger.ConstructDailyLots(ctx)
			if err != nil {
				return err
			}
			quotes := openLotQuotes(ctx, app)
			if err := app.Ledger.UpdateLotMetrics(ctx, now, quotes); err != nil {
				return fmt.Errorf("lot metrics: %w", err)
			}
			p, err := eod.SnapshotPortfolio(ctx, app.Broker, app.DB, today)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "holdings %d, new trades %d (%s..%s)\n", res.Holdings, res.NewTrades, from, today)
			fmt.Fprintf(w, "lots %d (open %d) from %d events, oversells %d\n", rebuilt.Lots, rebuilt.OpenLots, rebuilt.Events, len(rebuilt.Oversells))
			fmt.Fprintf(w, "net assets %d, leverage %s%%, positions %d\n", p.NetAssets, p.LeveragePct.StringFixed(2), p.PositionCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First trade date to pull (YYYY-MM-DD, default today)")
	return cmd
}

func openLotQuotes(ctx context.Context, app *App) map[string]int64 {
	lots, err := app.Ledger.OpenLots(ctx, "")
	if err != nil {
		logger.Warn(ctx, "Open lots unavailable for quotes", "error", err.Error())
		return nil
	}
	venue := engine.VenueAt(time.Now().In(app.Config.Location()))
	quotes := map[string]int64{}
	for _, l := range lots {
		if _, ok := quotes[l.StockCode]; ok {
			continue
		}
		q, err := app.Prices.Quote(ctx, l.StockCode, venue)
		if err != nil {
			logger.Warn(ctx, "Quote failed for lot metrics", "stock_code", l.StockCode, "error", err.Error())
			continue
		}
		quotes[l.StockCode] = q.Last
	}
	return quotes
}

func newLotsCmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lots",
		Short: "Lot ledger tools",
	}
	cmd.AddCommand(newLotsRebuildCmd(rc))
	return cmd
}

func newLotsRebuildCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Replay stored trade history into lots and compare with holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := openApp(ctx, rc)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := app.Ledger.ConstructDailyLots(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "events %d, lots %d, open %d\n", res.Events, res.Lots, res.OpenLots)
			for _, o := range res.Oversells {
				fmt.Fprintf(w, "oversell %s %s loan=%s date=%s qty=%d\n", o.StockCode, o.CreditClass, o.LoanDate, o.TradeDate, o.Quantity)
			}

			open, err := app.Ledger.OpenLots(ctx, "")
			if err != nil {
				return err
			}
			today := time.Now().In(app.Config.Location()).Format(types.DateLayout)
			holdings, err := app.DB.LatestHoldings(ctx, today)
			if err != nil {
				return fmt.Errorf("holdings snapshot: %w", err)
			}
			return printMismatches(w, ledger.VerifyAgainstHoldings(open, holdings))
		},
	}
}

func printMismatches(w io.Writer, ms []ledger.Mismatch) error {
	if len(ms) == 0 {
		fmt.Fprintln(w, "ledger matches holdings")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tCLASS\tLEDGER\tBROKER")
	for _, m := range ms {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", m.StockCode, m.CreditClass, m.LedgerQty, m.BrokerQty)
	}
	return tw.Flush()
}

func newPriceTestCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "price-test <code>...",
		Short: "Fetch quotes for codes on both venues",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := openApp(ctx, rc)
			if err != nil {
				return err
			}
			defer cleanup()

			active := engine.VenueAt(time.Now().In(app.Config.Location()))
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "CODE\tNAME\tVENUE\tLAST\tOPEN\tVOLUME\tTRADABLE\n")
			for _, code := range args {
				for _, v := range []types.Venue{types.VenueKRX, types.VenueNXT} {
					q, err := app.Broker.Quote(ctx, code, v)
					marker := string(v)
					if v == active {
						marker += "*"
					}
					if err != nil {
						fmt.Fprintf(tw, "%s\t\t%s\terror: %v\t\t\t\n", code, marker, err)
						continue
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%t\n", code, app.Names.Name(ctx, code), marker, q.Last, q.Open, q.Volume, q.Tradable)
				}
			}
			return tw.Flush()
		},
	}
}

func newEodCmd(rc *rootConfig) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "eod",
		Short: "Write the end-of-day CSV and portfolio aggregate",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := openApp(ctx, rc)
			if err != nil {
				return err
			}
			defer cleanup()

			loc := app.Config.Location()
			day := time.Now().In(loc)
			if date != "" {
				day, err = time.ParseInLocation(types.DateLayout, date, loc)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}
			s := initializeEOD(app.Config)
			path, err := s.SummarizeDay(day)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if path == "" {
				fmt.Fprintln(w, "no trades journaled")
			} else {
				fmt.Fprintln(w, "summary:", path)
			}
			if date == "" {
				p, err := eod.SnapshotPortfolio(ctx, app.Broker, app.DB, day.Format(types.DateLayout))
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "portfolio %s: net %d, stock %d, cash %d\n", p.Date, p.NetAssets, p.StockAssets, p.Cash)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Trading date to summarize (YYYY-MM-DD, default today)")
	return cmd
}
