package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootConfig carries the persistent flags shared by every subcommand.
type rootConfig struct {
	ConfigPath    string
	WatchlistPath string
	Mode          string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rc := &rootConfig{}
	cmd := &cobra.Command{
		Use:           "trader",
		Short:         "Trend-following breakout trader for a single Kiwoom account",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initializeSystem()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			shutdownSystem(cmd.Context())
		},
	}
	cmd.PersistentFlags().StringVar(&rc.ConfigPath, "config", "config.yaml", "Path to config.yaml")
	cmd.PersistentFlags().StringVar(&rc.WatchlistPath, "watchlist", "", "Override watchlist_path from the config")
	cmd.PersistentFlags().StringVar(&rc.Mode, "mode", "", "Override mode (DRY_RUN or LIVE)")

	cmd.AddCommand(
		newRunCmd(rc),
		newStatusCmd(rc),
		newSyncCmd(rc),
		newLotsCmd(rc),
		newPriceTestCmd(rc),
		newEodCmd(rc),
	)
	return cmd
}
