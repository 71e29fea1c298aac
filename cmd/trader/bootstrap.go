package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"trend-trader/internal/broker/brokerobs"
	"trend-trader/internal/broker/kiwoom"
	"trend-trader/internal/broker/paper"
	"trend-trader/internal/eod"
	"trend-trader/internal/eod/eodobs"
	"trend-trader/internal/interfaces"
	"trend-trader/internal/logger"
	"trend-trader/internal/store"
	"trend-trader/internal/trace"
	"trend-trader/internal/tradelog"
)

// initializeSystem loads .env, then starts the logger and tracer.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func shutdownSystem(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	tradelog.Close()
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = trace.Shutdown(shutdownCtx)
}

// loadConfig reads the config and applies command-line overrides.
func loadConfig(ctx context.Context, rc *rootConfig) (*store.Config, error) {
	cfg, err := store.LoadConfig(rc.ConfigPath)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", rc.ConfigPath)
		return nil, err
	}
	if rc.WatchlistPath != "" {
		cfg.WatchlistPath = rc.WatchlistPath
	}
	if rc.Mode != "" {
		cfg.Mode = rc.Mode
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// compressOldLogs gzips journal files past TRADER_LOG_RETENTION_DAYS.
func compressOldLogs(ctx context.Context) {
	v := os.Getenv("TRADER_LOG_RETENTION_DAYS")
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn(ctx, "Ignoring invalid TRADER_LOG_RETENTION_DAYS", "value", v)
		return
	}
	if err := tradelog.CompressOlder(n); err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err)
	}
}

func kiwoomParams(cfg *store.Config) kiwoom.Params {
	p := kiwoom.Params{
		AppKey:       os.Getenv("KIWOOM_APP_KEY"),
		SecretKey:    os.Getenv("KIWOOM_SECRET_KEY"),
		Account:      os.Getenv("KIWOOM_ACCOUNT"),
		BaseURL:      cfg.Broker.BaseURL,
		WebsocketURL: cfg.Broker.WebsocketURL,
		MinInterval:  time.Duration(cfg.Broker.MinIntervalMS) * time.Millisecond,
		Timeout:      time.Duration(cfg.Broker.TimeoutSec) * time.Second,
		MaxRetries:   cfg.Broker.MaxRetries,
		Location:     cfg.Location(),
	}
	if v := os.Getenv("KIWOOM_BASE_URL"); v != "" {
		p.BaseURL = v
	}
	if v := os.Getenv("KIWOOM_WS_URL"); v != "" {
		p.WebsocketURL = v
	}
	return p
}

// initializeBroker returns the Kiwoom broker in LIVE mode and the paper
// broker otherwise. Paper trading still reads market data from Kiwoom
// when credentials are present.
func initializeBroker(ctx context.Context, cfg *store.Config) (interfaces.Broker, error) {
	p := kiwoomParams(cfg)
	hasCreds := p.AppKey != "" && p.SecretKey != ""

	var brk interfaces.Broker
	switch cfg.Mode {
	case "LIVE":
		if !hasCreds {
			return nil, fmt.Errorf("LIVE mode needs KIWOOM_APP_KEY and KIWOOM_SECRET_KEY")
		}
		brk = kiwoom.New(p)
		logger.Info(ctx, "Using Kiwoom broker", "base_url", p.BaseURL)
	default:
		var market paper.MarketData
		if hasCreds {
			market = kiwoom.New(p)
			logger.Info(ctx, "Paper trading with Kiwoom market data", "base_url", p.BaseURL)
		} else {
			logger.Warn(ctx, "No Kiwoom credentials, paper quotes come from simulated fills only")
		}
		brk = paper.New(market, cfg.Paper.Cash, cfg.Location())
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated", "cash", cfg.Paper.Cash)
	}
	return brokerobs.Wrap(brk), nil
}

// initializeEOD installs the observable summarizer as the package default.
func initializeEOD(cfg *store.Config) interfaces.EodSummarizer {
	s := eodobs.Wrap(eod.NewSummarizer(cfg.Location(), nil), cfg.Location())
	eod.SetDefaultSummarizer(s)
	return s
}
