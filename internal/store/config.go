package store

import (
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode          string `yaml:"mode"`
	PollSeconds   int    `yaml:"poll_seconds"`
	PricePollMS   int    `yaml:"price_poll_ms"`
	DatabasePath  string `yaml:"database_path"`
	WatchlistPath string `yaml:"watchlist_path"`
	Timezone      string `yaml:"timezone"`
	Trading       struct {
		Unit             float64 `yaml:"unit"`
		UnitBasePct      float64 `yaml:"unit_base_pct"`
		TickBuffer       int     `yaml:"tick_buffer"`
		StopTicks        int     `yaml:"stop_ticks"`
		StopLossPct      float64 `yaml:"stop_loss_pct"`
		MaxLeveragePct   float64 `yaml:"max_leverage_pct"`
		PositionGraceSec int     `yaml:"position_grace_sec"`
	} `yaml:"trading"`
	VolumeConfirm struct {
		WindowDays int     `yaml:"window_days"`
		Multiplier float64 `yaml:"multiplier"`
	} `yaml:"volume_confirm"`
	VI struct {
		TimeoutSec int  `yaml:"timeout_sec"`
		Reroute    bool `yaml:"reroute"`
	} `yaml:"vi"`
	Ledger struct {
		StartDate string `yaml:"start_date"`
	} `yaml:"ledger"`
	Broker struct {
		BaseURL       string `yaml:"base_url"`
		WebsocketURL  string `yaml:"websocket_url"`
		MinIntervalMS int    `yaml:"min_interval_ms"`
		TimeoutSec    int    `yaml:"timeout_sec"`
		MaxRetries    int    `yaml:"max_retries"`
	} `yaml:"broker"`
	Symbols struct {
		QuotePageURL string `yaml:"quote_page_url"`
		NameSelector string `yaml:"name_selector"`
		CacheTTLMin  int    `yaml:"cache_ttl_min"`
	} `yaml:"symbols"`
	Ops struct {
		Listen string `yaml:"listen"`
	} `yaml:"ops"`
	Paper struct {
		Cash int64 `yaml:"cash"`
	} `yaml:"paper"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "DRY_RUN"
	}
	if c.PollSeconds == 0 {
		c.PollSeconds = 1
	}
	if c.PricePollMS == 0 {
		c.PricePollMS = 1000
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "trader.db"
	}
	if c.WatchlistPath == "" {
		c.WatchlistPath = "watchlist.yaml"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Seoul"
	}
	if c.Trading.Unit == 0 {
		c.Trading.Unit = 1
	}
	if c.Trading.UnitBasePct == 0 {
		c.Trading.UnitBasePct = 5
	}
	if c.Trading.TickBuffer == 0 {
		c.Trading.TickBuffer = 3
	}
	if c.Trading.StopTicks == 0 {
		c.Trading.StopTicks = 3
	}
	if c.Trading.StopLossPct == 0 {
		c.Trading.StopLossPct = 7
	}
	if c.Trading.MaxLeveragePct == 0 {
		c.Trading.MaxLeveragePct = 120
	}
	if c.Trading.PositionGraceSec == 0 {
		c.Trading.PositionGraceSec = 90
	}
	if c.VolumeConfirm.WindowDays == 0 {
		c.VolumeConfirm.WindowDays = 20
	}
	if c.VolumeConfirm.Multiplier == 0 {
		c.VolumeConfirm.Multiplier = 1.5
	}
	if c.VI.TimeoutSec == 0 {
		c.VI.TimeoutSec = 180
	}
	if c.Ledger.StartDate == "" {
		c.Ledger.StartDate = "2025-12-11"
	}
	if c.Broker.BaseURL == "" {
		c.Broker.BaseURL = "https://api.kiwoom.com"
	}
	if c.Broker.WebsocketURL == "" {
		c.Broker.WebsocketURL = "wss://api.kiwoom.com:10000/api/dostk/websocket"
	}
	if c.Broker.MinIntervalMS == 0 {
		c.Broker.MinIntervalMS = 250
	}
	if c.Broker.TimeoutSec == 0 {
		c.Broker.TimeoutSec = 10
	}
	if c.Broker.MaxRetries == 0 {
		c.Broker.MaxRetries = 5
	}
	if c.Symbols.QuotePageURL == "" {
		c.Symbols.QuotePageURL = "https://finance.naver.com/item/main.naver?code=%s"
	}
	if c.Symbols.NameSelector == "" {
		c.Symbols.NameSelector = "div.wrap_company h2 a"
	}
	if c.Symbols.CacheTTLMin == 0 {
		c.Symbols.CacheTTLMin = 24 * 60
	}
	if c.Ops.Listen == "" {
		c.Ops.Listen = "127.0.0.1:9102"
	}
	if c.Paper.Cash == 0 {
		c.Paper.Cash = 10_000_000
	}
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.Trading.UnitBasePct <= 0 || c.Trading.UnitBasePct > 100 {
		return fmt.Errorf("trading.unit_base_pct must be between 0-100, got %.2f", c.Trading.UnitBasePct)
	}
	if c.Trading.StopLossPct <= 0 || c.Trading.StopLossPct >= 100 {
		return fmt.Errorf("trading.stop_loss_pct must be between 0-100, got %.2f", c.Trading.StopLossPct)
	}
	if c.Trading.MaxLeveragePct < 100 {
		return fmt.Errorf("trading.max_leverage_pct must be at least 100, got %.2f", c.Trading.MaxLeveragePct)
	}
	if c.Trading.TickBuffer < 0 {
		return errors.New("trading.tick_buffer cannot be negative")
	}
	if c.VolumeConfirm.WindowDays < 2 {
		return fmt.Errorf("volume_confirm.window_days must be at least 2, got %d", c.VolumeConfirm.WindowDays)
	}
	if _, err := time.Parse("2006-01-02", c.Ledger.StartDate); err != nil {
		return fmt.Errorf("ledger.start_date must be YYYY-MM-DD: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("unknown timezone '%s': %w", c.Timezone, err)
	}
	return nil
}

// Location returns the exchange time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.FixedZone("KST", 9*3600)
	}
	return loc
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

func (c *Config) PricePollInterval() time.Duration {
	return time.Duration(c.PricePollMS) * time.Millisecond
}

func (c *Config) VITimeout() time.Duration {
	return time.Duration(c.VI.TimeoutSec) * time.Second
}

func (c *Config) PositionGrace() time.Duration {
	return time.Duration(c.Trading.PositionGraceSec) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
