package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/market"
	"github.com/rustyeddy/parity/risk"
	"github.com/rustyeddy/parity/strategy"
)

// Config is the complete parity configuration.
type Config struct {
	DataDir   string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	RunID     string `json:"run_id" yaml:"run_id" mapstructure:"run_id"`
	Symbol    string `json:"symbol" yaml:"symbol" mapstructure:"symbol"`
	Timeframe string `json:"timeframe" yaml:"timeframe" mapstructure:"timeframe"`
	LogLevel  string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`

	Ledger   LedgerConfig            `json:"ledger" yaml:"ledger" mapstructure:"ledger"`
	Store    StoreConfig             `json:"store" yaml:"store" mapstructure:"store"`
	Live     LiveConfig              `json:"live" yaml:"live" mapstructure:"live"`
	Risk     RiskConfig              `json:"risk" yaml:"risk" mapstructure:"risk"`
	Sizing   SizingConfig            `json:"sizing" yaml:"sizing" mapstructure:"sizing"`
	Strategy strategy.TrendATRConfig `json:"strategy" yaml:"strategy" mapstructure:"strategy"`
	Status   StatusConfig            `json:"status" yaml:"status" mapstructure:"status"`
}

// LedgerConfig controls the append contract.
type LedgerConfig struct {
	// Strict rejects non-monotonic rows; permissive mode writes and flags them.
	Strict bool `json:"strict" yaml:"strict" mapstructure:"strict"`
	Sync   bool `json:"sync" yaml:"sync" mapstructure:"sync"`
}

// StoreConfig locates the canonical bar store.
type StoreConfig struct {
	// Path defaults to <data_dir>/bars.db.
	Path string `json:"path,omitempty" yaml:"path,omitempty" mapstructure:"path"`
}

// LiveConfig contains live loop parameters
type LiveConfig struct {
	// Source is "store" (tail of SourcePath as a bar store) or "csv".
	Source       string        `json:"source" yaml:"source" mapstructure:"source"`
	SourcePath   string        `json:"source_path,omitempty" yaml:"source_path,omitempty" mapstructure:"source_path"`
	Interval     time.Duration `json:"interval,omitempty" yaml:"interval,omitempty" mapstructure:"interval"`
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	FetchLimit   int           `json:"fetch_limit,omitempty" yaml:"fetch_limit,omitempty" mapstructure:"fetch_limit"`
	MaxGapBars   int           `json:"max_gap_bars" yaml:"max_gap_bars" mapstructure:"max_gap_bars"`
	CooldownBars int           `json:"cooldown_bars" yaml:"cooldown_bars" mapstructure:"cooldown_bars"`
}

// RiskConfig contains the guard policy and heartbeat cadence
type RiskConfig struct {
	MaxTradesPerDay   int           `json:"max_trades_per_day" yaml:"max_trades_per_day" mapstructure:"max_trades_per_day"`
	MaxDailyLossUSD   float64       `json:"max_daily_loss_usd" yaml:"max_daily_loss_usd" mapstructure:"max_daily_loss_usd"`
	KillSwitchFile    string        `json:"kill_switch_file" yaml:"kill_switch_file" mapstructure:"kill_switch_file"`
	HaltOrdersFile    string        `json:"halt_orders_file" yaml:"halt_orders_file" mapstructure:"halt_orders_file"`
	Timezone          string        `json:"timezone" yaml:"timezone" mapstructure:"timezone"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
}

// SizingConfig feeds risk.Size.
type SizingConfig struct {
	Equity   float64 `json:"equity" yaml:"equity" mapstructure:"equity"`
	RiskPct  float64 `json:"risk_pct" yaml:"risk_pct" mapstructure:"risk_pct"`
	LotStep  float64 `json:"lot_step" yaml:"lot_step" mapstructure:"lot_step"`
	MaxQty   float64 `json:"max_qty" yaml:"max_qty" mapstructure:"max_qty"`
	FixedQty float64 `json:"fixed_qty" yaml:"fixed_qty" mapstructure:"fixed_qty"`
}

type StatusConfig struct {
	// Addr is the status/metrics listen address; empty disables it.
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if err := ledger.ValidateRunID(c.RunID); err != nil {
		return err
	}
	if ledger.IsReplay(c.RunID) {
		return fmt.Errorf("run_id %q is reserved for replay runs", c.RunID)
	}
	if err := market.ValidateInstrument(c.Symbol); err != nil {
		return fmt.Errorf("symbol: %w", err)
	}
	if _, err := market.ParseGranularity(c.Timeframe); err != nil {
		return fmt.Errorf("timeframe: %w", err)
	}
	switch c.Live.Source {
	case "store", "csv":
	default:
		return fmt.Errorf("live.source must be 'store' or 'csv'")
	}
	if c.Live.Source == "csv" && c.Live.SourcePath == "" {
		return fmt.Errorf("live.source_path required for csv source")
	}
	if c.Live.FetchTimeout <= 0 {
		return fmt.Errorf("live.fetch_timeout must be positive")
	}
	if c.Live.MaxGapBars < 0 || c.Live.CooldownBars < 0 {
		return fmt.Errorf("live.max_gap_bars and live.cooldown_bars must be >= 0")
	}
	if c.Risk.HeartbeatInterval <= 0 {
		return fmt.Errorf("risk.heartbeat_interval must be positive")
	}
	if _, err := risk.LoadLocation(c.Risk.Timezone); err != nil {
		return err
	}
	if err := c.Policy(time.UTC).Validate(); err != nil {
		return err
	}
	if c.Sizing.RiskPct < 0 || c.Sizing.RiskPct > 1 {
		return fmt.Errorf("sizing.risk_pct must be between 0 and 1")
	}
	if c.Sizing.FixedQty <= 0 && (c.Sizing.Equity <= 0 || c.Sizing.RiskPct <= 0) {
		return fmt.Errorf("sizing needs fixed_qty or equity and risk_pct")
	}
	return c.Strategy.Validate()
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		DataDir:   "./data",
		RunID:     "coinbase",
		Symbol:    "BTC/USD",
		Timeframe: "5m",
		LogLevel:  "info",
		Ledger: LedgerConfig{
			Strict: true,
			Sync:   true,
		},
		Live: LiveConfig{
			Source:       "store",
			FetchTimeout: 10 * time.Second,
			MaxGapBars:   3,
		},
		Risk: RiskConfig{
			MaxTradesPerDay:   10,
			MaxDailyLossUSD:   100,
			KillSwitchFile:    "./data/KILL_SWITCH",
			HaltOrdersFile:    "./data/HALT_ORDERS",
			Timezone:          risk.DefaultLocation,
			HeartbeatInterval: 15 * time.Second,
		},
		Sizing: SizingConfig{
			FixedQty: 1,
		},
		Strategy: strategy.DefaultTrendATRConfig(),
	}
}

// Granularity returns the parsed timeframe.
func (c *Config) Granularity() market.Granularity {
	g, err := market.ParseGranularity(c.Timeframe)
	if err != nil {
		return market.Granularity(c.Timeframe)
	}
	return g
}

// Key is the live ledger key.
func (c *Config) Key() ledger.Key {
	return ledger.Key{RunID: c.RunID, Instrument: c.Symbol, Granularity: c.Granularity()}
}

// StorePath is the bar store database path.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, "bars.db")
}

// Policy builds the guard policy in loc.
func (c *Config) Policy(loc *time.Location) risk.Policy {
	return risk.Policy{
		MaxTradesPerDay: c.Risk.MaxTradesPerDay,
		MaxDailyLoss:    c.Risk.MaxDailyLossUSD,
		KillSwitchFile:  c.Risk.KillSwitchFile,
		HaltOrdersFile:  c.Risk.HaltOrdersFile,
		Location:        loc,
	}
}

// SizeInputs is the sizing template the engine completes per entry.
func (c *Config) SizeInputs() risk.SizeInputs {
	return risk.SizeInputs{
		Equity:   c.Sizing.Equity,
		RiskPct:  c.Sizing.RiskPct,
		LotStep:  c.Sizing.LotStep,
		MaxQty:   c.Sizing.MaxQty,
		FixedQty: c.Sizing.FixedQty,
	}
}
