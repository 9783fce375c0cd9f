package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Env maps each environment variable to the config key it overrides.
// Environment wins over the file, the file over Default.
var Env = map[string]string{
	"PARITY_DATA_DIR":    "data_dir",
	"RUN_ID":             "run_id",
	"SYMBOL":             "symbol",
	"TIMEFRAME":          "timeframe",
	"LOG_LEVEL":          "log_level",
	"LEDGER_STRICT":      "ledger.strict",
	"MAX_TRADES_PER_DAY": "risk.max_trades_per_day",
	"MAX_DAILY_LOSS_USD": "risk.max_daily_loss_usd",
	"KILL_SWITCH_FILE":   "risk.kill_switch_file",
	"HALT_ORDERS_FILE":   "risk.halt_orders_file",
	"RISK_TZ":            "risk.timezone",
	"HEARTBEAT_INTERVAL": "risk.heartbeat_interval",
	"FETCH_TIMEOUT":      "live.fetch_timeout",
	"MAX_GAP_BARS":       "live.max_gap_bars",
	"STATUS_ADDR":        "status.addr",
}

// Load reads the optional file at path, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, Default())

	for env, key := range Env {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every leaf of def so that env-only keys unmarshal.
func setDefaults(v *viper.Viper, def *Config) {
	var m map[string]any
	if err := mapstructure.Decode(def, &m); err != nil {
		return
	}
	setTree(v, "", m)
}

func setTree(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setTree(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}
