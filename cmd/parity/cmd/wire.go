package cmd

import (
	"fmt"

	"github.com/rustyeddy/parity/barstore"
	"github.com/rustyeddy/parity/config"
	"github.com/rustyeddy/parity/engine"
	"github.com/rustyeddy/parity/internal/logging"
	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/live"
	"github.com/rustyeddy/parity/lock"
	"github.com/rustyeddy/parity/risk"
	"github.com/rustyeddy/parity/strategy"
)

func newStrategy() strategy.Strategy {
	return newStrategyFrom(cfg)
}

func newStrategyFrom(c *config.Config) strategy.Strategy {
	return strategy.NewTrendATR(c.Strategy)
}

// engineConfig is shared by live and replay; only the fill model differs.
func engineConfig() engine.Config {
	return engine.Config{
		CooldownBars: cfg.Live.CooldownBars,
		Sizing:       cfg.SizeInputs(),
	}
}

func newGuard(key ledger.Key) (*risk.Guard, error) {
	loc, err := risk.LoadLocation(cfg.Risk.Timezone)
	if err != nil {
		return nil, err
	}
	return risk.NewGuard(cfg.DataDir, key, cfg.Policy(loc), logging.Component("risk")), nil
}

func acquire(role string, key ledger.Key) (*lock.Lock, error) {
	l, err := lock.TryAcquire(lock.Path(cfg.DataDir, role, key))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", role, key, err)
	}
	return l, nil
}

func openStore() (*barstore.SQLite, error) {
	s, err := barstore.NewSQLite(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open bar store: %w", err)
	}
	return s, nil
}

// newFetcher picks the live bar source. The returned close func releases a
// separately opened source store.
func newFetcher(store *barstore.SQLite) (live.Fetcher, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Live.Source {
	case "csv":
		return live.CSVFetcher{Path: cfg.Live.SourcePath}, noop, nil
	case "store":
		if cfg.Live.SourcePath == "" || cfg.Live.SourcePath == cfg.StorePath() {
			return live.StoreFetcher{Store: store}, noop, nil
		}
		src, err := barstore.NewSQLite(cfg.Live.SourcePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open source store: %w", err)
		}
		return live.StoreFetcher{Store: src}, src.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown live source %q", cfg.Live.Source)
}
