package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/parity/engine"
	"github.com/rustyeddy/parity/internal/logging"
	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/live"
	"github.com/rustyeddy/parity/lock"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Run the live decision loop",
	Long: `Fetch bars every interval, decide each newly closed bar and append it
to the live ledger. Only one live loop may run per run id, instrument and
granularity; a second one exits immediately.

Example:
  parity live --symbol BTC/USD --timeframe 5m`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLive(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(liveCmd)
}

func runLive(ctx context.Context) error {
	lk, err := acquire("live", cfg.Key())
	if err != nil {
		return err
	}
	defer lk.Release()
	return serveLive(ctx, lk)
}

// serveLive runs the live loop under a live lock the caller already holds.
func serveLive(ctx context.Context, lk *lock.Lock) error {
	key := cfg.Key()
	log := logging.Component("live")
	w, err := ledger.Open(cfg.DataDir, key, ledger.Options{
		Strict: cfg.Ledger.Strict,
		Sync:   cfg.Ledger.Sync,
		Logger: logging.Component("ledger"),
	})
	if err != nil {
		return err
	}
	defer w.Close()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	fetcher, closeFetcher, err := newFetcher(store)
	if err != nil {
		return err
	}
	defer closeFetcher()

	guard, err := newGuard(key)
	if err != nil {
		return err
	}

	eng := engine.New(newStrategy(), engineConfig())
	d := live.New(live.Config{
		Instrument:   cfg.Symbol,
		Granularity:  cfg.Granularity(),
		Interval:     cfg.Live.Interval,
		FetchTimeout: cfg.Live.FetchTimeout,
		FetchLimit:   cfg.Live.FetchLimit,
		MaxGapBars:   cfg.Live.MaxGapBars,
	}, fetcher, w, guard.Gate(), store, eng, log)

	log.Info("live run", "key", key.String(), "lock", lk.Path(), "decisions", w.DecisionsPath())
	return d.Run(ctx)
}
