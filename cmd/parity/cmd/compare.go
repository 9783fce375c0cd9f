package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/parity/compare"
	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/market"
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare a live ledger with a replay ledger",
	Long: `Compare decisions and trades of a live run and a replay run over their
overlapping window and print the first mismatch with context.

Exit status is 0 on PASS, 1 on FAIL and 2 when the ledgers do not overlap.

Examples:
  parity compare --replay-tag 01HV3K...
  parity compare --live-tag coinbase --replay-tag coinbase_bt_nightly --sync-at-flat`,
	Args: cobra.NoArgs,
	RunE: runCompare,
}

var (
	compareLiveTag       string
	compareReplayTag     string
	compareInstrument    string
	compareGranularity   string
	compareContext       int
	compareSyncAtFlat    bool
	compareStopTolerance float64
)

func init() {
	rootCmd.AddCommand(compareCmd)

	f := compareCmd.Flags()
	f.StringVar(&compareLiveTag, "live-tag", "", "live run id (default run_id)")
	f.StringVar(&compareReplayTag, "replay-tag", "", "replay tag or full replay run id (required)")
	f.StringVar(&compareInstrument, "instrument", "", "instrument (default symbol)")
	f.StringVar(&compareGranularity, "granularity", "", "granularity (default timeframe)")
	f.IntVar(&compareContext, "context", compare.DefaultContextRows, "rows of context on each side of a mismatch")
	f.BoolVar(&compareSyncAtFlat, "sync-at-flat", false, "start at the first bar where both sides are flat")
	f.Float64Var(&compareStopTolerance, "stop-tolerance", 0, "also compare stop prices within this tolerance")
	compareCmd.MarkFlagRequired("replay-tag")
}

func runCompare(cmd *cobra.Command, args []string) error {
	g := cfg.Granularity()
	if compareGranularity != "" {
		var err error
		if g, err = market.ParseGranularity(compareGranularity); err != nil {
			return err
		}
	}
	liveKey := ledger.Key{
		RunID:       orDefault(compareLiveTag, cfg.RunID),
		Instrument:  orDefault(compareInstrument, cfg.Symbol),
		Granularity: g,
	}
	replayRun := compareReplayTag
	if !ledger.IsReplay(replayRun) {
		replayRun = ledger.ReplayRunID(liveKey.RunID, compareReplayTag)
	}
	replayKey := liveKey.WithRun(replayRun)

	opts := compare.Options{ContextRows: compareContext, SyncAtFlat: compareSyncAtFlat}
	if cmd.Flags().Changed("stop-tolerance") {
		tol := compareStopTolerance
		opts.StopTolerance = &tol
	}

	rep, err := compare.Run(cfg.DataDir, liveKey, replayKey, opts)
	if err != nil {
		return err
	}
	if err := rep.Render(os.Stdout); err != nil {
		return err
	}

	switch err := rep.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, compare.ErrNoOverlap):
		return &ExitError{Code: ExitNoOverlap}
	default:
		return &ExitError{Code: ExitFailed}
	}
}
