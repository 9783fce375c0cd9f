package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/parity/internal/logging"
	"github.com/rustyeddy/parity/market"
	"github.com/rustyeddy/parity/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay stored bars into a run-scoped ledger",
	Long: `Replay the strategy over bars from the bar store and write the ledger
of run <base>_bt_<tag>. Warmup bars before the window are loaded but never
written. Replaying the same window twice produces identical files.

Times are epoch milliseconds or RFC3339.

Examples:
  parity replay --start 2024-03-01T00:00:00Z --end 2024-03-02T00:00:00Z
  parity replay --from-live coinbase --tag nightly`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

var (
	replayBase        string
	replayTag         string
	replayInstrument  string
	replayGranularity string
	replayStart       string
	replayEnd         string
	replayFromLive    string
	replayWarmup      int
	replayOverwrite   bool
)

func init() {
	rootCmd.AddCommand(replayCmd)

	f := replayCmd.Flags()
	f.StringVar(&replayBase, "base", "", "base run label (default run_id)")
	f.StringVar(&replayTag, "tag", "", "replay tag (default a new ULID)")
	f.StringVar(&replayInstrument, "instrument", "", "instrument (default symbol)")
	f.StringVar(&replayGranularity, "granularity", "", "granularity (default timeframe)")
	f.StringVar(&replayStart, "start", "", "first decision bar, inclusive")
	f.StringVar(&replayEnd, "end", "", "last decision bar, inclusive")
	f.StringVar(&replayFromLive, "from-live", "", "start at the first decision of this live run")
	f.IntVar(&replayWarmup, "warmup", 0, "warmup bars before start (default lookback-1)")
	f.BoolVar(&replayOverwrite, "overwrite", false, "replace an existing run with the same tag")
	replayCmd.MarkFlagsMutuallyExclusive("start", "from-live")
}

func runReplay(cmd *cobra.Command, args []string) error {
	start, err := parseTS(replayStart)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	end, err := parseTS(replayEnd)
	if err != nil {
		return fmt.Errorf("--end: %w", err)
	}
	g := cfg.Granularity()
	if replayGranularity != "" {
		if g, err = market.ParseGranularity(replayGranularity); err != nil {
			return err
		}
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := replay.Run(cmd.Context(), store, replay.Options{
		Root:        cfg.DataDir,
		Base:        orDefault(replayBase, cfg.RunID),
		Tag:         replayTag,
		Instrument:  orDefault(replayInstrument, cfg.Symbol),
		Granularity: g,
		Start:       start,
		End:         end,
		FromLive:    replayFromLive,
		Warmup:      replayWarmup,
		Overwrite:   replayOverwrite,
		Sync:        cfg.Ledger.Sync,
		Strategy:    newStrategy(),
		Engine:      engineConfig(),
		Logger:      logging.Component("replay"),
	})
	if err != nil {
		return err
	}

	fmt.Printf("replay run:  %s\n", res.RunID)
	fmt.Printf("window:      %s .. %s\n", fmtTS(res.First), fmtTS(res.Last))
	fmt.Printf("bars:        %d loaded, %d warmup\n", res.BarsLoaded, res.WarmupBars)
	fmt.Printf("decisions:   %d\n", res.Decisions)
	fmt.Printf("trades:      %d\n", res.Trades)
	fmt.Printf("ledger:      %s\n", res.DecisionsPath)
	return nil
}

// parseTS accepts epoch milliseconds or RFC3339. Empty is zero.
func parseTS(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("want epoch ms or RFC3339, got %q", s)
	}
	return t.UnixMilli(), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
