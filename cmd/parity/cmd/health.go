package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/parity/ledger"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the live decision log for gaps, failures and staleness",
	Long: `Inspect the tail of the live decision log and report OK, WARN or FAIL.

Checks:
  order     - timestamps strictly increase and sit on the bar grid
  cadence   - gaps longer than --grace bars
  failures  - persist_failed rows, or more than --max-fetch-failures fetch_failed
  staleness - how far the last row trails the newest closed bar

Exit status is 0 for OK, 4 for WARN and 1 for FAIL.`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

var (
	healthJSON      bool
	healthWindow    int
	healthGrace     int
	healthMaxFetch  int
	healthStaleBars int
	healthFailStale int
)

func init() {
	rootCmd.AddCommand(healthCmd)

	f := healthCmd.Flags()
	f.BoolVar(&healthJSON, "json", false, "print JSON")
	f.IntVar(&healthWindow, "window", 288, "trailing rows to examine")
	f.IntVar(&healthGrace, "grace", 0, "missed bars tolerated as a restart (default live.max_gap_bars)")
	f.IntVar(&healthMaxFetch, "max-fetch-failures", 0, "fetch_failed rows tolerated in the window")
	f.IntVar(&healthStaleBars, "stale-bars", 2, "bars behind before WARN")
	f.IntVar(&healthFailStale, "fail-stale-bars", 12, "bars behind before FAIL")
}

func runHealth(cmd *cobra.Command, args []string) error {
	grace := healthGrace
	if !cmd.Flags().Changed("grace") {
		grace = cfg.Live.MaxGapBars
	}
	key := cfg.Key()
	rep, err := ledger.Health(key.DecisionsPath(cfg.DataDir), key.Granularity, time.Now(), ledger.HealthOptions{
		Window:           healthWindow,
		RestartGraceBars: grace,
		MaxFetchFailures: healthMaxFetch,
		StaleBars:        healthStaleBars,
		FailStaleBars:    healthFailStale,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if healthJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "%s: %s\n", key, rep.Status)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, c := range rep.Checks {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", c.Name, c.Status, c.Detail)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	switch rep.Status {
	case ledger.HealthWarn:
		return &ExitError{Code: ExitWarn}
	case ledger.HealthFail:
		return &ExitError{Code: ExitFailed}
	}
	return nil
}
