package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/risk"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Query the decision and trade ledgers",
	Long: `Query a run's ledger files.

Subcommands:
  today  - Trades closed today in the risk timezone, as org-mode
  tail   - The last decision rows
  report - Performance summary of the whole trade log

Examples:
  parity ledger today
  parity ledger report --run coinbase_bt_nightly
  parity ledger tail -n 20 --run coinbase_bt_nightly`,
}

var ledgerTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE:  runLedgerToday,
}

var ledgerTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the last decision rows",
	Args:  cobra.NoArgs,
	RunE:  runLedgerTail,
}

var ledgerReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize a run's trades",
	Long: `Print trade count, win rate, net and average pnl, profit factor, max
drawdown and a per-day breakdown. Days follow the risk timezone.`,
	Args: cobra.NoArgs,
	RunE: runLedgerReport,
}

var (
	ledgerRun  string
	ledgerTail int
)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerTodayCmd)
	ledgerCmd.AddCommand(ledgerTailCmd)
	ledgerCmd.AddCommand(ledgerReportCmd)

	ledgerCmd.PersistentFlags().StringVar(&ledgerRun, "run", "", "run id to read (default run_id)")
	ledgerTailCmd.Flags().IntVarP(&ledgerTail, "lines", "n", 10, "number of rows")
}

func ledgerKey() ledger.Key {
	return cfg.Key().WithRun(orDefault(ledgerRun, cfg.RunID))
}

func runLedgerToday(cmd *cobra.Command, args []string) error {
	loc, err := risk.LoadLocation(cfg.Risk.Timezone)
	if err != nil {
		return err
	}
	stats, err := ledger.TradesForDay(ledgerKey().TradesPath(cfg.DataDir), loc, time.Now())
	if err != nil {
		return err
	}

	fmt.Printf("# %s trades closed %s (%s)\n\n", ledgerKey(), stats.Start.Format("2006-01-02"), loc)
	fmt.Println(ledger.FormatTradesOrg(stats.Trades))
	fmt.Printf("trades: %d  pnl: %s\n", len(stats.Trades), stats.PnL.StringFixed(2))
	return nil
}

func runLedgerReport(cmd *cobra.Command, args []string) error {
	loc, err := risk.LoadLocation(cfg.Risk.Timezone)
	if err != nil {
		return err
	}
	key := ledgerKey()
	r, err := ledger.ReportFor(key.TradesPath(cfg.DataDir), loc)
	if err != nil {
		return err
	}
	ledger.PrintReport(cmd.OutOrStdout(), key.String(), r)
	return nil
}

func runLedgerTail(cmd *cobra.Command, args []string) error {
	rows, err := ledger.TailDecisions(ledgerKey().DecisionsPath(cfg.DataDir), ledgerTail)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Printf("%s: no decisions\n", ledgerKey())
			return nil
		}
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TS_MS\tTIME\tSIDE\tKIND\tEXIT\tSTOP\tCLOSE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.TSMS,
			time.UnixMilli(r.TSMS).UTC().Format(time.RFC3339),
			r.PositionSide,
			r.Kind(),
			r.ExitReason,
			optFloat(r.PositionStopPrice),
			optFloat(r.BarClose),
		)
	}
	return tw.Flush()
}

func optFloat(o ledger.Optional[float64]) string {
	if !o.Valid {
		return "-"
	}
	return strconv.FormatFloat(o.Value, 'f', -1, 64)
}
