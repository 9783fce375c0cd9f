package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/parity/barstore"
	"github.com/rustyeddy/parity/market"
)

var barsCmd = &cobra.Command{
	Use:   "bars",
	Short: "Manage the bar store",
	Long: `Import bars into the canonical bar store and inspect what it holds.

Subcommands:
  import - Upsert bars from a CSV file
  range  - Show the stored range and day partitions

Examples:
  parity bars import data/btc-5m.csv
  parity bars range --symbol ETH/USD`,
}

var barsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Upsert bars from a CSV file",
	Long: `Read ts_ms|time,open,high,low,close,volume rows and upsert them into the
bar store. A bar already stored at the same close time is replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: runBarsImport,
}

var barsRangeCmd = &cobra.Command{
	Use:   "range",
	Short: "Show the stored range and day partitions",
	Args:  cobra.NoArgs,
	RunE:  runBarsRange,
}

var (
	barsFrom  string
	barsTo    string
	barsBatch int
)

func init() {
	rootCmd.AddCommand(barsCmd)
	barsCmd.AddCommand(barsImportCmd)
	barsCmd.AddCommand(barsRangeCmd)

	barsImportCmd.Flags().StringVar(&barsFrom, "from", "", "skip bars before this time")
	barsImportCmd.Flags().StringVar(&barsTo, "to", "", "skip bars after this time")
	barsImportCmd.Flags().IntVar(&barsBatch, "batch", 5000, "bars per transaction")
}

func runBarsImport(cmd *cobra.Command, args []string) error {
	from, err := parseTS(barsFrom)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parseTS(barsTo)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	feed, err := barstore.NewCSVFeed(args[0], cfg.Symbol, cfg.Granularity(), from, to)
	if err != nil {
		return err
	}
	defer feed.Close()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	batch := make([]market.Bar, 0, max(barsBatch, 1))
	total := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.PutBars(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}
	for {
		b, ok, err := feed.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		batch = append(batch, b)
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	fmt.Printf("imported %d %s %s bars into %s\n", total, cfg.Symbol, cfg.Granularity(), cfg.StorePath())
	return nil
}

func runBarsRange(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	r, err := store.Range(ctx, cfg.Symbol, cfg.Granularity())
	if err != nil {
		return err
	}
	if r.Empty() {
		fmt.Printf("%s %s: no bars\n", cfg.Symbol, cfg.Granularity())
		return nil
	}
	days, err := store.Partitions(ctx, cfg.Symbol, cfg.Granularity())
	if err != nil {
		return err
	}
	expected := cfg.Granularity().BarsBetween(r.FirstMS, r.LastMS) + 1

	fmt.Printf("%s %s\n", cfg.Symbol, cfg.Granularity())
	fmt.Printf("first:   %s\n", fmtTS(r.FirstMS))
	fmt.Printf("last:    %s\n", fmtTS(r.LastMS))
	fmt.Printf("bars:    %d (missing %d)\n", r.Count, expected-r.Count)
	fmt.Printf("days:    %d (%s .. %s)\n", len(days), days[0], days[len(days)-1])
	return nil
}
