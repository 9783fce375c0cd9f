package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/parity/config"
	"github.com/rustyeddy/parity/internal/logging"
)

// skipConfig marks commands that run without a loaded configuration.
const skipConfig = "skip-config"

var rootCmd = &cobra.Command{
	Use:   "parity",
	Short: "Live and replay trading ledgers that can be proven identical",
	Long: `Parity runs a bar-driven strategy live and writes an append-only
decision and trade ledger. The same strategy replayed over the stored bars
writes a second ledger, and compare proves the two agree row for row.

Configuration comes from an optional YAML or JSON file, then environment
variables, then the global flags below.

Examples:
  parity bars import data/btc-5m.csv
  parity run
  parity replay --from-live coinbase
  parity compare --replay-tag 01HV...`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

var (
	cfgFile       string
	flagDataDir   string
	flagLogLevel  string
	flagRunID     string
	flagSymbol    string
	flagTimeframe string

	// cfg is the effective configuration of the running command.
	cfg *config.Config
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx as every command's context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON)")
	pf.StringVar(&flagDataDir, "data-dir", "", "ledger and state root directory")
	pf.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&flagRunID, "run-id", "", "live run label")
	pf.StringVar(&flagSymbol, "symbol", "", "instrument, e.g. BTC/USD")
	pf.StringVar(&flagTimeframe, "timeframe", "", "bar granularity, e.g. 5m")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Annotations[skipConfig] != "" {
		return nil
	}
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		c.DataDir = flagDataDir
	}
	if flags.Changed("log-level") {
		c.LogLevel = flagLogLevel
	}
	if flags.Changed("run-id") {
		c.RunID = flagRunID
	}
	if flags.Changed("symbol") {
		c.Symbol = flagSymbol
	}
	if flags.Changed("timeframe") {
		c.Timeframe = flagTimeframe
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logging.SetLevel(c.LogLevel)
	cfg = c
	return nil
}
