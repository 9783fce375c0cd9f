package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/parity/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage parity configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate a configuration file with environment overrides applied

Examples:
  parity config init -o parity.yaml
  parity config validate -f parity.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Generate a default configuration file",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE:        runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:         "validate",
	Short:       "Validate a configuration file",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE:        runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "parity.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	c := config.Default()
	if err := c.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  parity run --config %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Ledger:   %s under %s (strict=%t)\n", c.Key(), c.DataDir, c.Ledger.Strict)
	fmt.Printf("  Store:    %s\n", c.StorePath())
	fmt.Printf("  Live:     source=%s fetch_timeout=%s max_gap_bars=%d\n", c.Live.Source, c.Live.FetchTimeout, c.Live.MaxGapBars)
	fmt.Printf("  Risk:     max_trades=%d max_loss=%.2f tz=%s\n", c.Risk.MaxTradesPerDay, c.Risk.MaxDailyLossUSD, c.Risk.Timezone)
	fmt.Printf("  Strategy: %s\n", newStrategyFrom(c).Name())
	return nil
}
