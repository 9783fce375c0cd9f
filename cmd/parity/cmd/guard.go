package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Inspect or clear the risk guard",
}

var guardClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear a halted guard",
	Long: `Return a halted guard to ACTIVE. The guard is re-evaluated first; the
clear is refused while the kill switch, halt marker or a daily limit is
still in violation.

Example:
  parity guard clear --by alice`,
	Args: cobra.NoArgs,
	RunE: runGuardClear,
}

var guardClearBy string

func init() {
	rootCmd.AddCommand(guardCmd)
	guardCmd.AddCommand(guardClearCmd)

	guardClearCmd.Flags().StringVar(&guardClearBy, "by", "", "operator clearing the halt (required)")
	guardClearCmd.MarkFlagRequired("by")
}

func runGuardClear(cmd *cobra.Command, args []string) error {
	guard, err := newGuard(cfg.Key())
	if err != nil {
		return err
	}
	snap, err := guard.Clear(cmd.Context(), guardClearBy)
	if err != nil {
		return fmt.Errorf("guard clear: %w", err)
	}
	fmt.Printf("guard %s, cleared by %s\n", snap.Status, snap.ClearedBy)
	return nil
}
