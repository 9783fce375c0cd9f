package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/parity/internal/logging"
	"github.com/rustyeddy/parity/risk"
)

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Run the risk guard heartbeat",
	Long: `Evaluate the kill switch, halt marker and daily limits on a period and
whenever a marker file changes, and persist the guard state the live loop
reads before opening positions.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHeartbeat(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(heartbeatCmd)
}

func runHeartbeat(ctx context.Context) error {
	lk, err := acquire("heartbeat", cfg.Key())
	if err != nil {
		return err
	}
	defer lk.Release()
	return serveHeartbeat(ctx)
}

// serveHeartbeat runs the heartbeat; the caller holds the heartbeat lock.
func serveHeartbeat(ctx context.Context) error {
	key := cfg.Key()
	guard, err := newGuard(key)
	if err != nil {
		return err
	}
	hb := &risk.Heartbeat{
		Guard:  guard,
		Period: cfg.Risk.HeartbeatInterval,
		Log:    logging.Component("heartbeat").With("key", key.String()),
	}
	return hb.Run(ctx)
}
