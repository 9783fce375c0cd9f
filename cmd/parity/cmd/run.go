package cmd

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/parity/internal/logging"
	"github.com/rustyeddy/parity/internal/statusserver"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the live loop, heartbeat and status server together",
	Long: `Start the live loop and the risk heartbeat in one process, plus the
status server when status.addr is set. Both the live and the heartbeat
locks are taken before either starts, so a refused run changes nothing on
disk. The same loops can also run as separate 'parity live' and 'parity
heartbeat' processes. The first one to fail stops the others.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	key := cfg.Key()
	liveLock, err := acquire("live", key)
	if err != nil {
		return err
	}
	defer liveLock.Release()
	hbLock, err := acquire("heartbeat", key)
	if err != nil {
		return err
	}
	defer hbLock.Release()

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return serveHeartbeat(ctx) })
	g.Go(func() error { return serveLive(ctx, liveLock) })

	if cfg.Status.Addr != "" {
		srv := statusserver.New(cfg.Status.Addr, currentStatus, logging.Component("status"))
		g.Go(func() error { return srv.Start(ctx) })
	}
	return g.Wait()
}
