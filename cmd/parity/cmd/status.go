package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/lock"
	"github.com/rustyeddy/parity/risk"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show guard status and the last decision",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON")
}

type statusReport struct {
	Key             string         `json:"key"`
	Guard           *risk.Snapshot `json:"guard,omitempty"`
	LastDecisionTS  int64          `json:"last_decision_ts_ms,omitempty"`
	LastTradeExitTS int64          `json:"last_trade_exit_ts_ms,omitempty"`
	// Owners are set only while the lock is held.
	LiveOwner      string `json:"live_owner,omitempty"`
	HeartbeatOwner string `json:"heartbeat_owner,omitempty"`
}

// currentStatus reads everything from disk so it works with or without the
// live loop running in this process.
func currentStatus(ctx context.Context) (any, error) {
	key := cfg.Key()
	rep := statusReport{Key: key.String()}

	snap, ok, err := risk.LoadState(risk.StatePath(cfg.DataDir, key))
	if err != nil {
		return nil, err
	}
	if ok {
		rep.Guard = &snap
	}
	if ts, ok, err := ledger.LastTS(key.DecisionsPath(cfg.DataDir)); err != nil {
		return nil, err
	} else if ok {
		rep.LastDecisionTS = ts
	}
	if ts, ok, err := ledger.LastTradeExitTS(key.TradesPath(cfg.DataDir)); err != nil {
		return nil, err
	} else if ok {
		rep.LastTradeExitTS = ts
	}
	rep.LiveOwner = heldBy(lock.Path(cfg.DataDir, "live", key))
	rep.HeartbeatOwner = heldBy(lock.Path(cfg.DataDir, "heartbeat", key))
	return rep, nil
}

func heldBy(path string) string {
	if held, err := lock.Held(path); err != nil || !held {
		return ""
	}
	owner, _ := lock.Owner(path)
	return owner
}

func runStatus(cmd *cobra.Command, args []string) error {
	v, err := currentStatus(cmd.Context())
	if err != nil {
		return err
	}
	rep := v.(statusReport)

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	fmt.Printf("key:           %s\n", rep.Key)
	if rep.Guard == nil {
		fmt.Println("guard:         no state (heartbeat has not run)")
	} else {
		g := rep.Guard
		fmt.Printf("guard:         %s", g.Status)
		if g.Reason != "" {
			fmt.Printf(" (%s)", g.Reason)
		}
		fmt.Println()
		fmt.Printf("trades today:  %d\n", g.TradesToday)
		fmt.Printf("pnl today:     %s\n", g.PnLToday.StringFixed(2))
		fmt.Printf("checked at:    %s\n", g.CheckedAt.Format(time.RFC3339))
	}
	fmt.Printf("last decision: %s\n", fmtTS(rep.LastDecisionTS))
	fmt.Printf("last trade:    %s\n", fmtTS(rep.LastTradeExitTS))
	if rep.LiveOwner != "" {
		fmt.Printf("live:          running %s\n", rep.LiveOwner)
	}
	if rep.HeartbeatOwner != "" {
		fmt.Printf("heartbeat:     running %s\n", rep.HeartbeatOwner)
	}
	return nil
}

func fmtTS(ms int64) string {
	if ms == 0 {
		return "none"
	}
	return fmt.Sprintf("%d (%s)", ms, time.UnixMilli(ms).UTC().Format(time.RFC3339))
}
