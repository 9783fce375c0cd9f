package compare

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/rustyeddy/parity/ledger"
)

// Render writes the report. The decisions, trades and overall lines have the
// form "<layer>: <STATUS>" so scripts can grep for them.
func (r Report) Render(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "live:     %s decisions=%s rows=%d\n", r.LiveRun, r.Live, r.Live.Rows)
	fmt.Fprintf(bw, "replay:   %s decisions=%s rows=%d\n", r.ReplayRun, r.Replay, r.Replay.Rows)
	if r.Overlap.Rows == 0 {
		fmt.Fprintf(bw, "overlap:  none\n")
	} else {
		fmt.Fprintf(bw, "overlap:  %s replay_warmup_rows=%d\n", r.Overlap, r.ReplayWarmupRows)
	}
	if r.SyncAtFlat && r.Overlap.Rows > 0 {
		if r.Synced {
			fmt.Fprintf(bw, "sync:     first mutual flat ts_ms=%d\n", r.StartTS)
		} else {
			fmt.Fprintf(bw, "sync:     no mutual flat, from overlap start ts_ms=%d\n", r.StartTS)
		}
	}
	if r.Overlap.Rows > 0 {
		fmt.Fprintf(bw, "compared: rows=%d only_live=%d only_replay=%d trades_live=%d trades_replay=%d\n",
			r.Compared, len(r.OnlyLive), len(r.OnlyReplay), r.LiveTrades, r.ReplayTrades)
		writeListed(bw, "only_live", r.OnlyLive)
		writeListed(bw, "only_replay", r.OnlyReplay)
	}

	fmt.Fprintf(bw, "decisions: %s\n", r.Decisions)
	fmt.Fprintf(bw, "trades: %s\n", r.Trades)
	fmt.Fprintf(bw, "overall: %s\n", r.Overall)

	writeMismatch(bw, r.DecisionMismatch)
	writeMismatch(bw, r.TradeMismatch)
	return bw.Flush()
}

func writeListed(w io.Writer, name string, ts []int64) {
	if len(ts) == 0 {
		return
	}
	shown := ts[:min(len(ts), maxListed)]
	fmt.Fprintf(w, "%s (first %d): %v\n", name, maxListed, shown)
}

func writeMismatch(w io.Writer, m *Mismatch) {
	if m == nil {
		return
	}
	fmt.Fprintf(w, "\n--- first mismatch (%s) index=%d ts_ms=%d fields=%v ---\n", m.Layer, m.Index, m.TSMS, m.Fields)
	for _, p := range m.Context {
		mark := "  "
		if p.Index == m.Index {
			mark = ">>"
		}
		fmt.Fprintf(w, "%s %06d  LIVE:   %s\n", mark, p.Index, orNone(p.Live))
		fmt.Fprintf(w, "%s %06d  REPLAY: %s\n", mark, p.Index, orNone(p.Replay))
	}
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}

func formatDecision(d ledger.DecisionRow) string {
	stop := ""
	if d.PositionStopPrice.Valid {
		stop = strconv.FormatFloat(d.PositionStopPrice.Value, 'f', -1, 64)
	}
	return fmt.Sprintf("ts=%d|side=%s|enter=%t|exit=%t|reason=%s|skip=%s|stop=%s",
		d.TSMS, d.PositionSide, d.EntryShouldEnter, d.ExitShouldExit, d.ExitReason, d.SkipReason, stop)
}
