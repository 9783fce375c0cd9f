package ledger

import (
	"fmt"
	"strings"
	"time"
)

// FormatTradeOrg renders a trade as an Org-mode block. Structured facts go
// in a PROPERTIES drawer so they stay searchable.
func FormatTradeOrg(t TradeRow) string {
	entry := time.UnixMilli(t.EntryTSMS).UTC().Format(time.RFC3339)
	exit := time.UnixMilli(t.ExitTSMS).UTC().Format(time.RFC3339)

	var b strings.Builder
	fmt.Fprintf(&b, "** Trade: %s %s %s (%s)\n", t.Instrument, t.Granularity, t.PositionSide, entry)
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":RUN_ID: %s\n", t.RunID)
	fmt.Fprintf(&b, ":INSTRUMENT: %s\n", t.Instrument)
	fmt.Fprintf(&b, ":SIDE: %s\n", t.PositionSide)
	fmt.Fprintf(&b, ":QTY: %s\n", f(t.Qty))
	fmt.Fprintf(&b, ":ENTRY_PRICE: %.5f\n", t.EntryPrice)
	fmt.Fprintf(&b, ":EXIT_PRICE: %.5f\n", t.ExitPrice)
	fmt.Fprintf(&b, ":STOP_PRICE: %.5f\n", t.StopPrice)
	fmt.Fprintf(&b, ":ENTRY_TIME: %s\n", entry)
	fmt.Fprintf(&b, ":EXIT_TIME: %s\n", exit)
	fmt.Fprintf(&b, ":EXIT_REASON: %s\n", t.ExitReason)
	fmt.Fprintf(&b, ":PNL: %.2f\n", t.PnL)
	b.WriteString(":END:\n")
	return b.String()
}

// FormatTradesOrg renders multiple trades separated by blank lines.
func FormatTradesOrg(trades []TradeRow) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}
