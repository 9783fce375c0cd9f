package ledger

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// Report is a performance summary of a trade log.
type Report struct {
	Trades int
	Wins   int
	Losses int
	// WinRate is the percentage of trades with positive pnl.
	WinRate decimal.Decimal

	NetPnL      decimal.Decimal
	AvgPnL      decimal.Decimal
	GrossProfit decimal.Decimal
	GrossLoss   decimal.Decimal
	// ProfitFactor is GrossProfit over GrossLoss. It is undefined, and
	// HasProfitFactor false, when nothing lost.
	ProfitFactor    decimal.Decimal
	HasProfitFactor bool
	// MaxDrawdown is the largest peak to trough fall of the equity curve,
	// with equity starting at zero.
	MaxDrawdown decimal.Decimal

	Start time.Time
	End   time.Time

	Days   []DayPnL
	Equity []EquityPoint
}

// DayPnL is the activity of one local calendar day, keyed by exit time.
type DayPnL struct {
	Day    time.Time
	Trades int
	Wins   int
	PnL    decimal.Decimal
}

// EquityPoint is cumulative realized pnl after the trade that exited at
// TSMS.
type EquityPoint struct {
	TSMS   int64
	Equity decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Summarize builds a Report from trades in exit order. Days are split in loc.
func Summarize(trades []TradeRow, loc *time.Location) Report {
	r := Report{
		WinRate:     decimal.Zero,
		NetPnL:      decimal.Zero,
		AvgPnL:      decimal.Zero,
		GrossProfit: decimal.Zero,
		GrossLoss:   decimal.Zero,
		MaxDrawdown: decimal.Zero,
	}
	if len(trades) == 0 {
		return r
	}
	if loc == nil {
		loc = time.UTC
	}

	r.Trades = len(trades)
	r.Start = time.UnixMilli(trades[0].EntryTSMS).In(loc)
	r.End = time.UnixMilli(trades[len(trades)-1].ExitTSMS).In(loc)

	peak := decimal.Zero
	equity := decimal.Zero
	for _, t := range trades {
		pnl := decimal.NewFromFloat(t.PnL)
		switch pnl.Sign() {
		case 1:
			r.Wins++
			r.GrossProfit = r.GrossProfit.Add(pnl)
		case -1:
			r.Losses++
			r.GrossLoss = r.GrossLoss.Add(pnl.Neg())
		}

		equity = equity.Add(pnl)
		r.Equity = append(r.Equity, EquityPoint{TSMS: t.ExitTSMS, Equity: equity})
		peak = decimal.Max(peak, equity)
		r.MaxDrawdown = decimal.Max(r.MaxDrawdown, peak.Sub(equity))

		day, _ := DayBounds(loc, time.UnixMilli(t.ExitTSMS))
		if n := len(r.Days); n == 0 || !r.Days[n-1].Day.Equal(day) {
			r.Days = append(r.Days, DayPnL{Day: day, PnL: decimal.Zero})
		}
		d := &r.Days[len(r.Days)-1]
		d.Trades++
		d.PnL = d.PnL.Add(pnl)
		if pnl.Sign() > 0 {
			d.Wins++
		}
	}

	n := decimal.NewFromInt(int64(r.Trades))
	r.NetPnL = equity
	r.AvgPnL = equity.Div(n)
	r.WinRate = decimal.NewFromInt(int64(r.Wins)).Mul(hundred).Div(n)
	if r.GrossLoss.Sign() > 0 {
		r.ProfitFactor = r.GrossProfit.Div(r.GrossLoss)
		r.HasProfitFactor = true
	}
	return r
}

// ReportFor reads the trade log at path and summarizes it. A missing log is
// an empty report.
func ReportFor(path string, loc *time.Location) (Report, error) {
	rows, err := readTradesIfExists(path)
	if err != nil {
		return Report{}, err
	}
	return Summarize(rows, loc), nil
}

// PrintReport writes r as a plain text summary.
func PrintReport(w io.Writer, title string, r Report) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, " %s\n", title)
	fmt.Fprintln(w, "==================================================")

	if r.Trades == 0 {
		fmt.Fprintln(w, "No trades.")
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Period")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start:         %s\n", r.Start.Format(time.RFC3339))
	fmt.Fprintf(w, "End:           %s\n", r.End.Format(time.RFC3339))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Trades:        %d\n", r.Trades)
	fmt.Fprintf(w, "Wins:          %d\n", r.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", r.Losses)
	fmt.Fprintf(w, "Win Rate:      %s%%\n", r.WinRate.StringFixed(2))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Net P/L:       %s\n", r.NetPnL.StringFixed(2))
	fmt.Fprintf(w, "Avg P/L:       %s\n", r.AvgPnL.StringFixed(2))
	fmt.Fprintf(w, "Gross Profit:  %s\n", r.GrossProfit.StringFixed(2))
	fmt.Fprintf(w, "Gross Loss:    %s\n", r.GrossLoss.StringFixed(2))
	if r.HasProfitFactor {
		fmt.Fprintf(w, "Profit Factor: %s\n", r.ProfitFactor.StringFixed(2))
	}
	fmt.Fprintf(w, "Max Drawdown:  %s\n", r.MaxDrawdown.StringFixed(2))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "By Day")
	fmt.Fprintln(w, "--------------------------------------------------")
	for _, d := range r.Days {
		fmt.Fprintf(w, "%s  trades %3d  wins %3d  pnl %s\n",
			d.Day.Format("2006-01-02"), d.Trades, d.Wins, d.PnL.StringFixed(2))
	}
	fmt.Fprintln(w)
}
