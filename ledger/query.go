package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// DayBounds returns [start, end) of the local calendar day containing t.
func DayBounds(loc *time.Location, t time.Time) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// TradesClosedBetween returns trades whose exit is within [start, end).
func TradesClosedBetween(rows []TradeRow, start, end time.Time) []TradeRow {
	lo, hi := start.UnixMilli(), end.UnixMilli()
	var out []TradeRow
	for _, r := range rows {
		if r.ExitTSMS >= lo && r.ExitTSMS < hi {
			out = append(out, r)
		}
	}
	return out
}

// RealizedPnL sums pnl without float drift.
func RealizedPnL(rows []TradeRow) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(decimal.NewFromFloat(r.PnL))
	}
	return sum
}

// DayStats summarises the trades closed in one local day.
type DayStats struct {
	Start  time.Time
	End    time.Time
	Trades []TradeRow
	PnL    decimal.Decimal
}

// TradesForDay loads the trade log at path and selects the local day that
// contains now. A missing log is an empty day.
func TradesForDay(path string, loc *time.Location, now time.Time) (DayStats, error) {
	start, end := DayBounds(loc, now)
	stats := DayStats{Start: start, End: end, PnL: decimal.Zero}

	rows, err := readTradesIfExists(path)
	if err != nil {
		return stats, err
	}
	stats.Trades = TradesClosedBetween(rows, start, end)
	stats.PnL = RealizedPnL(stats.Trades)
	return stats, nil
}

// TailDecisions returns the last n decision rows.
func TailDecisions(path string, n int) ([]DecisionRow, error) {
	rows, err := ReadDecisions(path)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	return rows, nil
}
