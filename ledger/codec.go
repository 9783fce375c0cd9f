package ledger

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/rustyeddy/parity/market"
)

// DecisionHeader is the column order of decisions.csv.
var DecisionHeader = []string{
	"run_id",
	"instrument",
	"granularity",
	"ts_ms",
	"position_side",
	"entry_should_enter",
	"exit_should_exit",
	"exit_reason",
	"position_stop_price",
	"skip_reason",
	"entry_side",
	"position_entry_price",
	"position_entry_ts_ms",
	"bar_close",
	"position_qty",
	"position_anchor_price",
	"cooldown_remaining_bars",
}

// TradeHeader is the column order of trades.csv.
var TradeHeader = []string{
	"run_id",
	"instrument",
	"granularity",
	"entry_ts_ms",
	"exit_ts_ms",
	"position_side",
	"entry_price",
	"exit_price",
	"stop_price",
	"exit_reason",
	"qty",
	"pnl",
}

const (
	decisionTSCol = 3
	tradeExitCol  = 4
)

func (r DecisionRow) record() []string {
	return []string{
		r.RunID,
		r.Instrument,
		r.Granularity.String(),
		strconv.FormatInt(r.TSMS, 10),
		string(r.PositionSide),
		strconv.FormatBool(r.EntryShouldEnter),
		strconv.FormatBool(r.ExitShouldExit),
		string(r.ExitReason),
		optFloat(r.PositionStopPrice),
		string(r.SkipReason),
		string(r.EntrySide),
		optFloat(r.PositionEntryPrice),
		optInt(r.PositionEntryTSMS),
		optFloat(r.BarClose),
		optFloat(r.PositionQty),
		optFloat(r.PositionAnchorPrice),
		strconv.Itoa(r.CooldownRemaining),
	}
}

func (r TradeRow) record() []string {
	return []string{
		r.RunID,
		r.Instrument,
		r.Granularity.String(),
		strconv.FormatInt(r.EntryTSMS, 10),
		strconv.FormatInt(r.ExitTSMS, 10),
		string(r.PositionSide),
		f(r.EntryPrice),
		f(r.ExitPrice),
		f(r.StopPrice),
		string(r.ExitReason),
		f(r.Qty),
		f(r.PnL),
	}
}

// encodeRecord renders one CSV line, newline included, so it can be written
// with a single call.
func encodeRecord(rec []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(rec); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeDecision(rec []string) (DecisionRow, error) {
	if len(rec) != len(DecisionHeader) {
		return DecisionRow{}, fmt.Errorf("decision row: want %d columns, got %d", len(DecisionHeader), len(rec))
	}

	var (
		r   DecisionRow
		err error
	)
	r.RunID = rec[0]
	r.Instrument = rec[1]
	r.Granularity = market.Granularity(rec[2])
	if r.TSMS, err = strconv.ParseInt(rec[3], 10, 64); err != nil {
		return r, fmt.Errorf("ts_ms %q: %w", rec[3], err)
	}
	if r.PositionSide, err = ParseSide(rec[4]); err != nil {
		return r, err
	}
	if r.EntryShouldEnter, err = strconv.ParseBool(rec[5]); err != nil {
		return r, fmt.Errorf("entry_should_enter %q: %w", rec[5], err)
	}
	if r.ExitShouldExit, err = strconv.ParseBool(rec[6]); err != nil {
		return r, fmt.Errorf("exit_should_exit %q: %w", rec[6], err)
	}
	if r.ExitReason, err = ParseExitReason(rec[7]); err != nil {
		return r, err
	}
	if r.PositionStopPrice, err = parseOptFloat(rec[8]); err != nil {
		return r, fmt.Errorf("position_stop_price: %w", err)
	}
	if r.SkipReason, err = ParseSkipReason(rec[9]); err != nil {
		return r, err
	}
	if rec[10] != "" {
		if r.EntrySide, err = ParseSide(rec[10]); err != nil {
			return r, err
		}
	}
	if r.PositionEntryPrice, err = parseOptFloat(rec[11]); err != nil {
		return r, fmt.Errorf("position_entry_price: %w", err)
	}
	if rec[12] != "" {
		ts, err := strconv.ParseInt(rec[12], 10, 64)
		if err != nil {
			return r, fmt.Errorf("position_entry_ts_ms %q: %w", rec[12], err)
		}
		r.PositionEntryTSMS = Some(ts)
	}
	if r.BarClose, err = parseOptFloat(rec[13]); err != nil {
		return r, fmt.Errorf("bar_close: %w", err)
	}
	if r.PositionQty, err = parseOptFloat(rec[14]); err != nil {
		return r, fmt.Errorf("position_qty: %w", err)
	}
	if r.PositionAnchorPrice, err = parseOptFloat(rec[15]); err != nil {
		return r, fmt.Errorf("position_anchor_price: %w", err)
	}
	if rec[16] != "" {
		if r.CooldownRemaining, err = strconv.Atoi(rec[16]); err != nil {
			return r, fmt.Errorf("cooldown_remaining_bars %q: %w", rec[16], err)
		}
	}
	return r, nil
}

func decodeTrade(rec []string) (TradeRow, error) {
	if len(rec) != len(TradeHeader) {
		return TradeRow{}, fmt.Errorf("trade row: want %d columns, got %d", len(TradeHeader), len(rec))
	}

	var (
		r   TradeRow
		err error
	)
	r.RunID = rec[0]
	r.Instrument = rec[1]
	r.Granularity = market.Granularity(rec[2])
	if r.EntryTSMS, err = strconv.ParseInt(rec[3], 10, 64); err != nil {
		return r, fmt.Errorf("entry_ts_ms %q: %w", rec[3], err)
	}
	if r.ExitTSMS, err = strconv.ParseInt(rec[4], 10, 64); err != nil {
		return r, fmt.Errorf("exit_ts_ms %q: %w", rec[4], err)
	}
	if r.PositionSide, err = ParseSide(rec[5]); err != nil {
		return r, err
	}
	floats := []*float64{&r.EntryPrice, &r.ExitPrice, &r.StopPrice}
	for i, dst := range floats {
		if *dst, err = strconv.ParseFloat(rec[6+i], 64); err != nil {
			return r, fmt.Errorf("%s %q: %w", TradeHeader[6+i], rec[6+i], err)
		}
	}
	if r.ExitReason, err = ParseExitReason(rec[9]); err != nil {
		return r, err
	}
	if r.Qty, err = strconv.ParseFloat(rec[10], 64); err != nil {
		return r, fmt.Errorf("qty %q: %w", rec[10], err)
	}
	if r.PnL, err = strconv.ParseFloat(rec[11], 64); err != nil {
		return r, fmt.Errorf("pnl %q: %w", rec[11], err)
	}
	return r, nil
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

func optFloat(o Optional[float64]) string {
	if !o.Valid {
		return ""
	}
	return f(o.Value)
}

func optInt(o Optional[int64]) string {
	if !o.Valid {
		return ""
	}
	return strconv.FormatInt(o.Value, 10)
}

func parseOptFloat(s string) (Optional[float64], error) {
	if s == "" {
		return Optional[float64]{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Optional[float64]{}, err
	}
	return Some(v), nil
}
