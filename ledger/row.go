package ledger

import (
	"fmt"

	"github.com/rustyeddy/parity/market"
)

// Side is the position state recorded on a decision row.
type Side string

const (
	Flat  Side = "FLAT"
	Long  Side = "LONG"
	Short Side = "SHORT"
)

func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case Flat, Long, Short:
		return Side(s), nil
	}
	return "", fmt.Errorf("position_side invalid: %q", s)
}

// Sign is +1 for LONG, -1 for SHORT and 0 for FLAT.
func (s Side) Sign() float64 {
	switch s {
	case Long:
		return 1
	case Short:
		return -1
	}
	return 0
}

// SkipReason explains a decision row that took no trading action.
// NoSkip is the empty variant.
type SkipReason string

const (
	NoSkip            SkipReason = ""
	SkipWarmup        SkipReason = "warmup"
	SkipNotTradable   SkipReason = "not_tradable"
	SkipHalted        SkipReason = "halted"
	SkipCooldown      SkipReason = "cooldown"
	SkipFetchFailed   SkipReason = "fetch_failed"
	SkipPersistFailed SkipReason = "persist_failed"
	SkipNoSignal      SkipReason = "no_signal"
)

func ParseSkipReason(s string) (SkipReason, error) {
	switch r := SkipReason(s); r {
	case NoSkip, SkipWarmup, SkipNotTradable, SkipHalted, SkipCooldown,
		SkipFetchFailed, SkipPersistFailed, SkipNoSignal:
		return r, nil
	}
	return "", fmt.Errorf("skip_reason invalid: %q", s)
}

// ExitReason explains why a position was closed. NoExit is the empty variant.
type ExitReason string

const (
	NoExit            ExitReason = ""
	ExitStopHit       ExitReason = "stop_hit"
	ExitNotTradable   ExitReason = "not_tradable"
	ExitTrendReversal ExitReason = "trend_reversal"
)

func ParseExitReason(s string) (ExitReason, error) {
	switch r := ExitReason(s); r {
	case NoExit, ExitStopHit, ExitNotTradable, ExitTrendReversal:
		return r, nil
	}
	return "", fmt.Errorf("exit_reason invalid: %q", s)
}

// Optional is a nullable column. The zero value is absent.
type Optional[T any] struct {
	Value T
	Valid bool
}

func Some[T any](v T) Optional[T] { return Optional[T]{Value: v, Valid: true} }

// DecisionRow is one row of the decision log. Exactly one is written per
// closed bar processed by a run.
type DecisionRow struct {
	RunID       string
	Instrument  string
	Granularity market.Granularity
	TSMS        int64

	PositionSide      Side
	EntryShouldEnter  bool
	ExitShouldExit    bool
	ExitReason        ExitReason
	PositionStopPrice Optional[float64]
	SkipReason        SkipReason

	EntrySide          Side
	PositionEntryPrice Optional[float64]
	PositionEntryTSMS  Optional[int64]
	BarClose           Optional[float64]

	// Restart state: a restarted live driver rebuilds its position and
	// cooldown from these.
	PositionQty         Optional[float64]
	PositionAnchorPrice Optional[float64]
	CooldownRemaining   int
}

// IsSkip reports whether the row carries a skip reason.
func (r DecisionRow) IsSkip() bool { return r.SkipReason != NoSkip }

// Kind is a short label for metrics and logs: the skip reason, "entry",
// "exit" or "hold".
func (r DecisionRow) Kind() string {
	switch {
	case r.EntryShouldEnter:
		return "entry"
	case r.ExitShouldExit:
		return "exit"
	case r.IsSkip():
		return string(r.SkipReason)
	}
	return "hold"
}

// TradeRow is written once, when a position closes.
type TradeRow struct {
	RunID       string
	Instrument  string
	Granularity market.Granularity

	EntryTSMS    int64
	ExitTSMS     int64
	PositionSide Side
	EntryPrice   float64
	ExitPrice    float64
	StopPrice    float64
	ExitReason   ExitReason
	Qty          float64
	PnL          float64
}
