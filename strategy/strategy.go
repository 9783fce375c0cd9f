// Package strategy holds the per-bar decision logic shared by live and
// replay. Implementations must be deterministic: the same bars in the same
// order always yield the same states and signals.
package strategy

import (
	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/market"
)

type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

type Volatility string

const (
	VolLow    Volatility = "low"
	VolNormal Volatility = "normal"
	VolHigh   Volatility = "high"
)

// MarketState is the strategy's view after consuming a bar.
type MarketState struct {
	TSMS  int64
	Close float64
	High  float64
	Low   float64

	Ready      bool
	Tradable   bool
	Trend      Trend
	Volatility Volatility

	EMASpread float64
	ATR       float64
	ATRPct    float64
	// ADX is zero when the strategy does not track it.
	ADX float64

	Reason string
}

// Position is an open position as the strategy sees it.
type Position struct {
	Side       ledger.Side
	EntryPrice float64
	EntryTSMS  int64
	Stop       float64
	// Anchor is the best price since entry; trailing stops hang off it.
	Anchor float64
	Qty    float64
}

func (p Position) Open() bool { return p.Side == ledger.Long || p.Side == ledger.Short }

// StopHit reports whether b traded through the stop.
func (p Position) StopHit(b market.Bar) bool {
	switch p.Side {
	case ledger.Long:
		return b.Low <= p.Stop
	case ledger.Short:
		return b.High >= p.Stop
	}
	return false
}

type EntrySignal struct {
	Enter bool
	Side  ledger.Side
}

type ExitSignal struct {
	Exit   bool
	Reason ledger.ExitReason
}

// Strategy is the decision logic contract.
type Strategy interface {
	Name() string

	// Warmup is the number of bars needed before states are Ready.
	Warmup() int

	Reset()

	// Update consumes the next closed bar.
	Update(b market.Bar) MarketState

	Entry(s MarketState) EntrySignal
	Exit(pos Position, s MarketState) ExitSignal

	InitialStop(side ledger.Side, entry float64, s MarketState) float64
	// TrailStop returns the new stop and anchor. Stops only ever tighten.
	TrailStop(pos Position, s MarketState) (stop, anchor float64)
}
