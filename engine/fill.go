package engine

import (
	"math"

	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/market"
	"github.com/rustyeddy/parity/strategy"
)

// FillModel prices a stop exit on the bar that hit it.
type FillModel interface {
	StopFill(pos strategy.Position, b market.Bar) float64
}

// ExactStopFill fills at the stop price. The live loop uses it.
type ExactStopFill struct{}

func (ExactStopFill) StopFill(pos strategy.Position, _ market.Bar) float64 {
	return pos.Stop
}

// GapThroughFill fills at the bar open when the open is already through the
// stop, otherwise at the stop. Replay uses it. Only prices differ from
// ExactStopFill; the exit decision is the same.
type GapThroughFill struct{}

func (GapThroughFill) StopFill(pos strategy.Position, b market.Bar) float64 {
	switch pos.Side {
	case ledger.Long:
		return math.Min(b.Open, pos.Stop)
	case ledger.Short:
		return math.Max(b.Open, pos.Stop)
	}
	return pos.Stop
}
