// Package indicators provides streaming technical indicators over closed bars.
package indicators

import "github.com/rustyeddy/parity/market"

// Indicator computes a single streaming value from bars.
// It is deterministic and safe to use in live and replay.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next closed bar.
	Update(b market.Bar)

	// Ready reports whether Value() is meaningful.
	Ready() bool

	// Value returns 0 until Ready.
	Value() float64
}

// Feed updates ind with every bar and returns the final value.
func Feed(ind Indicator, bars []market.Bar) float64 {
	for _, b := range bars {
		ind.Update(b)
	}
	return ind.Value()
}
