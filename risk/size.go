package risk

import "math"

// SizeInputs describe one entry for position sizing.
type SizeInputs struct {
	Equity  float64 // account equity in quote currency
	RiskPct float64 // 0.005 = risk half a percent of equity per trade
	Entry   float64
	Stop    float64

	// LotStep rounds the quantity down to a multiple of itself when > 0.
	LotStep float64
	// MaxQty caps the quantity when > 0.
	MaxQty float64
	// FixedQty is used when Equity or RiskPct is unset.
	FixedQty float64
}

// Size returns risk amount / stop distance, rounded and capped. A zero stop
// distance sizes to zero.
func Size(in SizeInputs) float64 {
	qty := in.FixedQty
	if in.Equity > 0 && in.RiskPct > 0 {
		dist := math.Abs(in.Entry - in.Stop)
		if dist == 0 {
			return 0
		}
		qty = in.Equity * in.RiskPct / dist
	}
	if in.LotStep > 0 {
		qty = math.Floor(qty/in.LotStep) * in.LotStep
	}
	if in.MaxQty > 0 && qty > in.MaxQty {
		qty = in.MaxQty
	}
	return math.Max(qty, 0)
}

// PlannedRisk is the loss in quote currency if the stop is hit.
func PlannedRisk(qty, entry, stop float64) float64 {
	return qty * math.Abs(entry-stop)
}
