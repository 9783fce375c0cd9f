package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/parity/market"
)

// ADX is Wilder's Average Directional Index.
//
// It needs N periods (differences between bars) to seed the smoothed true
// range and directional movement, then N DX values to seed the ADX itself.
// Warmup reports 2N.
type ADX struct {
	n int

	prev    market.Bar
	hasPrev bool
	periods int
	ready   bool

	adx     float64
	plusDI  float64
	minusDI float64
	lastDX  float64

	// first N periods
	sumTR, sumPlusDM, sumMinusDM float64

	// Wilder smoothed
	smTR, smPlusDM, smMinusDM float64

	dxSum   float64
	dxCount int
}

func NewADX(period int) *ADX {
	if period <= 0 {
		panic("ADX period must be > 0")
	}
	return &ADX{n: period}
}

func (a *ADX) Name() string { return fmt.Sprintf("ADX(%d)", a.n) }
func (a *ADX) Warmup() int  { return 2 * a.n }
func (a *ADX) Ready() bool  { return a.ready }

func (a *ADX) Value() float64 {
	if !a.ready {
		return 0
	}
	return a.adx
}

func (a *ADX) PlusDI() float64  { return a.plusDI }
func (a *ADX) MinusDI() float64 { return a.minusDI }
func (a *ADX) DX() float64      { return a.lastDX }

func (a *ADX) Reset() {
	*a = ADX{n: a.n}
}

func (a *ADX) Update(b market.Bar) {
	if !a.hasPrev {
		a.prev = b
		a.hasPrev = true
		return
	}

	tr := TrueRange(b, a.prev.Close)
	up := b.High - a.prev.High
	down := a.prev.Low - b.Low

	var plusDM, minusDM float64
	if up > down && up > 0 {
		plusDM = up
	}
	if down > up && down > 0 {
		minusDM = down
	}
	a.prev = b
	a.periods++

	if a.periods <= a.n {
		a.sumTR += tr
		a.sumPlusDM += plusDM
		a.sumMinusDM += minusDM
		if a.periods == a.n {
			a.smTR, a.smPlusDM, a.smMinusDM = a.sumTR, a.sumPlusDM, a.sumMinusDM
			a.plusDI, a.minusDI = di(a.smPlusDM, a.smMinusDM, a.smTR)
			a.lastDX = dx(a.plusDI, a.minusDI)
			a.dxSum = a.lastDX
			a.dxCount = 1
		}
		return
	}

	nf := float64(a.n)
	a.smTR = a.smTR - a.smTR/nf + tr
	a.smPlusDM = a.smPlusDM - a.smPlusDM/nf + plusDM
	a.smMinusDM = a.smMinusDM - a.smMinusDM/nf + minusDM

	a.plusDI, a.minusDI = di(a.smPlusDM, a.smMinusDM, a.smTR)
	a.lastDX = dx(a.plusDI, a.minusDI)

	if !a.ready {
		a.dxSum += a.lastDX
		a.dxCount++
		if a.dxCount >= a.n {
			a.adx = a.dxSum / nf
			a.ready = true
		}
		return
	}
	a.adx = (a.adx*(nf-1) + a.lastDX) / nf
}

func di(smPlusDM, smMinusDM, smTR float64) (float64, float64) {
	if smTR <= 0 {
		return 0, 0
	}
	return 100 * smPlusDM / smTR, 100 * smMinusDM / smTR
}

func dx(plusDI, minusDI float64) float64 {
	den := plusDI + minusDI
	if den <= 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / den
}
