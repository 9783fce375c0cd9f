package strategy

import (
	"fmt"
	"math"

	"github.com/rustyeddy/parity/indicators"
	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/market"
)

// TrendATRConfig holds thresholds tuned for 5m crypto bars.
type TrendATRConfig struct {
	FastPeriod int `yaml:"fast_period" json:"fast_period" mapstructure:"fast_period"`
	SlowPeriod int `yaml:"slow_period" json:"slow_period" mapstructure:"slow_period"`
	ATRPeriod  int `yaml:"atr_period" json:"atr_period" mapstructure:"atr_period"`

	// EMA spread is (fast-slow)/slow.
	TrendUpSpread   float64 `yaml:"trend_up_spread" json:"trend_up_spread" mapstructure:"trend_up_spread"`
	TrendDownSpread float64 `yaml:"trend_down_spread" json:"trend_down_spread" mapstructure:"trend_down_spread"`
	FlatSpreadBand  float64 `yaml:"flat_spread_band" json:"flat_spread_band" mapstructure:"flat_spread_band"`

	// ATR% is ATR/close.
	VolLowMax  float64 `yaml:"vol_low_max" json:"vol_low_max" mapstructure:"vol_low_max"`
	VolHighMin float64 `yaml:"vol_high_min" json:"vol_high_min" mapstructure:"vol_high_min"`

	ATRMult float64 `yaml:"atr_mult" json:"atr_mult" mapstructure:"atr_mult"`

	// ADXMin > 0 allows entries only while ADX(ADXPeriod) is at least ADXMin.
	// A zero ADXPeriod leaves ADX out entirely.
	ADXPeriod int     `yaml:"adx_period" json:"adx_period" mapstructure:"adx_period"`
	ADXMin    float64 `yaml:"adx_min" json:"adx_min" mapstructure:"adx_min"`
}

func DefaultTrendATRConfig() TrendATRConfig {
	return TrendATRConfig{
		FastPeriod:      20,
		SlowPeriod:      50,
		ATRPeriod:       14,
		TrendUpSpread:   0.0010,
		TrendDownSpread: -0.0010,
		FlatSpreadBand:  0.0007,
		VolLowMax:       0.0015,
		VolHighMin:      0.0030,
		ATRMult:         2.0,
	}
}

func (c TrendATRConfig) Validate() error {
	if c.FastPeriod <= 0 || c.SlowPeriod <= 0 || c.ATRPeriod <= 0 {
		return fmt.Errorf("strategy periods must be positive")
	}
	if c.FastPeriod >= c.SlowPeriod {
		return fmt.Errorf("strategy fast_period (%d) must be < slow_period (%d)", c.FastPeriod, c.SlowPeriod)
	}
	if c.ATRMult <= 0 {
		return fmt.Errorf("strategy atr_mult must be > 0")
	}
	if c.VolLowMax > c.VolHighMin {
		return fmt.Errorf("strategy vol_low_max must be <= vol_high_min")
	}
	if c.ADXPeriod < 0 || c.ADXMin < 0 || c.ADXMin > 100 {
		return fmt.Errorf("strategy adx_period must be >= 0 and adx_min within [0,100]")
	}
	if c.ADXMin > 0 && c.ADXPeriod == 0 {
		return fmt.Errorf("strategy adx_min needs adx_period")
	}
	return nil
}

// TrendATR trades with the EMA trend and stays out when ATR% is high.
type TrendATR struct {
	cfg  TrendATRConfig
	fast *indicators.ExponentialMA
	slow *indicators.ExponentialMA
	atr  *indicators.ATR
	// adx is nil when ADXPeriod is zero.
	adx *indicators.ADX
}

var _ Strategy = (*TrendATR)(nil)

func NewTrendATR(cfg TrendATRConfig) *TrendATR {
	s := &TrendATR{
		cfg:  cfg,
		fast: indicators.NewEMA(cfg.FastPeriod),
		slow: indicators.NewEMA(cfg.SlowPeriod),
		atr:  indicators.NewATR(cfg.ATRPeriod),
	}
	if cfg.ADXPeriod > 0 {
		s.adx = indicators.NewADX(cfg.ADXPeriod)
	}
	return s
}

func (s *TrendATR) Name() string {
	if s.cfg.ADXMin > 0 {
		return fmt.Sprintf("trend_atr(%d,%d,%d,adx%d>=%g)", s.cfg.FastPeriod, s.cfg.SlowPeriod, s.cfg.ATRPeriod, s.cfg.ADXPeriod, s.cfg.ADXMin)
	}
	return fmt.Sprintf("trend_atr(%d,%d,%d)", s.cfg.FastPeriod, s.cfg.SlowPeriod, s.cfg.ATRPeriod)
}

func (s *TrendATR) Warmup() int {
	w := max(s.slow.Warmup(), s.fast.Warmup(), s.atr.Warmup())
	if s.adx != nil {
		w = max(w, s.adx.Warmup())
	}
	return w
}

func (s *TrendATR) Reset() {
	s.fast.Reset()
	s.slow.Reset()
	s.atr.Reset()
	if s.adx != nil {
		s.adx.Reset()
	}
}

func (s *TrendATR) Update(b market.Bar) MarketState {
	s.fast.Update(b)
	s.slow.Update(b)
	s.atr.Update(b)
	if s.adx != nil {
		s.adx.Update(b)
	}

	st := MarketState{
		TSMS:       b.CloseMS,
		Close:      b.Close,
		High:       b.High,
		Low:        b.Low,
		Trend:      TrendFlat,
		Volatility: VolNormal,
	}
	if !s.fast.Ready() || !s.slow.Ready() || !s.atr.Ready() || (s.adx != nil && !s.adx.Ready()) {
		st.Reason = "warmup"
		return st
	}
	st.Ready = true
	if s.adx != nil {
		st.ADX = s.adx.Value()
	}

	slow := s.slow.Value()
	if slow != 0 {
		st.EMASpread = (s.fast.Value() - slow) / slow
	}
	st.ATR = s.atr.Value()
	if b.Close != 0 {
		st.ATRPct = st.ATR / b.Close
	}
	st.Trend = s.classifyTrend(st.EMASpread)
	st.Volatility = s.classifyVol(st.ATRPct)

	if st.Volatility == VolHigh {
		st.Reason = fmt.Sprintf("volatility_high atr_pct=%.6f", st.ATRPct)
		return st
	}
	st.Tradable = true
	return st
}

// The flat band wins over the trend thresholds to limit flip-flopping.
func (s *TrendATR) classifyTrend(spread float64) Trend {
	switch {
	case math.Abs(spread) <= s.cfg.FlatSpreadBand:
		return TrendFlat
	case spread >= s.cfg.TrendUpSpread:
		return TrendUp
	case spread <= s.cfg.TrendDownSpread:
		return TrendDown
	}
	return TrendFlat
}

func (s *TrendATR) classifyVol(atrPct float64) Volatility {
	switch {
	case atrPct <= s.cfg.VolLowMax:
		return VolLow
	case atrPct >= s.cfg.VolHighMin:
		return VolHigh
	}
	return VolNormal
}

// Entry follows the trend. A weak ADX blocks entries but never forces exits.
func (s *TrendATR) Entry(st MarketState) EntrySignal {
	if !st.Tradable {
		return EntrySignal{}
	}
	if s.cfg.ADXMin > 0 && st.ADX < s.cfg.ADXMin {
		return EntrySignal{}
	}
	switch st.Trend {
	case TrendUp:
		return EntrySignal{Enter: true, Side: ledger.Long}
	case TrendDown:
		return EntrySignal{Enter: true, Side: ledger.Short}
	}
	return EntrySignal{}
}

func (s *TrendATR) Exit(pos Position, st MarketState) ExitSignal {
	if !st.Tradable {
		return ExitSignal{Exit: true, Reason: ledger.ExitNotTradable}
	}
	if (pos.Side == ledger.Long && st.Trend == TrendDown) ||
		(pos.Side == ledger.Short && st.Trend == TrendUp) {
		return ExitSignal{Exit: true, Reason: ledger.ExitTrendReversal}
	}
	return ExitSignal{}
}

func (s *TrendATR) InitialStop(side ledger.Side, entry float64, st MarketState) float64 {
	return entry - side.Sign()*s.cfg.ATRMult*st.ATR
}

func (s *TrendATR) TrailStop(pos Position, st MarketState) (float64, float64) {
	dist := s.cfg.ATRMult * st.ATR
	switch pos.Side {
	case ledger.Long:
		anchor := math.Max(pos.Anchor, st.High)
		return math.Max(pos.Stop, anchor-dist), anchor
	case ledger.Short:
		anchor := pos.Anchor
		if anchor == 0 || st.Low < anchor {
			anchor = st.Low
		}
		return math.Min(pos.Stop, anchor+dist), anchor
	}
	return pos.Stop, pos.Anchor
}
