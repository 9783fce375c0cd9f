// Package engine steps a strategy one closed bar at a time and turns its
// signals into decision and trade rows. Live and replay share it so that
// both produce the same lifecycle for the same bars.
package engine

import (
	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/market"
	"github.com/rustyeddy/parity/risk"
	"github.com/rustyeddy/parity/strategy"
)

// WarmupMargin is added to the strategy warmup to get the default lookback.
const WarmupMargin = 5

type Config struct {
	// Lookback is how many bars each decision sees, current bar included.
	Lookback     int
	CooldownBars int
	Fill         FillModel

	Sizing risk.SizeInputs
}

// StepOptions control one step.
type StepOptions struct {
	// AllowEntries false turns would-be entries into skips.
	AllowEntries bool
	// EntryBlockReason is the skip reason used when entries are blocked.
	// Defaults to halted.
	EntryBlockReason ledger.SkipReason
}

// Outcome is what one bar produced. Rows carry no run fields; the ledger
// writer stamps them.
type Outcome struct {
	Decision ledger.DecisionRow
	Trade    *ledger.TradeRow
	State    strategy.MarketState
}

type Engine struct {
	strat    strategy.Strategy
	cfg      Config
	window   []market.Bar
	pos      strategy.Position
	cooldown int
}

func New(strat strategy.Strategy, cfg Config) *Engine {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback(strat)
	}
	if cfg.Fill == nil {
		cfg.Fill = ExactStopFill{}
	}
	if cfg.Sizing.FixedQty == 0 {
		cfg.Sizing.FixedQty = 1
	}
	return &Engine{
		strat:  strat,
		cfg:    cfg,
		window: make([]market.Bar, 0, cfg.Lookback),
		pos:    strategy.Position{Side: ledger.Flat},
	}
}

// DefaultLookback is the strategy warmup plus WarmupMargin.
func DefaultLookback(strat strategy.Strategy) int {
	return strat.Warmup() + WarmupMargin
}

func (e *Engine) Lookback() int               { return e.cfg.Lookback }
func (e *Engine) Position() strategy.Position { return e.pos }
func (e *Engine) Cooldown() int               { return e.cooldown }

// Prime adds a bar to the lookback window without deciding anything.
func (e *Engine) Prime(b market.Bar) {
	e.push(b)
}

func (e *Engine) push(b market.Bar) {
	if len(e.window) == e.cfg.Lookback {
		copy(e.window, e.window[1:])
		e.window = e.window[:len(e.window)-1]
	}
	e.window = append(e.window, b)
}

// state recomputes the strategy over the window so that a decision depends
// only on the bars inside it.
func (e *Engine) state() strategy.MarketState {
	e.strat.Reset()
	var st strategy.MarketState
	for _, b := range e.window {
		st = e.strat.Update(b)
	}
	return st
}

// Step decides bar b. Stops are checked before strategy exits, and exits
// before entries; a bar that closes a position never opens one.
func (e *Engine) Step(b market.Bar, opts StepOptions) Outcome {
	e.push(b)
	st := e.state()

	out := Outcome{
		State: st,
		Decision: ledger.DecisionRow{
			TSMS:         b.CloseMS,
			PositionSide: ledger.Flat,
			BarClose:     ledger.Some(b.Close),
		},
	}

	if e.pos.Open() {
		e.manage(b, st, &out)
	} else {
		e.consider(b, st, opts, &out)
	}
	out.Decision.CooldownRemaining = e.cooldown
	return out
}

func (e *Engine) manage(b market.Bar, st strategy.MarketState, out *Outcome) {
	var (
		reason ledger.ExitReason
		price  float64
	)
	switch x := e.strat.Exit(e.pos, st); {
	case e.pos.StopHit(b):
		reason, price = ledger.ExitStopHit, e.cfg.Fill.StopFill(e.pos, b)
	case x.Exit:
		reason, price = x.Reason, b.Close
	default:
		if st.Ready {
			e.pos.Stop, e.pos.Anchor = e.strat.TrailStop(e.pos, st)
		}
		e.describe(&out.Decision)
		return
	}

	e.describe(&out.Decision)
	out.Decision.ExitShouldExit = true
	out.Decision.ExitReason = reason
	out.Trade = &ledger.TradeRow{
		EntryTSMS:    e.pos.EntryTSMS,
		ExitTSMS:     b.CloseMS,
		PositionSide: e.pos.Side,
		EntryPrice:   e.pos.EntryPrice,
		ExitPrice:    price,
		StopPrice:    e.pos.Stop,
		ExitReason:   reason,
		Qty:          e.pos.Qty,
		PnL:          (price - e.pos.EntryPrice) * e.pos.Qty * e.pos.Side.Sign(),
	}

	e.pos = strategy.Position{Side: ledger.Flat}
	e.cooldown = e.cfg.CooldownBars
}

func (e *Engine) consider(b market.Bar, st strategy.MarketState, opts StepOptions, out *Outcome) {
	d := &out.Decision

	switch {
	case !st.Ready:
		d.SkipReason = ledger.SkipWarmup
	case e.cooldown > 0:
		d.SkipReason = ledger.SkipCooldown
		e.cooldown--
	case !st.Tradable:
		d.SkipReason = ledger.SkipNotTradable
	}
	if d.IsSkip() {
		return
	}

	sig := e.strat.Entry(st)
	if !sig.Enter {
		d.SkipReason = ledger.SkipNoSignal
		return
	}
	if !opts.AllowEntries {
		d.SkipReason = opts.EntryBlockReason
		if d.SkipReason == ledger.NoSkip {
			d.SkipReason = ledger.SkipHalted
		}
		return
	}

	stop := e.strat.InitialStop(sig.Side, b.Close, st)
	sizing := e.cfg.Sizing
	sizing.Entry, sizing.Stop = b.Close, stop
	qty := risk.Size(sizing)
	if qty <= 0 {
		d.SkipReason = ledger.SkipNotTradable
		return
	}

	anchor := b.High
	if sig.Side == ledger.Short {
		anchor = b.Low
	}
	e.pos = strategy.Position{
		Side:       sig.Side,
		EntryPrice: b.Close,
		EntryTSMS:  b.CloseMS,
		Stop:       stop,
		Anchor:     anchor,
		Qty:        qty,
	}
	d.EntryShouldEnter = true
	e.describe(d)
}

// describe copies the open position onto d.
func (e *Engine) describe(d *ledger.DecisionRow) {
	d.PositionSide = e.pos.Side
	d.EntrySide = e.pos.Side
	d.PositionStopPrice = ledger.Some(e.pos.Stop)
	d.PositionEntryPrice = ledger.Some(e.pos.EntryPrice)
	d.PositionEntryTSMS = ledger.Some(e.pos.EntryTSMS)
	d.PositionQty = ledger.Some(e.pos.Qty)
	d.PositionAnchorPrice = ledger.Some(e.pos.Anchor)
}

// Checkpoint is the position state before a step.
type Checkpoint struct {
	pos      strategy.Position
	cooldown int
}

func (e *Engine) Checkpoint() Checkpoint {
	return Checkpoint{pos: e.pos, cooldown: e.cooldown}
}

// Rollback undoes the position and cooldown changes made since cp was taken.
// Bars stepped since then stay in the lookback window as if primed.
func (e *Engine) Rollback(cp Checkpoint) {
	e.pos, e.cooldown = cp.pos, cp.cooldown
}

// SkipRow is the decision row for a bar the engine never saw, such as one
// whose fetch failed. The open position is carried unchanged.
func (e *Engine) SkipRow(tsMS int64, reason ledger.SkipReason) ledger.DecisionRow {
	d := ledger.DecisionRow{
		TSMS:              tsMS,
		PositionSide:      ledger.Flat,
		SkipReason:        reason,
		CooldownRemaining: e.cooldown,
	}
	if e.pos.Open() {
		e.describe(&d)
	}
	return d
}

// Restore rebuilds position and cooldown from the last decision row of a
// run. A row that exited, or was flat, leaves the engine flat.
func (e *Engine) Restore(row ledger.DecisionRow) {
	e.cooldown = row.CooldownRemaining
	e.pos = strategy.Position{Side: ledger.Flat}
	if row.PositionSide == ledger.Flat || row.ExitShouldExit {
		return
	}
	e.pos = strategy.Position{
		Side:       row.PositionSide,
		EntryPrice: row.PositionEntryPrice.Value,
		EntryTSMS:  row.PositionEntryTSMS.Value,
		Stop:       row.PositionStopPrice.Value,
		Anchor:     row.PositionAnchorPrice.Value,
		Qty:        row.PositionQty.Value,
	}
}
