package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/market"
	"github.com/rustyeddy/parity/strategy"
)

const step = int64(300000)

// scripted reads its trend from bar volume: 1 up, -1 down, 0 flat, 9 not
// tradable. It is ready after two bars and uses a fixed stop distance of 2.
type scripted struct{ n int }

func (s *scripted) Name() string { return "scripted" }
func (s *scripted) Warmup() int  { return 2 }
func (s *scripted) Reset()       { s.n = 0 }

func (s *scripted) Update(b market.Bar) strategy.MarketState {
	s.n++
	st := strategy.MarketState{TSMS: b.CloseMS, Close: b.Close, High: b.High, Low: b.Low, Trend: strategy.TrendFlat, ATR: 1}
	if s.n < 2 {
		return st
	}
	st.Ready = true
	st.Tradable = b.Volume != 9
	switch b.Volume {
	case 1:
		st.Trend = strategy.TrendUp
	case -1:
		st.Trend = strategy.TrendDown
	}
	return st
}

func (s *scripted) Entry(st strategy.MarketState) strategy.EntrySignal {
	if !st.Tradable {
		return strategy.EntrySignal{}
	}
	switch st.Trend {
	case strategy.TrendUp:
		return strategy.EntrySignal{Enter: true, Side: ledger.Long}
	case strategy.TrendDown:
		return strategy.EntrySignal{Enter: true, Side: ledger.Short}
	}
	return strategy.EntrySignal{}
}

func (s *scripted) Exit(pos strategy.Position, st strategy.MarketState) strategy.ExitSignal {
	if !st.Tradable {
		return strategy.ExitSignal{Exit: true, Reason: ledger.ExitNotTradable}
	}
	if pos.Side == ledger.Long && st.Trend == strategy.TrendDown {
		return strategy.ExitSignal{Exit: true, Reason: ledger.ExitTrendReversal}
	}
	return strategy.ExitSignal{}
}

func (s *scripted) InitialStop(side ledger.Side, entry float64, _ strategy.MarketState) float64 {
	return entry - side.Sign()*2
}

func (s *scripted) TrailStop(pos strategy.Position, st strategy.MarketState) (float64, float64) {
	if pos.Side == ledger.Long && st.High > pos.Anchor {
		return max(pos.Stop, st.High-2), st.High
	}
	return pos.Stop, pos.Anchor
}

func mk(i int64, open, high, low, close, trend float64) market.Bar {
	return market.Bar{Instrument: "BTC/USD", Granularity: "5m", CloseMS: i * step, Open: open, High: high, Low: low, Close: close, Volume: trend}
}

var allow = StepOptions{AllowEntries: true}

func TestStep_WarmupThenEntry(t *testing.T) {
	t.Parallel()

	e := New(&scripted{}, Config{})
	assert.Equal(t, 7, e.Lookback())

	out := e.Step(mk(1, 100, 101, 99, 100, 1), allow)
	assert.Equal(t, ledger.SkipWarmup, out.Decision.SkipReason)
	assert.Equal(t, ledger.Flat, out.Decision.PositionSide)

	out = e.Step(mk(2, 100, 101, 99, 100, 1), allow)
	d := out.Decision
	assert.True(t, d.EntryShouldEnter)
	assert.Equal(t, ledger.Long, d.PositionSide)
	assert.Equal(t, ledger.NoSkip, d.SkipReason)
	assert.Equal(t, ledger.Some(98.0), d.PositionStopPrice)
	assert.Equal(t, ledger.Some(2*step), d.PositionEntryTSMS)
	assert.Equal(t, ledger.Some(1.0), d.PositionQty)
	assert.Nil(t, out.Trade)
}

func TestStep_StopFillModels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		fill  FillModel
		price float64
	}{
		{"exact", ExactStopFill{}, 98},
		{"gap through", GapThroughFill{}, 95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := New(&scripted{}, Config{Fill: tt.fill})
			e.Step(mk(1, 100, 101, 99, 100, 1), allow)
			e.Step(mk(2, 100, 100, 99, 100, 1), allow)

			// Opens below the stop at 98.
			out := e.Step(mk(3, 95, 96, 94, 95.5, 1), allow)
			d := out.Decision
			assert.True(t, d.ExitShouldExit)
			assert.Equal(t, ledger.ExitStopHit, d.ExitReason)
			assert.Equal(t, ledger.Long, d.PositionSide)

			require.NotNil(t, out.Trade)
			assert.Equal(t, tt.price, out.Trade.ExitPrice)
			assert.Equal(t, 2*step, out.Trade.EntryTSMS)
			assert.Equal(t, 3*step, out.Trade.ExitTSMS)
			assert.InDelta(t, tt.price-100, out.Trade.PnL, 1e-9)
			assert.False(t, e.Position().Open())
		})
	}
}

func TestStep_ReversalAndCooldown(t *testing.T) {
	t.Parallel()

	e := New(&scripted{}, Config{CooldownBars: 2})
	e.Step(mk(1, 100, 101, 99, 100, 1), allow)
	e.Step(mk(2, 100, 101, 99, 100, 1), allow)

	out := e.Step(mk(3, 100, 103, 99.5, 102, -1), allow)
	assert.True(t, out.Decision.ExitShouldExit)
	assert.Equal(t, ledger.ExitTrendReversal, out.Decision.ExitReason)
	assert.False(t, out.Decision.EntryShouldEnter, "no re-entry on the exit bar")
	require.NotNil(t, out.Trade)
	assert.Equal(t, 102.0, out.Trade.ExitPrice)
	assert.InDelta(t, 2.0, out.Trade.PnL, 1e-9)
	assert.Equal(t, 2, out.Decision.CooldownRemaining)

	out = e.Step(mk(4, 102, 103, 101, 102, -1), allow)
	assert.Equal(t, ledger.SkipCooldown, out.Decision.SkipReason)
	out = e.Step(mk(5, 102, 103, 101, 102, -1), allow)
	assert.Equal(t, ledger.SkipCooldown, out.Decision.SkipReason)
	assert.Equal(t, 0, out.Decision.CooldownRemaining)

	out = e.Step(mk(6, 102, 103, 101, 102, -1), allow)
	assert.True(t, out.Decision.EntryShouldEnter)
	assert.Equal(t, ledger.Short, out.Decision.PositionSide)
	assert.Equal(t, ledger.Some(104.0), out.Decision.PositionStopPrice)
}

func TestStep_BlockedEntriesStillExit(t *testing.T) {
	t.Parallel()

	e := New(&scripted{}, Config{})
	e.Step(mk(1, 100, 101, 99, 100, 1), allow)
	e.Step(mk(2, 100, 101, 99, 100, 1), allow)
	require.True(t, e.Position().Open())

	halted := StepOptions{AllowEntries: false}
	out := e.Step(mk(3, 100, 101, 99.5, 100, 9), halted)
	assert.True(t, out.Decision.ExitShouldExit)
	assert.Equal(t, ledger.ExitNotTradable, out.Decision.ExitReason)

	out = e.Step(mk(4, 100, 101, 99.5, 100, 1), halted)
	assert.False(t, out.Decision.EntryShouldEnter)
	assert.Equal(t, ledger.SkipHalted, out.Decision.SkipReason)

	out = e.Step(mk(5, 100, 101, 99.5, 100, 1), StepOptions{EntryBlockReason: ledger.SkipWarmup})
	assert.Equal(t, ledger.SkipWarmup, out.Decision.SkipReason)
}

func TestStep_TrailingStopTightens(t *testing.T) {
	t.Parallel()

	e := New(&scripted{}, Config{})
	e.Step(mk(1, 100, 101, 99, 100, 1), allow)
	e.Step(mk(2, 100, 101, 99, 100, 1), allow)

	out := e.Step(mk(3, 100, 105, 100, 104, 1), allow)
	assert.False(t, out.Decision.ExitShouldExit)
	assert.Equal(t, ledger.Some(103.0), out.Decision.PositionStopPrice)
	assert.Equal(t, ledger.Some(105.0), out.Decision.PositionAnchorPrice)

	out = e.Step(mk(4, 104, 104.5, 102.5, 103, 1), allow)
	assert.True(t, out.Decision.ExitShouldExit)
	assert.Equal(t, ledger.ExitStopHit, out.Decision.ExitReason)
	assert.Equal(t, 103.0, out.Trade.ExitPrice)
}

func TestRestore(t *testing.T) {
	t.Parallel()

	a := New(&scripted{}, Config{})
	a.Step(mk(1, 100, 101, 99, 100, 1), allow)
	last := a.Step(mk(2, 100, 101, 99, 100, 1), allow).Decision

	b := New(&scripted{}, Config{})
	b.Prime(mk(1, 100, 101, 99, 100, 1))
	b.Prime(mk(2, 100, 101, 99, 100, 1))
	b.Restore(last)
	assert.Equal(t, a.Position(), b.Position())

	next := mk(3, 100, 103, 99.5, 102, -1)
	assert.Equal(t, a.Step(next, allow), b.Step(next, allow))

	b.Restore(ledger.DecisionRow{PositionSide: ledger.Long, ExitShouldExit: true, CooldownRemaining: 3})
	assert.False(t, b.Position().Open())
	assert.Equal(t, 3, b.Cooldown())
}

func TestLookbackMakesStateIndependentOfHistory(t *testing.T) {
	t.Parallel()

	var long []market.Bar
	for i := int64(1); i <= 20; i++ {
		long = append(long, mk(i, 100, 101, 99, 100, 0))
	}

	a := New(&scripted{}, Config{Lookback: 3})
	for _, b := range long {
		a.Prime(b)
	}
	bb := New(&scripted{}, Config{Lookback: 3})
	for _, b := range long[len(long)-3:] {
		bb.Prime(b)
	}

	next := mk(21, 100, 101, 99, 100, 1)
	assert.Equal(t, a.Step(next, allow), bb.Step(next, allow))
}

func TestSkipRowCarriesPosition(t *testing.T) {
	t.Parallel()

	e := New(&scripted{}, Config{})
	row := e.SkipRow(5*step, ledger.SkipFetchFailed)
	assert.Equal(t, ledger.Flat, row.PositionSide)
	assert.False(t, row.PositionStopPrice.Valid)

	e.Step(mk(1, 100, 101, 99, 100, 1), allow)
	e.Step(mk(2, 100, 101, 99, 100, 1), allow)
	row = e.SkipRow(3*step, ledger.SkipFetchFailed)
	assert.Equal(t, ledger.Long, row.PositionSide)
	assert.Equal(t, ledger.SkipFetchFailed, row.SkipReason)
	assert.Equal(t, ledger.Some(98.0), row.PositionStopPrice)
	assert.False(t, row.BarClose.Valid)

	// A restart from this row keeps the position.
	r := New(&scripted{}, Config{})
	r.Restore(row)
	assert.Equal(t, e.Position(), r.Position())
}

func TestRollbackUndoesStep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cooldown int
	}{
		{"entry", 0},
		{"cooldown tick", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := New(&scripted{}, Config{})
			e.Step(mk(1, 100, 101, 99, 100, 1), allow)
			e.Restore(ledger.DecisionRow{TSMS: step, PositionSide: ledger.Flat, CooldownRemaining: tt.cooldown})
			before, cd := e.Position(), e.Cooldown()

			cp := e.Checkpoint()
			e.Step(mk(2, 100, 101, 99, 100, 1), allow)
			e.Rollback(cp)
			assert.Equal(t, before, e.Position())
			assert.Equal(t, cd, e.Cooldown())

			row := e.SkipRow(2*step, ledger.SkipPersistFailed)
			assert.Equal(t, ledger.Flat, row.PositionSide)
			assert.False(t, row.EntryShouldEnter)
		})
	}

	t.Run("exit is undone and retried", func(t *testing.T) {
		t.Parallel()
		e := New(&scripted{}, Config{})
		e.Step(mk(1, 100, 101, 99, 100, 1), allow)
		e.Step(mk(2, 100, 101, 99, 100, 1), allow)

		cp := e.Checkpoint()
		out := e.Step(mk(3, 100, 103, 99.5, 102, -1), allow)
		require.NotNil(t, out.Trade)
		e.Rollback(cp)
		require.True(t, e.Position().Open())
		assert.Equal(t, 2*step, e.Position().EntryTSMS)

		out = e.Step(mk(4, 102, 103, 101, 102, -1), allow)
		require.NotNil(t, out.Trade)
		assert.Equal(t, 2*step, out.Trade.EntryTSMS)
		assert.Equal(t, 4*step, out.Trade.ExitTSMS)
	})
}
