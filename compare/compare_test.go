package compare

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/parity/ledger"
)

func flat(ts int64, skip ledger.SkipReason) ledger.DecisionRow {
	return ledger.DecisionRow{TSMS: ts, PositionSide: ledger.Flat, SkipReason: skip}
}

func entry(ts int64) ledger.DecisionRow {
	return ledger.DecisionRow{TSMS: ts, PositionSide: ledger.Long, EntryShouldEnter: true, EntrySide: ledger.Long,
		PositionStopPrice: ledger.Some(95.0)}
}

func exit(ts int64, reason ledger.ExitReason) ledger.DecisionRow {
	return ledger.DecisionRow{TSMS: ts, PositionSide: ledger.Long, ExitShouldExit: true, ExitReason: reason,
		PositionStopPrice: ledger.Some(95.0)}
}

func trade(entryTS, exitTS int64, reason ledger.ExitReason, pnl float64) ledger.TradeRow {
	return ledger.TradeRow{EntryTSMS: entryTS, ExitTSMS: exitTS, PositionSide: ledger.Long, ExitReason: reason,
		EntryPrice: 100, ExitPrice: 100 + pnl, PnL: pnl, Qty: 1}
}

func liveLedger() Ledger {
	return Ledger{
		RunID:     "coinbase",
		Decisions: []ledger.DecisionRow{flat(100, ledger.SkipNoSignal), entry(200), exit(300, ledger.ExitTrendReversal)},
		Trades:    []ledger.TradeRow{trade(200, 300, ledger.ExitTrendReversal, 2)},
	}
}

// replayLedger has two warmup rows before the live window and a different
// fill on the same trade.
func replayLedger() Ledger {
	return Ledger{
		RunID: "coinbase_bt_t1",
		Decisions: []ledger.DecisionRow{
			flat(-100, ledger.SkipWarmup), flat(0, ledger.SkipWarmup),
			flat(100, ledger.SkipNoSignal), entry(200), exit(300, ledger.ExitTrendReversal),
		},
		Trades: []ledger.TradeRow{trade(200, 300, ledger.ExitTrendReversal, 1.25)},
	}
}

func render(t *testing.T, r Report) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf))
	return buf.Bytes()
}

func TestCompare_Golden(t *testing.T) {
	t.Parallel()

	failing := replayLedger()
	failing.Decisions[4] = exit(300, ledger.ExitStopHit)
	failing.Trades[0].ExitReason = ledger.ExitStopHit

	disjoint := Ledger{RunID: "coinbase_bt_t1", Decisions: []ledger.DecisionRow{
		flat(400, ledger.SkipNoSignal), flat(500, ledger.SkipNoSignal),
	}}

	tests := []struct {
		name   string
		replay Ledger
		want   Status
	}{
		{"pass_with_warmup", replayLedger(), Pass},
		{"fail_exit_reason", failing, Fail},
		{"no_overlap", disjoint, NoOverlap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := Compare(liveLedger(), tt.replay, Options{})
			assert.Equal(t, tt.want, r.Overall)

			g := goldie.New(t,
				goldie.WithFixtureDir("testdata/golden"),
				goldie.WithNameSuffix(".golden"),
			)
			g.Assert(t, tt.name, render(t, r))
		})
	}
}

func TestCompare_WarmupRowsExcluded(t *testing.T) {
	t.Parallel()

	r := Compare(liveLedger(), replayLedger(), Options{})
	assert.Equal(t, Pass, r.Decisions)
	assert.Equal(t, Pass, r.Trades, "pnl differs but is not compared")
	assert.Equal(t, Span{Lo: 100, Hi: 300, Rows: 1}, r.Overlap)
	assert.Equal(t, 2, r.ReplayWarmupRows)
	assert.Equal(t, 3, r.Compared)
	assert.NoError(t, r.Err())
}

func TestCompare_SingleFieldFlipNamesTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		at    int
		flip  func(*ledger.DecisionRow)
		field string
	}{
		{"side", 2, func(d *ledger.DecisionRow) { d.PositionSide = ledger.Short }, "position_side"},
		{"enter", 3, func(d *ledger.DecisionRow) { d.EntryShouldEnter = false }, "entry_should_enter"},
		{"exit", 4, func(d *ledger.DecisionRow) { d.ExitShouldExit = false }, "exit_should_exit"},
		{"reason", 4, func(d *ledger.DecisionRow) { d.ExitReason = ledger.ExitNotTradable }, "exit_reason"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			replay := replayLedger()
			tt.flip(&replay.Decisions[tt.at])

			r := Compare(liveLedger(), replay, Options{})
			assert.Equal(t, Fail, r.Decisions)
			assert.Equal(t, Fail, r.Overall)
			require.NotNil(t, r.DecisionMismatch)
			assert.Equal(t, replay.Decisions[tt.at].TSMS, r.DecisionMismatch.TSMS)
			assert.Equal(t, []string{tt.field}, r.DecisionMismatch.Fields)

			var mm *LifecycleMismatchError
			require.ErrorAs(t, r.Err(), &mm)
			assert.ErrorIs(t, r.Err(), ErrLifecycleMismatch)
			assert.Equal(t, replay.Decisions[tt.at].TSMS, mm.TSMS)
		})
	}
}

func TestCompare_NoOverlap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		replay Ledger
	}{
		{"empty replay", Ledger{RunID: "coinbase_bt_t1"}},
		{"disjoint", Ledger{RunID: "coinbase_bt_t1", Decisions: []ledger.DecisionRow{flat(400, ledger.SkipNoSignal)}}},
		{"touching but no shared rows", Ledger{RunID: "coinbase_bt_t1", Decisions: []ledger.DecisionRow{
			flat(50, ledger.SkipNoSignal), flat(150, ledger.SkipNoSignal),
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := Compare(liveLedger(), tt.replay, Options{})
			assert.Equal(t, NoOverlap, r.Overall)
			assert.Equal(t, NoOverlap, r.Decisions)
			assert.Equal(t, NoOverlap, r.Trades)
			assert.ErrorIs(t, r.Err(), ErrNoOverlap)
		})
	}
}

func TestCompare_OneSidedRowsAreListedNotFailed(t *testing.T) {
	t.Parallel()

	live := Ledger{RunID: "coinbase", Decisions: []ledger.DecisionRow{
		flat(100, ledger.SkipNoSignal), flat(300, ledger.SkipNoSignal),
	}}
	replay := Ledger{RunID: "coinbase_bt_t1", Decisions: []ledger.DecisionRow{
		flat(0, ledger.SkipWarmup), flat(100, ledger.SkipNoSignal),
		flat(200, ledger.SkipNoSignal), flat(300, ledger.SkipNoSignal),
	}}

	r := Compare(live, replay, Options{})
	assert.Equal(t, Pass, r.Overall)
	assert.Equal(t, []int64{200}, r.OnlyReplay)
	assert.Empty(t, r.OnlyLive)
	assert.Equal(t, 2, r.Compared)
}

func TestCompare_SyncAtFlat(t *testing.T) {
	t.Parallel()

	// Live was already long when its ledger starts; replay held flat.
	live := Ledger{RunID: "coinbase", Decisions: []ledger.DecisionRow{
		{TSMS: 100, PositionSide: ledger.Long, PositionStopPrice: ledger.Some(95.0)},
		exit(200, ledger.ExitTrendReversal),
		flat(300, ledger.SkipCooldown),
		entry(400),
	}}
	replay := Ledger{RunID: "coinbase_bt_t1", Decisions: []ledger.DecisionRow{
		flat(100, ledger.SkipNoSignal),
		flat(200, ledger.SkipNoSignal),
		flat(300, ledger.SkipCooldown),
		entry(400),
	}}

	r := Compare(live, replay, Options{})
	assert.Equal(t, Fail, r.Overall)
	require.NotNil(t, r.DecisionMismatch)
	assert.Equal(t, int64(100), r.DecisionMismatch.TSMS)

	r = Compare(live, replay, Options{SyncAtFlat: true})
	assert.True(t, r.Synced)
	assert.Equal(t, int64(300), r.StartTS)
	assert.Equal(t, Pass, r.Overall)
	assert.Equal(t, 2, r.Compared)
}

func TestCompare_StopTolerance(t *testing.T) {
	t.Parallel()

	replay := replayLedger()
	replay.Decisions[3].PositionStopPrice = ledger.Some(95.004)
	tol := func(v float64) *float64 { return &v }

	tests := []struct {
		name string
		tol  *float64
		want Status
	}{
		{"not compared", nil, Pass},
		{"within", tol(0.01), Pass},
		{"outside", tol(0.001), Fail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := Compare(liveLedger(), replay, Options{StopTolerance: tt.tol})
			assert.Equal(t, tt.want, r.Decisions)
			if tt.want == Fail {
				assert.Equal(t, []string{"position_stop_price"}, r.DecisionMismatch.Fields)
			}
		})
	}
}

func TestCompare_Trades(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		live   []ledger.TradeRow
		replay []ledger.TradeRow
		want   Status
		fields []string
	}{
		{
			name:   "pnl ignored",
			live:   []ledger.TradeRow{trade(200, 300, ledger.ExitStopHit, -5)},
			replay: []ledger.TradeRow{trade(200, 300, ledger.ExitStopHit, -7.5)},
			want:   Pass,
		},
		{
			name:   "outside overlap ignored",
			live:   []ledger.TradeRow{trade(200, 300, ledger.ExitStopHit, -5)},
			replay: []ledger.TradeRow{trade(-100, 0, ledger.ExitStopHit, 1), trade(200, 300, ledger.ExitStopHit, -5)},
			want:   Pass,
		},
		{
			name:   "count",
			live:   []ledger.TradeRow{trade(200, 300, ledger.ExitStopHit, -5)},
			replay: nil,
			want:   Fail,
			fields: []string{"count"},
		},
		{
			name:   "reason",
			live:   []ledger.TradeRow{trade(200, 300, ledger.ExitStopHit, -5)},
			replay: []ledger.TradeRow{trade(200, 300, ledger.ExitNotTradable, -5)},
			want:   Fail,
			fields: []string{"exit_reason"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			live, replay := liveLedger(), replayLedger()
			live.Trades, replay.Trades = tt.live, tt.replay

			r := Compare(live, replay, Options{})
			assert.Equal(t, Pass, r.Decisions)
			assert.Equal(t, tt.want, r.Trades)
			assert.Equal(t, tt.want, r.Overall)
			if tt.want == Fail {
				require.NotNil(t, r.TradeMismatch)
				assert.Equal(t, tt.fields, r.TradeMismatch.Fields)
				assert.Equal(t, int64(200), r.TradeMismatch.TSMS)
				var mm *LifecycleMismatchError
				require.True(t, errors.As(r.Err(), &mm))
				assert.Equal(t, "trades", mm.Layer)
			}
		})
	}
}

func TestRun_FromDisk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()

	liveKey := ledger.Key{RunID: "coinbase", Instrument: "BTC/USD", Granularity: "5m"}
	replayKey := liveKey.WithRun(ledger.ReplayRunID("coinbase", "t1"))

	for _, side := range []struct {
		key ledger.Key
		l   Ledger
	}{{liveKey, liveLedger()}, {replayKey, replayLedger()}} {
		w, err := ledger.Open(root, side.key, ledger.Options{Strict: true})
		require.NoError(t, err)
		for _, d := range side.l.Decisions {
			require.NoError(t, w.AppendDecision(ctx, d))
		}
		for _, tr := range side.l.Trades {
			require.NoError(t, w.AppendTrade(ctx, tr))
		}
		require.NoError(t, w.Close())
	}

	r, err := Run(root, liveKey, replayKey, Options{})
	require.NoError(t, err)
	assert.Equal(t, Pass, r.Overall)
	assert.Equal(t, "coinbase_bt_t1", r.ReplayRun)

	r, err = Run(root, liveKey, liveKey.WithRun("coinbase_bt_missing"), Options{})
	require.NoError(t, err)
	assert.Equal(t, NoOverlap, r.Overall)
}
