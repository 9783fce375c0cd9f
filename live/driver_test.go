package live

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/parity/engine"
	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/market"
	"github.com/rustyeddy/parity/strategy"
)

const step = int64(300000)

var testKey = ledger.Key{RunID: "coinbase", Instrument: "BTC/USD", Granularity: "5m"}

// volTrend takes its trend from bar volume: 1 up, -1 down, 0 flat.
type volTrend struct{ n int }

func (s *volTrend) Name() string { return "vol-trend" }
func (s *volTrend) Warmup() int  { return 2 }
func (s *volTrend) Reset()       { s.n = 0 }

func (s *volTrend) Update(b market.Bar) strategy.MarketState {
	s.n++
	st := strategy.MarketState{TSMS: b.CloseMS, Close: b.Close, High: b.High, Low: b.Low, Trend: strategy.TrendFlat, ATR: 1}
	if s.n < 2 {
		return st
	}
	st.Ready, st.Tradable = true, true
	switch b.Volume {
	case 1:
		st.Trend = strategy.TrendUp
	case -1:
		st.Trend = strategy.TrendDown
	}
	return st
}

func (s *volTrend) Entry(st strategy.MarketState) strategy.EntrySignal {
	if st.Trend == strategy.TrendUp {
		return strategy.EntrySignal{Enter: true, Side: ledger.Long}
	}
	return strategy.EntrySignal{}
}

func (s *volTrend) Exit(pos strategy.Position, st strategy.MarketState) strategy.ExitSignal {
	if pos.Side == ledger.Long && st.Trend == strategy.TrendDown {
		return strategy.ExitSignal{Exit: true, Reason: ledger.ExitTrendReversal}
	}
	return strategy.ExitSignal{}
}

func (s *volTrend) InitialStop(side ledger.Side, entry float64, _ strategy.MarketState) float64 {
	return entry - side.Sign()*50
}

func (s *volTrend) TrailStop(pos strategy.Position, _ strategy.MarketState) (float64, float64) {
	return pos.Stop, pos.Anchor
}

// series returns bars 1..n; trends overrides the volume of a bar index.
func series(n int64, trends map[int64]float64) []market.Bar {
	bars := make([]market.Bar, 0, n)
	for i := int64(1); i <= n; i++ {
		v, ok := trends[i]
		if !ok {
			v = 1
		}
		c := 100 + float64(i)
		bars = append(bars, market.Bar{
			Instrument: "BTC/USD", Granularity: "5m", CloseMS: i * step,
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: v,
		})
	}
	return bars
}

type fakeFetcher struct {
	bars []market.Bar
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, _ market.Granularity, limit int) ([]market.Bar, error) {
	if f.err != nil {
		return nil, f.err
	}
	bars := append([]market.Bar(nil), f.bars...)
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

type fakeGate struct {
	ok     bool
	reason string
	err    error
}

func (g *fakeGate) EntriesAllowed(context.Context) (bool, string, error) {
	return g.ok, g.reason, g.err
}

type recordingSink struct{ got []market.Bar }

func (s *recordingSink) PutBars(_ context.Context, bars []market.Bar) error {
	s.got = append(s.got, bars...)
	return nil
}

type harness struct {
	root  string
	w     *ledger.Writer
	fetch *fakeFetcher
	gate  *fakeGate
	d     *Driver
}

func newHarness(t *testing.T, root string) *harness {
	t.Helper()
	w, err := ledger.Open(root, testKey, ledger.Options{Strict: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	h := &harness{root: root, w: w, fetch: &fakeFetcher{}, gate: &fakeGate{ok: true}}
	eng := engine.New(&volTrend{}, engine.Config{})
	h.d = New(Config{Instrument: "BTC/USD", Granularity: "5m"}, h.fetch, w, h.gate, nil, eng, nil)
	return h
}

func (h *harness) decisions(t *testing.T) []ledger.DecisionRow {
	t.Helper()
	rows, err := ledger.ReadDecisions(testKey.DecisionsPath(h.root))
	require.NoError(t, err)
	return rows
}

func timestamps(rows []ledger.DecisionRow) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.TSMS / step
	}
	return out
}

func TestTick_FreshLedgerDecidesNewestClosedBarOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, t.TempDir())

	h.fetch.bars = series(10, nil)
	require.NoError(t, h.d.Tick(ctx))

	rows := h.decisions(t)
	require.Len(t, rows, 1)
	assert.Equal(t, 9*step, rows[0].TSMS, "bar 10 is treated as forming")
	assert.True(t, rows[0].EntryShouldEnter)
	assert.Equal(t, ledger.Long, rows[0].PositionSide)
	assert.Equal(t, "coinbase", rows[0].RunID)

	// Same fetch again: nothing new is closed.
	require.NoError(t, h.d.Tick(ctx))
	assert.Len(t, h.decisions(t), 1)

	h.fetch.bars = series(12, nil)
	require.NoError(t, h.d.Tick(ctx))
	rows = h.decisions(t)
	assert.Equal(t, []int64{9, 10, 11}, timestamps(rows))
	assert.Equal(t, ledger.Long, rows[2].PositionSide)
	assert.False(t, rows[2].EntryShouldEnter)
}

func TestTick_RestartResumesWithoutDuplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()

	first := newHarness(t, root)
	first.fetch.bars = series(10, nil)
	require.NoError(t, first.d.Tick(ctx))
	require.NoError(t, first.w.Close())

	second := newHarness(t, root)
	second.fetch.bars = series(10, nil)
	require.NoError(t, second.d.Tick(ctx))
	assert.Len(t, second.decisions(t), 1, "no row is re-emitted")

	second.fetch.bars = series(12, map[int64]float64{11: -1})
	require.NoError(t, second.d.Tick(ctx))

	rows := second.decisions(t)
	require.Equal(t, []int64{9, 10, 11}, timestamps(rows))
	assert.Equal(t, ledger.Long, rows[1].PositionSide, "position restored from the ledger")
	assert.Equal(t, ledger.Some(9*step), rows[1].PositionEntryTSMS)
	assert.True(t, rows[2].ExitShouldExit)
	assert.Equal(t, ledger.ExitTrendReversal, rows[2].ExitReason)

	trades, err := ledger.ReadTrades(testKey.TradesPath(root))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 9*step, trades[0].EntryTSMS)
	assert.Equal(t, 11*step, trades[0].ExitTSMS)
}

func TestTick_FetchFailureWritesOneSkip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, t.TempDir())

	h.fetch.bars = series(10, nil)
	require.NoError(t, h.d.Tick(ctx))

	h.fetch.err = errors.New("exchange unavailable")
	h.d.Now = func() time.Time { return time.UnixMilli(12*step + 1000) }

	err := h.d.Tick(ctx)
	require.ErrorIs(t, err, ErrFetchFailed)
	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, 11*step, ferr.SkipTS)

	// The same bar is not skipped twice.
	require.ErrorIs(t, h.d.Tick(ctx), ErrFetchFailed)

	rows := h.decisions(t)
	require.Equal(t, []int64{9, 11}, timestamps(rows))
	assert.Equal(t, ledger.SkipFetchFailed, rows[1].SkipReason)
	assert.Equal(t, ledger.Long, rows[1].PositionSide, "open position is carried")

	h.fetch.err = nil
	h.fetch.bars = series(13, nil)
	require.NoError(t, h.d.Tick(ctx))
	assert.Equal(t, []int64{9, 11, 12}, timestamps(h.decisions(t)))
}

func TestTick_HaltedBlocksEntriesNotExits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("entry becomes halted skip", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, t.TempDir())
		h.gate.ok, h.gate.reason = false, "DAILY_TRADE_LIMIT"

		h.fetch.bars = series(10, nil)
		require.NoError(t, h.d.Tick(ctx))

		rows := h.decisions(t)
		require.Len(t, rows, 1)
		assert.Equal(t, ledger.SkipHalted, rows[0].SkipReason)
		assert.Equal(t, ledger.Flat, rows[0].PositionSide)
		assert.False(t, rows[0].EntryShouldEnter)
	})

	t.Run("exit still recorded", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, t.TempDir())

		h.fetch.bars = series(10, nil)
		require.NoError(t, h.d.Tick(ctx))

		h.gate.ok = false
		h.fetch.bars = series(12, map[int64]float64{11: -1})
		require.NoError(t, h.d.Tick(ctx))

		rows := h.decisions(t)
		require.Len(t, rows, 3)
		assert.True(t, rows[2].ExitShouldExit)
		assert.Equal(t, ledger.Long, rows[2].PositionSide)
	})

	t.Run("unreadable gate blocks entries", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, t.TempDir())
		h.gate.err = errors.New("corrupt guard state")

		h.fetch.bars = series(10, nil)
		require.NoError(t, h.d.Tick(ctx))
		assert.Equal(t, ledger.SkipHalted, h.decisions(t)[0].SkipReason)
	})
}

// flakyAppender fails the next decision append, or the first one at failTS.
type flakyAppender struct {
	*ledger.Writer
	failNext bool
	failTS   int64
}

func (a *flakyAppender) AppendDecision(ctx context.Context, row ledger.DecisionRow) error {
	if a.failNext || (a.failTS != 0 && row.TSMS == a.failTS) {
		a.failNext, a.failTS = false, 0
		return &ledger.PersistError{Path: a.DecisionsPath(), TSMS: row.TSMS, Err: errors.New("disk full")}
	}
	return a.Writer.AppendDecision(ctx, row)
}

func TestTick_PersistFailureFallsBackToSkipRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()

	w, err := ledger.Open(root, testKey, ledger.Options{Strict: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	app := &flakyAppender{Writer: w, failNext: true}
	sink := &recordingSink{}
	fetch := &fakeFetcher{bars: series(10, nil)}
	d := New(Config{Instrument: "BTC/USD", Granularity: "5m"}, fetch, app, nil, sink,
		engine.New(&volTrend{}, engine.Config{}), nil)

	require.NoError(t, d.Tick(ctx))

	rows, err := ledger.ReadDecisions(w.DecisionsPath())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.SkipPersistFailed, rows[0].SkipReason)
	assert.Equal(t, 9*step, rows[0].TSMS)
	assert.Len(t, sink.got, 9, "closed bars are stored, the forming bar is not")
}

func TestTick_PersistFailureRollsBackStep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name      string
		failTS    int64
		lostSide  ledger.Side
		wantEntry int64
		wantExit  int64
	}{
		{"entry row lost", 9 * step, ledger.Flat, 10 * step, 11 * step},
		{"exit row lost", 11 * step, ledger.Long, 9 * step, 12 * step},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			w, err := ledger.Open(root, testKey, ledger.Options{Strict: true})
			require.NoError(t, err)
			t.Cleanup(func() { _ = w.Close() })

			app := &flakyAppender{Writer: w, failTS: tt.failTS}
			fetch := &fakeFetcher{bars: series(10, nil)}
			d := New(Config{Instrument: "BTC/USD", Granularity: "5m"}, fetch, app, nil, nil,
				engine.New(&volTrend{}, engine.Config{}), nil)

			require.NoError(t, d.Tick(ctx))
			fetch.bars = series(13, map[int64]float64{11: -1, 12: -1})
			require.NoError(t, d.Tick(ctx))

			rows, err := ledger.ReadDecisions(w.DecisionsPath())
			require.NoError(t, err)
			require.Equal(t, []int64{9, 10, 11, 12}, timestamps(rows))
			byTS := make(map[int64]ledger.DecisionRow, len(rows))
			for _, r := range rows {
				byTS[r.TSMS] = r
			}

			lost := byTS[tt.failTS]
			assert.Equal(t, ledger.SkipPersistFailed, lost.SkipReason)
			assert.Equal(t, tt.lostSide, lost.PositionSide, "row shows the position before the bar")
			assert.False(t, lost.EntryShouldEnter)
			assert.False(t, lost.ExitShouldExit)

			trades, err := ledger.ReadTrades(w.TradesPath())
			require.NoError(t, err)
			require.Len(t, trades, 1)
			assert.Equal(t, tt.wantEntry, trades[0].EntryTSMS)
			assert.Equal(t, tt.wantExit, trades[0].ExitTSMS)

			for _, tr := range trades {
				assert.True(t, byTS[tr.EntryTSMS].EntryShouldEnter, "entry %d has an opening row", tr.EntryTSMS)
				assert.True(t, byTS[tr.ExitTSMS].ExitShouldExit, "exit %d has a closing row", tr.ExitTSMS)
			}
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, t.TempDir())
	h.fetch.bars = series(10, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.d.cfg.Interval = time.Hour
	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx) }()

	require.Eventually(t, func() bool {
		ts, ok := h.w.LastTS()
		return ok && ts == 9*step
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	bars := []market.Bar{{CloseMS: 3, Close: 1}, {CloseMS: 1}, {CloseMS: 3, Close: 2}, {CloseMS: 2}}
	got := normalize(bars)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 2, 3}, market.Timestamps(got))
	assert.Equal(t, 2.0, got[2].Close)
}
