package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastTS_MissingAndHeaderOnly(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, ok, err := LastTS(filepath.Join(dir, "nope.csv"))
	require.NoError(t, err)
	assert.False(t, ok)

	w := openWriter(t, dir, Options{})
	_, ok, err = LastTS(w.DecisionsPath())
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = FirstTS(w.DecisionsPath())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLastTS_SpansChunks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	w := openWriter(t, t.TempDir(), Options{Strict: true})
	// Enough rows that the file is many chunks long.
	const n = 500
	for i := int64(1); i <= n; i++ {
		require.NoError(t, w.AppendDecision(ctx, flat(i*300000)))
	}

	last, ok, err := LastTS(w.DecisionsPath())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(n*300000), last)

	row, ok, err := LastDecision(w.DecisionsPath())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(n*300000), row.TSMS)
	assert.Equal(t, SkipNoSignal, row.SkipReason)

	first, ok, err := FirstTS(w.DecisionsPath())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(300000), first)
}

func TestReaders_IgnorePartialTrailingRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	w := openWriter(t, t.TempDir(), Options{Strict: true})
	require.NoError(t, w.AppendDecision(ctx, flat(300000)))
	require.NoError(t, w.AppendDecision(ctx, flat(600000)))

	// Simulate a concurrent append caught mid-row.
	f, err := os.OpenFile(w.DecisionsPath(), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("coinbase,BTC/USD,5m,900000,LO")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rows, err := ReadDecisions(w.DecisionsPath())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	last, ok, err := LastTS(w.DecisionsPath())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(600000), last)
}

func TestDecisionRowRoundTrip(t *testing.T) {
	t.Parallel()

	in := DecisionRow{
		RunID:              "coinbase_bt_01abc",
		Instrument:         "BTC/USD",
		Granularity:        "5m",
		TSMS:               900000,
		PositionSide:       Short,
		ExitShouldExit:     true,
		ExitReason:         ExitStopHit,
		PositionStopPrice:  Some(101.25),
		EntrySide:          Short,
		PositionEntryPrice: Some(100.0),
		PositionEntryTSMS:  Some(int64(300000)),
		BarClose:           Some(101.5),
		PositionQty:        Some(0.25),
	}
	out, err := decodeDecision(in.record())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeDecision_Rejects(t *testing.T) {
	t.Parallel()

	good := flat(300000)
	good.RunID, good.Instrument, good.Granularity = "r", "BTC/USD", "5m"

	tests := []struct {
		name string
		col  int
		val  string
	}{
		{"side", 4, "SIDEWAYS"},
		{"ts", 3, "abc"},
		{"skip reason", 9, "bored"},
		{"exit reason", 7, "took_profit"},
		{"bool", 5, "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := good.record()
			rec[tt.col] = tt.val
			_, err := decodeDecision(rec)
			assert.Error(t, err)
		})
	}
}
