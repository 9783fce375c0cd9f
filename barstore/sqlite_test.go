package barstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/parity/market"
)

const fiveMin = int64(5 * 60 * 1000)

func bar(ms int64, close float64) market.Bar {
	return market.Bar{
		Instrument:  "BTC/USD",
		Granularity: "5m",
		CloseMS:     ms,
		Open:        close,
		High:        close + 1,
		Low:         close - 1,
		Close:       close,
		Volume:      10,
	}
}

func openStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "bars", "bars.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_PutGetInclusiveAscending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	// Inserted out of order on purpose.
	require.NoError(t, s.PutBars(ctx, []market.Bar{
		bar(3*fiveMin, 103), bar(1*fiveMin, 101), bar(2*fiveMin, 102), bar(4*fiveMin, 104),
	}))

	got, err := s.GetBars(ctx, "BTC/USD", "5m", 1*fiveMin, 3*fiveMin)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1 * fiveMin, 2 * fiveMin, 3 * fiveMin}, market.Timestamps(got))
	assert.Equal(t, "BTC/USD", got[0].Instrument)
	assert.Equal(t, market.Granularity("5m"), got[0].Granularity)
}

func TestSQLite_LastWriteWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.PutBar(ctx, bar(fiveMin, 100)))
	require.NoError(t, s.PutBar(ctx, bar(fiveMin, 250)))

	got, err := s.GetBars(ctx, "BTC/USD", "5m", 0, 10*fiveMin)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 250.0, got[0].Close)
}

func TestSQLite_RejectsUnaligned(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	err := s.PutBars(ctx, []market.Bar{bar(fiveMin, 100), bar(fiveMin+1, 101)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not aligned")

	// Nothing from the failed batch landed.
	r, err := s.Range(ctx, "BTC/USD", "5m")
	require.NoError(t, err)
	assert.True(t, r.Empty())
}

func TestSQLite_LastBeforeTailRange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	var bars []market.Bar
	for i := int64(1); i <= 10; i++ {
		bars = append(bars, bar(i*fiveMin, float64(100+i)))
	}
	require.NoError(t, s.PutBars(ctx, bars))

	prev, err := s.LastBefore(ctx, "BTC/USD", "5m", 6*fiveMin, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{3 * fiveMin, 4 * fiveMin, 5 * fiveMin}, market.Timestamps(prev))

	tail, err := s.Tail(ctx, "BTC/USD", "5m", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{9 * fiveMin, 10 * fiveMin}, market.Timestamps(tail))

	r, err := s.Range(ctx, "BTC/USD", "5m")
	require.NoError(t, err)
	assert.Equal(t, Range{FirstMS: fiveMin, LastMS: 10 * fiveMin, Count: 10}, r)

	// Other partitions are isolated.
	other, err := s.Range(ctx, "BTC/USD", "1h")
	require.NoError(t, err)
	assert.True(t, other.Empty())
}

func TestSQLite_Partitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	day := int64(24 * 60 * 60 * 1000)
	require.NoError(t, s.PutBars(ctx, []market.Bar{
		bar(day-fiveMin, 1), bar(day, 2), bar(2*day+fiveMin, 3),
	}))

	days, err := s.Partitions(ctx, "BTC/USD", "5m")
	require.NoError(t, err)
	assert.Equal(t, []string{"1970-01-01", "1970-01-02", "1970-01-03"}, days)
}
