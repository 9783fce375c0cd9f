package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGranularity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"5m", 5 * time.Minute, false},
		{" 1H ", time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"m", 0, true},
		{"0m", 0, true},
		{"-5m", 0, true},
		{"5w", 0, true},
		{"xm", 0, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			g, err := ParseGranularity(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.Duration())
			assert.Equal(t, tt.want.Milliseconds(), g.Millis())
		})
	}
}

func TestGranularityFloorAndAligned(t *testing.T) {
	t.Parallel()

	g := Granularity("5m")
	step := int64(300_000)

	assert.Equal(t, step*10, g.Floor(step*10+1234))
	assert.Equal(t, step*10, g.Floor(step*10))
	assert.Equal(t, -step, g.Floor(-1))
	assert.True(t, g.Aligned(step*3))
	assert.False(t, g.Aligned(step*3+1))
	assert.Equal(t, int64(4), g.BarsBetween(step, step*5))
}

func TestStorageSymbol(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "BTC_USD", StorageSymbol("btc/usd"))
	assert.Equal(t, "EUR_USD", StorageSymbol(" EUR_USD "))
	assert.NoError(t, ValidateInstrument("BTC/USD"))
	assert.Error(t, ValidateInstrument(""))
	assert.Error(t, ValidateInstrument("BTC USD"))
}

func TestBarValidate(t *testing.T) {
	t.Parallel()

	good := Bar{Instrument: "BTC/USD", Granularity: "5m", CloseMS: 300_000, Open: 1, High: 2, Low: 0.5, Close: 1.5}
	assert.NoError(t, good.Validate())

	unaligned := good
	unaligned.CloseMS = 300_001
	assert.ErrorContains(t, unaligned.Validate(), "not aligned")

	inverted := good
	inverted.High, inverted.Low = 0.5, 2
	assert.Error(t, inverted.Validate())

	assert.Equal(t, []int64{300_000}, Timestamps([]Bar{good}))
}
