package market

import (
	"fmt"
	"time"
)

// Bar is a closed OHLCV interval. CloseMS is aligned to the granularity
// boundary and is the bar's identity within an (instrument, granularity)
// partition.
type Bar struct {
	Instrument  string
	Granularity Granularity
	CloseMS     int64

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Time returns CloseMS as a UTC time.
func (b Bar) Time() time.Time {
	return time.UnixMilli(b.CloseMS).UTC()
}

// Validate checks the bar is aligned and its prices are coherent.
func (b Bar) Validate() error {
	if b.Instrument == "" {
		return fmt.Errorf("bar: instrument is required")
	}
	if err := b.Granularity.Validate(); err != nil {
		return fmt.Errorf("bar %s: %w", b.Instrument, err)
	}
	if !b.Granularity.Aligned(b.CloseMS) {
		return fmt.Errorf("bar %s %s: ts_ms=%d not aligned to granularity", b.Instrument, b.Granularity, b.CloseMS)
	}
	if b.High < b.Low {
		return fmt.Errorf("bar %s ts_ms=%d: high %.8f < low %.8f", b.Instrument, b.CloseMS, b.High, b.Low)
	}
	if b.Open <= 0 || b.Close <= 0 {
		return fmt.Errorf("bar %s ts_ms=%d: open/close must be positive", b.Instrument, b.CloseMS)
	}
	return nil
}

// Timestamps returns the CloseMS of every bar in order.
func Timestamps(bars []Bar) []int64 {
	out := make([]int64, len(bars))
	for i, b := range bars {
		out[i] = b.CloseMS
	}
	return out
}
