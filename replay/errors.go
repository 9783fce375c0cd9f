package replay

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/parity/market"
)

var (
	// ErrInsufficientWarmup means the Bar Store cannot cover the warmup
	// prefix or the window. Nothing was written.
	ErrInsufficientWarmup = errors.New("insufficient warmup")

	// ErrEmptyWindow means the window holds no bars, either because End is
	// before Start or because the Bar Store has nothing inside it.
	ErrEmptyWindow = errors.New("empty replay window")

	// ErrRunExists means the replay run identity already has a ledger and
	// Overwrite was not set.
	ErrRunExists = errors.New("replay run already exists")
)

// InsufficientWarmupError reports what the window needed and what the Bar
// Store had.
type InsufficientWarmupError struct {
	Instrument  string
	Granularity market.Granularity
	StartMS     int64
	EndMS       int64
	Need        int
	Have        int
	// FirstMS is the oldest bar available, zero when the store is empty.
	FirstMS int64
	Reason  string
}

func (e *InsufficientWarmupError) Error() string {
	return fmt.Sprintf("insufficient warmup for %s %s window [%d (%s), %s]: %s (need %d bars before start, have %d, first bar ts_ms=%d)",
		e.Instrument, e.Granularity, e.StartMS, fmtMS(e.StartMS), fmtEnd(e.EndMS), e.Reason, e.Need, e.Have, e.FirstMS)
}

func (e *InsufficientWarmupError) Unwrap() error { return ErrInsufficientWarmup }

func fmtMS(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func fmtEnd(ms int64) string {
	if ms == 0 {
		return "end of data"
	}
	return fmt.Sprintf("%d (%s)", ms, fmtMS(ms))
}
