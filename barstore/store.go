// Package barstore is the canonical store of closed market bars. It is the
// ground truth that replay reads from.
package barstore

import (
	"context"

	"github.com/rustyeddy/parity/market"
)

// Store is the read/write contract for closed bars.
type Store interface {
	// PutBar upserts a bar keyed by (instrument, granularity, close_ms).
	// A later write for the same key replaces the earlier one.
	PutBar(ctx context.Context, b market.Bar) error
	PutBars(ctx context.Context, bars []market.Bar) error

	// GetBars returns bars with fromMS <= close_ms <= toMS, ascending.
	GetBars(ctx context.Context, instrument string, g market.Granularity, fromMS, toMS int64) ([]market.Bar, error)

	// LastBefore returns up to n bars strictly before beforeMS, ascending.
	LastBefore(ctx context.Context, instrument string, g market.Granularity, beforeMS int64, n int) ([]market.Bar, error)

	// Tail returns the newest n bars, ascending.
	Tail(ctx context.Context, instrument string, g market.Granularity, n int) ([]market.Bar, error)

	Range(ctx context.Context, instrument string, g market.Granularity) (Range, error)

	Close() error
}

// Range summarises a partition.
type Range struct {
	FirstMS int64
	LastMS  int64
	Count   int64
}

// Empty reports whether the partition has no bars.
func (r Range) Empty() bool { return r.Count == 0 }
