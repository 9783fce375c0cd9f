package live

import (
	"context"
	"slices"

	"github.com/rustyeddy/parity/barstore"
	"github.com/rustyeddy/parity/market"
)

// Fetcher returns the most recent bars for an instrument, oldest first. The
// last bar may still be forming.
type Fetcher interface {
	Fetch(ctx context.Context, instrument string, g market.Granularity, limit int) ([]market.Bar, error)
}

// TailReader is the part of a bar store a StoreFetcher needs.
type TailReader interface {
	Tail(ctx context.Context, instrument string, g market.Granularity, n int) ([]market.Bar, error)
}

// StoreFetcher reads the tail of a source bar store kept current by an
// ingestion process.
type StoreFetcher struct {
	Store TailReader
}

func (f StoreFetcher) Fetch(ctx context.Context, instrument string, g market.Granularity, limit int) ([]market.Bar, error) {
	return f.Store.Tail(ctx, instrument, g, limit)
}

// CSVFetcher reads the tail of a bar CSV file that another process appends
// to.
type CSVFetcher struct {
	Path string
}

func (f CSVFetcher) Fetch(ctx context.Context, instrument string, g market.Granularity, limit int) ([]market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	feed, err := barstore.NewCSVFeed(f.Path, instrument, g, 0, 0)
	if err != nil {
		return nil, err
	}
	defer feed.Close()

	bars, err := feed.ReadAll()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

// normalize orders bars by close time and keeps the last copy of a
// duplicated timestamp.
func normalize(bars []market.Bar) []market.Bar {
	slices.SortStableFunc(bars, func(a, b market.Bar) int {
		switch {
		case a.CloseMS < b.CloseMS:
			return -1
		case a.CloseMS > b.CloseMS:
			return 1
		}
		return 0
	})
	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].CloseMS == b.CloseMS {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}
