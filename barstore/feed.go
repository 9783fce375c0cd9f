package barstore

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/rustyeddy/parity/market"
)

// CSVFeed reads bar CSV rows:
//
//	ts_ms|time,open,high,low,close[,volume]
//
// where the first column is integer epoch milliseconds or RFC3339(Nano).
//
// It optionally filters bars to [From, To] if provided.
// A header row is allowed. Empty/short rows are skipped.
type CSVFeed struct {
	f           *os.File
	r           *csv.Reader
	instrument  string
	granularity market.Granularity
	from, to    int64

	sawFirst bool
}

// NewCSVFeed opens path. Zero from/to leave that side unbounded. Files
// ending in .xz or .lzma are decompressed while reading.
func NewCSVFeed(path, instrument string, g market.Granularity, from, to int64) (*CSVFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var src io.Reader = f
	switch {
	case strings.HasSuffix(path, ".xz"):
		src, err = xz.NewReader(f)
	case strings.HasSuffix(path, ".lzma"):
		src, err = lzma.NewReader(f)
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	r := csv.NewReader(src)
	r.FieldsPerRecord = -1

	return &CSVFeed{f: f, r: r, instrument: instrument, granularity: g, from: from, to: to}, nil
}

func (f *CSVFeed) Close() error {
	if f.f != nil {
		return f.f.Close()
	}
	return nil
}

// Next returns the next bar in range. ok is false at EOF.
func (f *CSVFeed) Next() (market.Bar, bool, error) {
	for {
		row, err := f.r.Read()
		if err == io.EOF {
			return market.Bar{}, false, nil
		}
		if err != nil {
			return market.Bar{}, false, err
		}
		if len(row) == 0 {
			continue
		}

		if !f.sawFirst {
			f.sawFirst = true
			if isHeader(row[0]) {
				continue
			}
		}

		b, ok, err := parseBarRow(row)
		if err != nil {
			return market.Bar{}, false, err
		}
		if !ok {
			continue
		}
		if !inRange(b.CloseMS, f.from, f.to) {
			continue
		}
		b.Instrument = f.instrument
		b.Granularity = f.granularity
		return b, true, nil
	}
}

// ReadAll drains the feed.
func (f *CSVFeed) ReadAll() ([]market.Bar, error) {
	var out []market.Bar
	for {
		b, ok, err := f.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, b)
	}
}

func isHeader(first string) bool {
	s := strings.ToLower(strings.TrimSpace(first))
	return s == "time" || s == "ts_ms" || s == "timestamp"
}

func parseBarRow(row []string) (market.Bar, bool, error) {
	if len(row) < 5 {
		return market.Bar{}, false, nil
	}

	ts := strings.TrimSpace(row[0])
	if ts == "" {
		return market.Bar{}, false, nil
	}
	ms, err := parseTS(ts)
	if err != nil {
		return market.Bar{}, false, err
	}

	vals := make([]float64, 5)
	for i := 1; i < len(row) && i <= 5; i++ {
		field := strings.TrimSpace(row[i])
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return market.Bar{}, false, fmt.Errorf("bad value %q at ts %s: %w", row[i], ts, err)
		}
		vals[i-1] = v
	}

	return market.Bar{
		CloseMS: ms,
		Open:    vals[0],
		High:    vals[1],
		Low:     vals[2],
		Close:   vals[3],
		Volume:  vals[4],
	}, true, nil
}

func parseTS(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, s)
		if err2 != nil {
			return 0, fmt.Errorf("bad time %q: %w", s, err)
		}
		t = t2
	}
	return t.UnixMilli(), nil
}

func inRange(ms, from, to int64) bool {
	if from != 0 && ms < from {
		return false
	}
	if to != 0 && ms > to {
		return false
	}
	return true
}
