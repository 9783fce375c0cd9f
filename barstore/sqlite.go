package barstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/parity/market"
)

const dayLayout = "2006-01-02"

// SQLite is a Store backed by a single SQLite file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (creating if needed) the bar database at path.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("bar store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bar store schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

const upsertBar = `
	INSERT INTO bars
	(instrument, granularity, close_ms, day, open, high, low, close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(instrument, granularity, close_ms) DO UPDATE SET
		day = excluded.day,
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		volume = excluded.volume`

func (s *SQLite) PutBar(ctx context.Context, b market.Bar) error {
	return s.PutBars(ctx, []market.Bar{b})
}

// PutBars upserts all bars in one transaction; either every bar lands or
// none does.
func (s *SQLite) PutBars(ctx context.Context, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertBar)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx,
			market.StorageSymbol(b.Instrument), b.Granularity.String(), b.CloseMS,
			b.Time().Format(dayLayout),
			b.Open, b.High, b.Low, b.Close, b.Volume,
		)
		if err != nil {
			return fmt.Errorf("put bar %s %s ts_ms=%d: %w", b.Instrument, b.Granularity, b.CloseMS, err)
		}
	}
	return tx.Commit()
}

const selectCols = `SELECT instrument, granularity, close_ms, open, high, low, close, volume FROM bars`

func (s *SQLite) GetBars(ctx context.Context, instrument string, g market.Granularity, fromMS, toMS int64) ([]market.Bar, error) {
	rows, err := s.db.QueryContext(ctx, selectCols+`
		WHERE instrument = ? AND granularity = ? AND close_ms >= ? AND close_ms <= ?
		ORDER BY close_ms ASC`,
		market.StorageSymbol(instrument), g.String(), fromMS, toMS)
	if err != nil {
		return nil, err
	}
	return scanBars(rows, instrument)
}

func (s *SQLite) LastBefore(ctx context.Context, instrument string, g market.Granularity, beforeMS int64, n int) ([]market.Bar, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, selectCols+`
		WHERE instrument = ? AND granularity = ? AND close_ms < ?
		ORDER BY close_ms DESC LIMIT ?`,
		market.StorageSymbol(instrument), g.String(), beforeMS, n)
	if err != nil {
		return nil, err
	}
	out, err := scanBars(rows, instrument)
	if err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

func (s *SQLite) Tail(ctx context.Context, instrument string, g market.Granularity, n int) ([]market.Bar, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, selectCols+`
		WHERE instrument = ? AND granularity = ?
		ORDER BY close_ms DESC LIMIT ?`,
		market.StorageSymbol(instrument), g.String(), n)
	if err != nil {
		return nil, err
	}
	out, err := scanBars(rows, instrument)
	if err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

func (s *SQLite) Range(ctx context.Context, instrument string, g market.Granularity) (Range, error) {
	var (
		r           Range
		first, last sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(close_ms), MAX(close_ms), COUNT(*) FROM bars
		WHERE instrument = ? AND granularity = ?`,
		market.StorageSymbol(instrument), g.String(),
	).Scan(&first, &last, &r.Count)
	if err != nil {
		return Range{}, err
	}
	r.FirstMS = first.Int64
	r.LastMS = last.Int64
	return r, nil
}

// Partitions lists the UTC days that hold bars for a partition.
func (s *SQLite) Partitions(ctx context.Context, instrument string, g market.Granularity) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT day FROM bars
		WHERE instrument = ? AND granularity = ?
		ORDER BY day ASC`,
		market.StorageSymbol(instrument), g.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		out = append(out, day)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func scanBars(rows *sql.Rows, instrument string) ([]market.Bar, error) {
	defer rows.Close()

	var out []market.Bar
	for rows.Next() {
		var (
			b    market.Bar
			sym  string
			gran string
		)
		if err := rows.Scan(&sym, &gran, &b.CloseMS, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		b.Instrument = instrument
		b.Granularity = market.Granularity(gran)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func reverse(bars []market.Bar) {
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
}
