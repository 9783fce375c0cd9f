// Package ledger is the append-only decision and trade log. Each (run,
// instrument, granularity) key owns one decisions.csv and one trades.csv;
// rows are appended in strictly increasing time order and never rewritten.
package ledger

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rustyeddy/parity/internal/logging"
	"github.com/rustyeddy/parity/metrics"
)

// Options control append behaviour.
type Options struct {
	// Strict rejects non-monotonic rows with *NonMonotonicWriteError.
	// Otherwise the row is written, logged and counted.
	Strict bool
	// Sync fsyncs after every row.
	Sync bool

	Logger *slog.Logger
}

// Writer is the single writer for one ledger key. It is safe for concurrent
// use but appends are serialised.
type Writer struct {
	key  Key
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	decisions *appendLog
	trades    *appendLog
	flagged   int
}

type appendLog struct {
	name    string
	path    string
	header  []string
	tsCol   int
	f       *os.File
	last    int64
	hasLast bool
}

// Open opens (creating if needed) the decision and trade logs for key under
// root.
func Open(root string, key Key, opts Options) (*Writer, error) {
	return OpenPaths(key, key.DecisionsPath(root), key.TradesPath(root), opts)
}

// OpenPaths is Open with explicit file locations. Replay uses it to write
// into a staging directory.
func OpenPaths(key Key, decisionsPath, tradesPath string, opts Options) (*Writer, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("ledger key: %w", err)
	}

	w := &Writer{
		key:  key,
		opts: opts,
		log:  logging.OrDiscard(opts.Logger).With("ledger", key.String()),
	}

	var err error
	w.decisions, err = w.openLog("decisions", decisionsPath, DecisionHeader, decisionTSCol)
	if err != nil {
		return nil, err
	}
	w.trades, err = w.openLog("trades", tradesPath, TradeHeader, tradeExitCol)
	if err != nil {
		_ = w.decisions.f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) openLog(name, path string, header []string, tsCol int) (*appendLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%s dir: %w", name, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	l := &appendLog{name: name, path: path, header: header, tsCol: tsCol, f: f}
	if err := w.prepare(l); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

// prepare writes the header of a new log, or checks the header of an
// existing one, drops a torn trailing row left by a crash and seeds the last
// timestamp from disk.
func (w *Writer) prepare(l *appendLog) error {
	st, err := l.f.Stat()
	if err != nil {
		return err
	}

	if st.Size() == 0 {
		line, err := encodeRecord(l.header)
		if err != nil {
			return err
		}
		return l.write(line, w.opts.Sync)
	}

	if err := checkHeader(l.path, l.header); err != nil {
		if !errors.Is(err, errTornHeader) {
			return err
		}
		w.log.Warn("rewriting torn header", "log", l.name, "path", l.path, "bytes", st.Size())
		if err := l.f.Truncate(0); err != nil {
			return fmt.Errorf("truncate torn header %s: %w", l.path, err)
		}
		line, err := encodeRecord(l.header)
		if err != nil {
			return err
		}
		return l.write(line, w.opts.Sync)
	}

	complete, err := completeSize(l.path, st.Size())
	if err != nil {
		return err
	}
	if complete < st.Size() {
		w.log.Warn("dropping torn trailing row", "log", l.name, "path", l.path, "bytes", st.Size()-complete)
		if err := l.f.Truncate(complete); err != nil {
			return fmt.Errorf("truncate torn row %s: %w", l.path, err)
		}
	}

	l.last, l.hasLast, err = lastValue(l.path, l.tsCol)
	return err
}

func (l *appendLog) write(line []byte, sync bool) error {
	n, err := l.f.Write(line)
	if err == nil && n < len(line) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return err
	}
	if sync {
		return l.f.Sync()
	}
	return nil
}

// AppendDecision stamps row with the writer's key and appends it.
func (w *Writer) AppendDecision(ctx context.Context, row DecisionRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row.RunID = w.key.RunID
	row.Instrument = w.key.Instrument
	row.Granularity = w.key.Granularity
	return w.append(w.decisions, row.TSMS, row.record())
}

// AppendTrade stamps row and appends it. Trades are ordered by exit_ts_ms.
func (w *Writer) AppendTrade(ctx context.Context, row TradeRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row.RunID = w.key.RunID
	row.Instrument = w.key.Instrument
	row.Granularity = w.key.Granularity
	return w.append(w.trades, row.ExitTSMS, row.record())
}

func (w *Writer) append(l *appendLog, ts int64, rec []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if l.hasLast && ts <= l.last {
		nm := &NonMonotonicWriteError{Key: w.key, Log: l.name, TSMS: ts, LastTS: l.last}
		if w.opts.Strict {
			return nm
		}
		w.flagged++
		metrics.LedgerFlagged.WithLabelValues(l.name).Inc()
		w.log.Warn("non-monotonic row written", "log", l.name, "ts_ms", ts, "last_ts_ms", l.last)
	}

	line, err := encodeRecord(rec)
	if err == nil {
		err = l.write(line, w.opts.Sync)
	}
	if err != nil {
		metrics.LedgerPersistFailures.WithLabelValues(l.name).Inc()
		return &PersistError{Path: l.path, TSMS: ts, Err: err}
	}

	l.last, l.hasLast = ts, true
	metrics.LedgerAppends.WithLabelValues(l.name).Inc()
	return nil
}

func (w *Writer) Key() Key { return w.key }

// LastTS is the ts_ms of the last decision row written or found on open.
func (w *Writer) LastTS() (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.decisions.last, w.decisions.hasLast
}

// LastTradeTS is the exit_ts_ms of the last trade row.
func (w *Writer) LastTradeTS() (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.trades.last, w.trades.hasLast
}

// Flagged counts non-monotonic rows written in permissive mode.
func (w *Writer) Flagged() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flagged
}

func (w *Writer) DecisionsPath() string { return w.decisions.path }
func (w *Writer) TradesPath() string    { return w.trades.path }

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.decisions.f.Close(), w.trades.f.Close())
}

// errTornHeader marks a log holding only the start of its header, as left by
// a crash during creation.
var errTornHeader = errors.New("torn header")

func checkHeader(path string, want []string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := strings.Join(want, ",")
	line, err := bufio.NewReader(f).ReadString('\n')
	if errors.Is(err, io.EOF) && strings.HasPrefix(header, line) {
		return fmt.Errorf("%s: %w", path, errTornHeader)
	}
	if err != nil {
		return fmt.Errorf("%s: header row incomplete: %w", path, err)
	}
	if got := strings.TrimRight(line, "\r\n"); got != header {
		return fmt.Errorf("%s: unexpected header %q", path, got)
	}
	return nil
}

// completeSize returns the offset just past the last newline in the first
// size bytes of path.
func completeSize(path string, size int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	pos := size
	for pos > 0 {
		n := min(int64(tailChunk), pos)
		pos -= n
		chunk := make([]byte, n)
		if _, err := f.ReadAt(chunk, pos); err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			return pos + int64(i) + 1, nil
		}
	}
	return 0, nil
}
