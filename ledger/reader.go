package ledger

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

const tailChunk = 4096

// ReadDecisions loads every complete row of a decision log. A trailing row
// without its newline is still being written and is ignored.
func ReadDecisions(path string) ([]DecisionRow, error) {
	recs, err := readComplete(path, DecisionHeader)
	if err != nil {
		return nil, err
	}
	out := make([]DecisionRow, 0, len(recs))
	for i, rec := range recs {
		r, err := decodeDecision(rec)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// ReadTrades loads every complete row of a trade log.
func ReadTrades(path string) ([]TradeRow, error) {
	recs, err := readComplete(path, TradeHeader)
	if err != nil {
		return nil, err
	}
	out := make([]TradeRow, 0, len(recs))
	for i, rec := range recs {
		r, err := decodeTrade(rec)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func readComplete(path string, header []string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	i := bytes.LastIndexByte(data, '\n')
	if i < 0 {
		return nil, nil
	}
	data = data[:i+1]

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(header)

	got, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: header: %w", path, err)
	}
	if strings.Join(got, ",") != strings.Join(header, ",") {
		return nil, fmt.Errorf("%s: unexpected header %q", path, strings.Join(got, ","))
	}

	var out [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, rec)
	}
}

// LastTS returns ts_ms of the last complete decision row. It reads the file
// backwards from the end, so the cost does not depend on the log length.
// A missing file or a header-only file reports ok=false.
func LastTS(path string) (ts int64, ok bool, err error) {
	return lastValue(path, decisionTSCol)
}

// LastTradeExitTS returns exit_ts_ms of the last complete trade row.
func LastTradeExitTS(path string) (ts int64, ok bool, err error) {
	return lastValue(path, tradeExitCol)
}

// FirstTS returns ts_ms of the first decision row, the anchor a replay uses
// to line its window up with a live run.
func FirstTS(path string) (ts int64, ok bool, err error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if _, err := br.ReadString('\n'); err != nil {
		return 0, false, nil
	}
	line, err := br.ReadString('\n')
	if err != nil {
		return 0, false, nil
	}
	return parseCol(line, decisionTSCol, path)
}

// LastDecision decodes the last complete decision row. A restarting live
// driver rebuilds its position from it.
func LastDecision(path string) (DecisionRow, bool, error) {
	line, ok, err := lastCompleteLine(path)
	if err != nil || !ok {
		return DecisionRow{}, false, err
	}
	rec, err := csv.NewReader(strings.NewReader(line)).Read()
	if err != nil {
		return DecisionRow{}, false, fmt.Errorf("%s: %w", path, err)
	}
	row, err := decodeDecision(rec)
	if err != nil {
		return DecisionRow{}, false, fmt.Errorf("%s: last row: %w", path, err)
	}
	return row, true, nil
}

func lastValue(path string, col int) (int64, bool, error) {
	line, ok, err := lastCompleteLine(path)
	if err != nil || !ok {
		return 0, false, err
	}
	return parseCol(line, col, path)
}

func parseCol(line string, col int, path string) (int64, bool, error) {
	rec, err := csv.NewReader(strings.NewReader(line)).Read()
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", path, err)
	}
	if col >= len(rec) {
		return 0, false, fmt.Errorf("%s: short row %q", path, strings.TrimSpace(line))
	}
	ts, err := strconv.ParseInt(rec[col], 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: ts column %q: %w", path, rec[col], err)
	}
	return ts, true, nil
}

// lastCompleteLine returns the last newline-terminated line after the header.
func lastCompleteLine(path string) (string, bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", false, err
	}

	var (
		pos  = st.Size()
		tail []byte
		end  = -1
	)
	for pos > 0 {
		n := min(int64(tailChunk), pos)
		pos -= n
		chunk := make([]byte, n, int(n)+len(tail))
		if _, err := f.ReadAt(chunk, pos); err != nil && !errors.Is(err, io.EOF) {
			return "", false, err
		}
		if end >= 0 {
			end += int(n)
		}
		tail = append(chunk, tail...)

		if end < 0 {
			end = bytes.LastIndexByte(tail, '\n')
			if end < 0 {
				continue
			}
		}
		if j := bytes.LastIndexByte(tail[:end], '\n'); j >= 0 {
			return string(tail[j+1 : end]), true, nil
		}
	}
	// Only one complete line, and it is the header.
	return "", false, nil
}

func readTradesIfExists(path string) ([]TradeRow, error) {
	rows, err := ReadTrades(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return rows, err
}
