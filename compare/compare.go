// Package compare checks that two ledgers, normally one live run and one
// replay of it, made the same position-lifecycle decisions over the time
// window they share.
//
// Rows are aligned by ts_ms. Inside the overlap, every timestamp present in
// both ledgers must agree on position_side, entry_should_enter,
// exit_should_exit and exit_reason. Trades are compared by count and by
// (entry_ts_ms, position_side, exit_reason); prices and pnl are not part of
// the contract because live and replay model stop fills differently.
package compare

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"slices"

	"github.com/rustyeddy/parity/ledger"
)

type Status string

const (
	Pass      Status = "PASS"
	Fail      Status = "FAIL"
	NoOverlap Status = "NO_OVERLAP"
)

const (
	DefaultContextRows = 3
	maxListed          = 20
)

type Options struct {
	// ContextRows is the number of neighbouring rows shown on each side of
	// a mismatch.
	ContextRows int
	// SyncAtFlat starts the comparison at the first shared timestamp where
	// both ledgers are flat.
	SyncAtFlat bool
	// StopTolerance, when set, adds position_stop_price to the compared
	// fields within this absolute tolerance.
	StopTolerance *float64
}

// Ledger is one side of a comparison.
type Ledger struct {
	RunID     string
	Decisions []ledger.DecisionRow
	Trades    []ledger.TradeRow
}

// Load reads a run's decision and trade logs. Missing logs are empty.
func Load(root string, key ledger.Key) (Ledger, error) {
	l := Ledger{RunID: key.RunID}

	d, err := ledger.ReadDecisions(key.DecisionsPath(root))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return l, fmt.Errorf("load %s decisions: %w", key.RunID, err)
	}
	t, err := ledger.ReadTrades(key.TradesPath(root))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return l, fmt.Errorf("load %s trades: %w", key.RunID, err)
	}
	l.Decisions, l.Trades = d, t
	return l, nil
}

// Span is an inclusive ts_ms range. Rows is zero for an empty ledger.
type Span struct {
	Lo, Hi int64
	Rows   int
}

func (s Span) String() string {
	if s.Rows == 0 {
		return "[]"
	}
	return fmt.Sprintf("[%d,%d]", s.Lo, s.Hi)
}

// Pair is one line of mismatch context. Live or Replay is empty when that
// side has no row at the position.
type Pair struct {
	Index  int
	TSMS   int64
	Live   string
	Replay string
}

type Mismatch struct {
	Layer   string
	Index   int
	TSMS    int64
	Fields  []string
	Context []Pair
}

type Report struct {
	LiveRun   string
	ReplayRun string

	Live    Span
	Replay  Span
	Overlap Span
	// ReplayWarmupRows are replay rows before the overlap, excluded by
	// construction.
	ReplayWarmupRows int

	SyncAtFlat bool
	Synced     bool
	StartTS    int64

	Compared   int
	OnlyLive   []int64
	OnlyReplay []int64

	LiveTrades   int
	ReplayTrades int

	Decisions Status
	Trades    Status
	Overall   Status

	DecisionMismatch *Mismatch
	TradeMismatch    *Mismatch
}

// Err is nil on PASS, wraps ErrNoOverlap when inconclusive and is a
// *LifecycleMismatchError on FAIL.
func (r Report) Err() error {
	switch r.Overall {
	case Pass:
		return nil
	case NoOverlap:
		return fmt.Errorf("%s vs %s: %w", r.LiveRun, r.ReplayRun, ErrNoOverlap)
	}
	m := r.DecisionMismatch
	if m == nil {
		m = r.TradeMismatch
	}
	if m == nil {
		return fmt.Errorf("%s vs %s: %w", r.LiveRun, r.ReplayRun, ErrLifecycleMismatch)
	}
	return &LifecycleMismatchError{Layer: m.Layer, TSMS: m.TSMS, Fields: m.Fields}
}

// Run loads both ledgers and compares them.
func Run(root string, live, replay ledger.Key, opts Options) (Report, error) {
	l, err := Load(root, live)
	if err != nil {
		return Report{}, err
	}
	r, err := Load(root, replay)
	if err != nil {
		return Report{}, err
	}
	return Compare(l, r, opts), nil
}

// Compare aligns two ledgers on ts_ms and reports the first divergence.
func Compare(live, replay Ledger, opts Options) Report {
	if opts.ContextRows <= 0 {
		opts.ContextRows = DefaultContextRows
	}
	r := Report{
		LiveRun:    live.RunID,
		ReplayRun:  replay.RunID,
		SyncAtFlat: opts.SyncAtFlat,
		Decisions:  NoOverlap,
		Trades:     NoOverlap,
		Overall:    NoOverlap,
	}

	lrows, lts := byTS(live.Decisions)
	rrows, rts := byTS(replay.Decisions)
	r.Live, r.Replay = span(lts), span(rts)
	if len(lts) == 0 || len(rts) == 0 {
		return r
	}

	lo, hi := max(r.Live.Lo, r.Replay.Lo), min(r.Live.Hi, r.Replay.Hi)
	if lo > hi {
		return r
	}
	r.Overlap = Span{Lo: lo, Hi: hi, Rows: 1}
	for _, ts := range rts {
		if ts < lo {
			r.ReplayWarmupRows++
		}
	}

	r.StartTS = lo
	if opts.SyncAtFlat {
		if ts, ok := firstMutualFlat(lrows, rrows, lts, lo, hi); ok {
			r.StartTS, r.Synced = ts, true
		}
	}

	r.Decisions = r.compareDecisions(lrows, rrows, mergeTS(lts, rts, r.StartTS, hi), opts)
	if r.Decisions == NoOverlap {
		return r
	}
	r.Trades = r.compareTrades(live.Trades, replay.Trades, r.StartTS, hi, opts)

	r.Overall = Pass
	if r.Decisions != Pass || r.Trades != Pass {
		r.Overall = Fail
	}
	return r
}

func (r *Report) compareDecisions(live, replay map[int64]ledger.DecisionRow, axis []int64, opts Options) Status {
	for i, ts := range axis {
		l, lok := live[ts]
		p, rok := replay[ts]
		switch {
		case !rok:
			r.OnlyLive = append(r.OnlyLive, ts)
			continue
		case !lok:
			r.OnlyReplay = append(r.OnlyReplay, ts)
			continue
		}

		r.Compared++
		fields := diffDecision(l, p, opts.StopTolerance)
		if len(fields) == 0 {
			continue
		}
		m := &Mismatch{Layer: "decisions", Index: i, TSMS: ts, Fields: fields}
		from, to := window(i, len(axis), opts.ContextRows)
		for j := from; j < to; j++ {
			pair := Pair{Index: j, TSMS: axis[j]}
			if row, ok := live[axis[j]]; ok {
				pair.Live = formatDecision(row)
			}
			if row, ok := replay[axis[j]]; ok {
				pair.Replay = formatDecision(row)
			}
			m.Context = append(m.Context, pair)
		}
		r.DecisionMismatch = m
		return Fail
	}
	if r.Compared == 0 {
		return NoOverlap
	}
	return Pass
}

type tradeSig struct {
	entry  int64
	exit   int64
	side   ledger.Side
	reason ledger.ExitReason
}

func (s tradeSig) String() string {
	return fmt.Sprintf("entry=%d|exit=%d|side=%s|reason=%s", s.entry, s.exit, s.side, s.reason)
}

func (r *Report) compareTrades(live, replay []ledger.TradeRow, lo, hi int64, opts Options) Status {
	ls, rs := tradeSigs(live, lo, hi), tradeSigs(replay, lo, hi)
	r.LiveTrades, r.ReplayTrades = len(ls), len(rs)

	first := -1
	n := min(len(ls), len(rs))
	var fields []string
	for i := 0; i < n; i++ {
		if fields = diffTrade(ls[i], rs[i]); len(fields) > 0 {
			first = i
			break
		}
	}
	if first < 0 {
		if len(ls) == len(rs) {
			return Pass
		}
		first, fields = n, []string{"count"}
	}

	m := &Mismatch{Layer: "trades", Index: first, Fields: fields}
	if first < len(ls) {
		m.TSMS = ls[first].entry
	} else {
		m.TSMS = rs[first].entry
	}
	from, to := window(first, max(len(ls), len(rs)), opts.ContextRows)
	for j := from; j < to; j++ {
		pair := Pair{Index: j}
		if j < len(ls) {
			pair.TSMS, pair.Live = ls[j].entry, ls[j].String()
		}
		if j < len(rs) {
			pair.TSMS, pair.Replay = rs[j].entry, rs[j].String()
		}
		m.Context = append(m.Context, pair)
	}
	r.TradeMismatch = m
	return Fail
}

// tradeSigs keeps trades entered inside [lo, hi], ordered by entry then
// exit.
func tradeSigs(rows []ledger.TradeRow, lo, hi int64) []tradeSig {
	var out []tradeSig
	for _, t := range rows {
		if t.EntryTSMS < lo || t.EntryTSMS > hi {
			continue
		}
		out = append(out, tradeSig{entry: t.EntryTSMS, exit: t.ExitTSMS, side: t.PositionSide, reason: t.ExitReason})
	}
	slices.SortStableFunc(out, func(a, b tradeSig) int {
		if a.entry != b.entry {
			return cmp.Compare(a.entry, b.entry)
		}
		return cmp.Compare(a.exit, b.exit)
	})
	return out
}

func diffTrade(a, b tradeSig) []string {
	var fields []string
	if a.entry != b.entry {
		fields = append(fields, "entry_ts_ms")
	}
	if a.side != b.side {
		fields = append(fields, "position_side")
	}
	if a.reason != b.reason {
		fields = append(fields, "exit_reason")
	}
	return fields
}

func diffDecision(a, b ledger.DecisionRow, stopTol *float64) []string {
	var fields []string
	if a.PositionSide != b.PositionSide {
		fields = append(fields, "position_side")
	}
	if a.EntryShouldEnter != b.EntryShouldEnter {
		fields = append(fields, "entry_should_enter")
	}
	if a.ExitShouldExit != b.ExitShouldExit {
		fields = append(fields, "exit_should_exit")
	}
	if a.ExitReason != b.ExitReason {
		fields = append(fields, "exit_reason")
	}
	if stopTol != nil && !stopsMatch(a.PositionStopPrice, b.PositionStopPrice, *stopTol) {
		fields = append(fields, "position_stop_price")
	}
	return fields
}

func stopsMatch(a, b ledger.Optional[float64], tol float64) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || math.Abs(a.Value-b.Value) <= tol
}

// byTS indexes rows by ts_ms; a duplicated timestamp keeps the last row.
func byTS(rows []ledger.DecisionRow) (map[int64]ledger.DecisionRow, []int64) {
	m := make(map[int64]ledger.DecisionRow, len(rows))
	for _, row := range rows {
		m[row.TSMS] = row
	}
	ts := make([]int64, 0, len(m))
	for t := range m {
		ts = append(ts, t)
	}
	slices.Sort(ts)
	return m, ts
}

func span(ts []int64) Span {
	if len(ts) == 0 {
		return Span{}
	}
	return Span{Lo: ts[0], Hi: ts[len(ts)-1], Rows: len(ts)}
}

// mergeTS returns the sorted union of a and b inside [lo, hi].
func mergeTS(a, b []int64, lo, hi int64) []int64 {
	var out []int64
	for _, ts := range a {
		if ts >= lo && ts <= hi {
			out = append(out, ts)
		}
	}
	for _, ts := range b {
		if ts >= lo && ts <= hi {
			out = append(out, ts)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func firstMutualFlat(live, replay map[int64]ledger.DecisionRow, lts []int64, lo, hi int64) (int64, bool) {
	for _, ts := range lts {
		if ts < lo || ts > hi {
			continue
		}
		p, ok := replay[ts]
		if ok && live[ts].PositionSide == ledger.Flat && p.PositionSide == ledger.Flat {
			return ts, true
		}
	}
	return 0, false
}

// window returns [from, to) around i.
func window(i, n, k int) (int, int) {
	return max(0, i-k), min(n, i+k+1)
}
