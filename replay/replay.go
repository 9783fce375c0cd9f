// Package replay rebuilds a run's ledger from the Bar Store. Given the same
// bars and window it always produces byte-identical logs.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/rustyeddy/parity/barstore"
	"github.com/rustyeddy/parity/engine"
	"github.com/rustyeddy/parity/internal/logging"
	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/market"
	"github.com/rustyeddy/parity/metrics"
	"github.com/rustyeddy/parity/strategy"
)

// BarSource is the read side of the Bar Store.
type BarSource interface {
	GetBars(ctx context.Context, instrument string, g market.Granularity, fromMS, toMS int64) ([]market.Bar, error)
	LastBefore(ctx context.Context, instrument string, g market.Granularity, beforeMS int64, n int) ([]market.Bar, error)
	Range(ctx context.Context, instrument string, g market.Granularity) (barstore.Range, error)
}

// Options controls one replay invocation.
type Options struct {
	// Root is the ledger root directory.
	Root string

	// Base is the live run label; the replay run is <Base>_bt_<Tag>.
	Base string
	// Tag defaults to a fresh ULID.
	Tag string

	Instrument  string
	Granularity market.Granularity

	// Start and End bound the window, inclusive. Zero Start begins at the
	// first bar that has a full warmup behind it; zero End runs to the end
	// of the data.
	Start int64
	End   int64
	// FromLive takes Start from the first decision row of this live run.
	FromLive string

	// Warmup is the number of bars loaded before Start. Defaults to the
	// engine lookback minus the current bar.
	Warmup int

	Overwrite bool
	Sync      bool

	Strategy strategy.Strategy
	Engine   engine.Config

	Logger *slog.Logger
}

// Result describes a completed replay.
type Result struct {
	RunID         string
	BarsLoaded    int
	WarmupBars    int
	Decisions     int
	Trades        int
	First         int64
	Last          int64
	DecisionsPath string
	TradesPath    string
}

// Run replays the window into a fresh run-scoped ledger. The ledger is
// written to a staging directory and moved into place only on success.
func Run(ctx context.Context, src BarSource, opts Options) (res Result, err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.ReplayRuns.WithLabelValues(result).Inc()
	}()

	if opts.Strategy == nil {
		return res, fmt.Errorf("replay: strategy is required")
	}
	if opts.Tag == "" {
		opts.Tag = ledger.NewReplayTag()
	}
	key := ledger.Key{
		RunID:       ledger.ReplayRunID(opts.Base, opts.Tag),
		Instrument:  opts.Instrument,
		Granularity: opts.Granularity,
	}
	if err := key.Validate(); err != nil {
		return res, fmt.Errorf("replay: %w", err)
	}
	log := logging.OrDiscard(opts.Logger).With("run_id", key.RunID, "instrument", key.Instrument, "granularity", key.Granularity)

	res.RunID = key.RunID
	res.DecisionsPath = key.DecisionsPath(opts.Root)
	res.TradesPath = key.TradesPath(opts.Root)

	if !opts.Overwrite {
		for _, p := range []string{res.DecisionsPath, res.TradesPath} {
			if _, err := os.Stat(p); err == nil {
				return res, fmt.Errorf("%w: %s (use overwrite to replace it)", ErrRunExists, p)
			}
		}
	}

	cfg := opts.Engine
	cfg.Fill = engine.GapThroughFill{}
	eng := engine.New(opts.Strategy, cfg)

	warmup := opts.Warmup
	if warmup <= 0 {
		warmup = eng.Lookback() - 1
	}
	res.WarmupBars = warmup

	if opts.FromLive != "" {
		first, ok, err := ledger.FirstTS(key.WithRun(opts.FromLive).DecisionsPath(opts.Root))
		if err != nil {
			return res, fmt.Errorf("replay: read live anchor: %w", err)
		}
		if !ok {
			return res, fmt.Errorf("replay: live run %q has no decision rows to anchor on", opts.FromLive)
		}
		opts.Start = first
	}

	if opts.End != 0 && opts.End < opts.Start {
		return res, fmt.Errorf("%w: end %s is before start %s", ErrEmptyWindow, fmtMS(opts.End), fmtMS(opts.Start))
	}

	prefix, window, err := load(ctx, src, opts, warmup)
	if err != nil {
		return res, err
	}
	res.BarsLoaded = len(prefix) + len(window)
	res.First = window[0].CloseMS
	res.Last = window[len(window)-1].CloseMS

	if gaps := countGaps(opts.Granularity, append(prefix[:len(prefix):len(prefix)], window...)); gaps > 0 {
		log.Warn("bar store has gaps inside the replay range", "missing_bars", gaps)
	}

	staging := filepath.Join(opts.Root, ".staging", key.RunID)
	if err := os.RemoveAll(staging); err != nil {
		return res, err
	}
	defer os.RemoveAll(staging)

	w, err := ledger.OpenPaths(key,
		filepath.Join(staging, "decisions.csv"),
		filepath.Join(staging, "trades.csv"),
		ledger.Options{Strict: true, Sync: opts.Sync, Logger: log},
	)
	if err != nil {
		return res, err
	}

	warm := engine.StepOptions{AllowEntries: false, EntryBlockReason: ledger.SkipWarmup}
	for _, b := range prefix {
		eng.Step(b, warm)
	}

	live := engine.StepOptions{AllowEntries: true}
	for _, b := range window {
		if err := ctx.Err(); err != nil {
			_ = w.Close()
			return res, err
		}
		out := eng.Step(b, live)
		if err := w.AppendDecision(ctx, out.Decision); err != nil {
			_ = w.Close()
			return res, fmt.Errorf("replay ts_ms=%d: %w", b.CloseMS, err)
		}
		res.Decisions++
		if out.Trade != nil {
			if err := w.AppendTrade(ctx, *out.Trade); err != nil {
				_ = w.Close()
				return res, fmt.Errorf("replay trade exit_ts_ms=%d: %w", b.CloseMS, err)
			}
			res.Trades++
		}
	}
	if err := w.Close(); err != nil {
		return res, err
	}

	// Trades land first so a visible decision log always has its trades.
	if err := promote(w.TradesPath(), res.TradesPath); err != nil {
		return res, err
	}
	if err := promote(w.DecisionsPath(), res.DecisionsPath); err != nil {
		_ = os.Remove(res.TradesPath)
		return res, err
	}

	log.Info("replay complete",
		"bars", res.BarsLoaded, "warmup", res.WarmupBars,
		"decisions", res.Decisions, "trades", res.Trades,
		"first_ts_ms", res.First, "last_ts_ms", res.Last)
	return res, nil
}

func load(ctx context.Context, src BarSource, opts Options, warmup int) (prefix, window []market.Bar, err error) {
	fail := func(reason string, have int, first int64) error {
		return &InsufficientWarmupError{
			Instrument:  opts.Instrument,
			Granularity: opts.Granularity,
			StartMS:     opts.Start,
			EndMS:       opts.End,
			Need:        warmup,
			Have:        have,
			FirstMS:     first,
			Reason:      reason,
		}
	}

	rng, err := src.Range(ctx, opts.Instrument, opts.Granularity)
	if err != nil {
		return nil, nil, fmt.Errorf("replay: bar range: %w", err)
	}
	if rng.Empty() {
		return nil, nil, fail("bar store is empty", 0, 0)
	}

	if opts.Start == 0 {
		head, err := src.GetBars(ctx, opts.Instrument, opts.Granularity, rng.FirstMS, math.MaxInt64)
		if err != nil {
			return nil, nil, err
		}
		if len(head) <= warmup {
			return nil, nil, fail("not enough bars for warmup and a window", len(head), rng.FirstMS)
		}
		opts.Start = head[warmup].CloseMS
	}

	prefix, err = src.LastBefore(ctx, opts.Instrument, opts.Granularity, opts.Start, warmup)
	if err != nil {
		return nil, nil, fmt.Errorf("replay: warmup bars: %w", err)
	}
	if len(prefix) < warmup {
		return nil, nil, fail("not enough bars before start", len(prefix), rng.FirstMS)
	}

	end := opts.End
	if end == 0 {
		end = math.MaxInt64
	}
	window, err = src.GetBars(ctx, opts.Instrument, opts.Granularity, opts.Start, end)
	if err != nil {
		return nil, nil, fmt.Errorf("replay: window bars: %w", err)
	}
	if len(window) == 0 {
		return nil, nil, fmt.Errorf("%w: no %s %s bars in [%s, %s], store covers [%s, %s]",
			ErrEmptyWindow, opts.Instrument, opts.Granularity,
			fmtMS(opts.Start), fmtEnd(opts.End), fmtMS(rng.FirstMS), fmtMS(rng.LastMS))
	}
	return prefix, window, nil
}

func countGaps(g market.Granularity, bars []market.Bar) int64 {
	var missing int64
	for i := 1; i < len(bars); i++ {
		if n := g.BarsBetween(bars[i-1].CloseMS, bars[i].CloseMS); n > 1 {
			missing += n - 1
		}
	}
	return missing
}

func promote(staged, final string) error {
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return err
	}
	if err := os.Rename(staged, final); err != nil {
		return fmt.Errorf("promote %s: %w", final, err)
	}
	return nil
}

