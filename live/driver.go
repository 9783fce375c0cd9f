// Package live runs the strategy against the market one closed bar at a
// time and records a decision row for every bar it sees.
//
// A tick fetches recent bars, drops the newest one as possibly still forming,
// and decides every remaining bar newer than the last ledger row. Closure is
// decided only by position in the fetched sequence, never by wall clock.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/parity/engine"
	"github.com/rustyeddy/parity/internal/logging"
	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/market"
	"github.com/rustyeddy/parity/metrics"
)

const DefaultFetchTimeout = 10 * time.Second

// Appender is the ledger the driver writes to.
type Appender interface {
	AppendDecision(ctx context.Context, row ledger.DecisionRow) error
	AppendTrade(ctx context.Context, row ledger.TradeRow) error
	LastTS() (int64, bool)
	DecisionsPath() string
}

// EntryGate says whether new positions may be opened.
type EntryGate interface {
	EntriesAllowed(ctx context.Context) (bool, string, error)
}

// BarSink receives every closed bar the driver fetched.
type BarSink interface {
	PutBars(ctx context.Context, bars []market.Bar) error
}

type Config struct {
	Instrument  string
	Granularity market.Granularity

	// Interval between ticks. Defaults to the granularity.
	Interval     time.Duration
	FetchTimeout time.Duration
	// FetchLimit defaults to twice the engine lookback plus the forming bar.
	FetchLimit int
	// MaxGapBars is the number of missed bars tolerated silently.
	MaxGapBars int
}

type Driver struct {
	cfg    Config
	fetch  Fetcher
	ledger Appender
	gate   EntryGate
	store  BarSink
	eng    *engine.Engine
	log    *slog.Logger

	// Now is consulted only to time-stamp fetch failures.
	Now func() time.Time

	restored bool
	// seen is the newest bar pushed into the engine.
	seen int64
}

// New builds a driver. gate and store may be nil.
func New(cfg Config, f Fetcher, w Appender, gate EntryGate, store BarSink, eng *engine.Engine, log *slog.Logger) *Driver {
	if cfg.Interval <= 0 {
		cfg.Interval = cfg.Granularity.Duration()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.FetchLimit < eng.Lookback()+1 {
		cfg.FetchLimit = 2*eng.Lookback() + 1
	}
	return &Driver{
		cfg:    cfg,
		fetch:  f,
		ledger: w,
		gate:   gate,
		store:  store,
		eng:    eng,
		log:    logging.OrDiscard(log).With("instrument", cfg.Instrument, "granularity", cfg.Granularity),
		Now:    time.Now,
	}
}

// Run ticks until ctx is cancelled. A tick in progress when ctx is cancelled
// completes its ledger writes. Only a broken ledger invariant stops the loop.
func (d *Driver) Run(ctx context.Context) error {
	d.log.Info("live loop starting", "interval", d.cfg.Interval, "fetch_limit", d.cfg.FetchLimit)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := d.Tick(ctx); err != nil {
			if errors.Is(err, ledger.ErrNonMonotonicWrite) {
				return err
			}
			if ctx.Err() == nil {
				d.log.Error("live tick failed", "err", err)
			}
		}
		select {
		case <-ctx.Done():
			d.log.Info("live loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one fetch and decides every newly closed bar.
func (d *Driver) Tick(ctx context.Context) (err error) {
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, ErrFetchFailed):
			result = "fetch_failed"
		case err != nil:
			result = "error"
		}
		metrics.LiveTicks.WithLabelValues(result).Inc()
	}()

	if err := d.restore(); err != nil {
		return err
	}
	last, hasLast := d.ledger.LastTS()

	fetched, err := d.fetchBars(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return d.fetchFailed(ctx, last, hasLast, err)
	}

	closed := normalize(fetched)
	if len(closed) > 0 {
		closed = closed[:len(closed)-1]
	}
	if len(closed) == 0 {
		d.log.Debug("no closed bars fetched")
		return nil
	}

	if d.store != nil {
		if err := d.store.PutBars(context.WithoutCancel(ctx), closed); err != nil {
			d.log.Warn("bar store upsert failed", "err", err)
		}
	}

	fresh := d.split(closed, last, hasLast)
	if len(fresh) == 0 {
		return nil
	}
	if hasLast {
		d.checkGap(last, fresh[0].CloseMS)
	}

	opts := d.entryOptions(ctx)
	for _, b := range fresh {
		if err := d.decide(ctx, b, opts); err != nil {
			return err
		}
	}
	return nil
}

// restore rebuilds the open position from the ledger once per process.
func (d *Driver) restore() error {
	if d.restored {
		return nil
	}
	row, ok, err := ledger.LastDecision(d.ledger.DecisionsPath())
	if err != nil {
		return fmt.Errorf("live restore: %w", err)
	}
	if ok {
		d.eng.Restore(row)
		d.log.Info("resuming after last decision",
			"last_ts_ms", row.TSMS, "position", row.PositionSide, "cooldown", row.CooldownRemaining)
	}
	d.restored = true
	return nil
}

func (d *Driver) fetchBars(ctx context.Context) ([]market.Bar, error) {
	fctx, cancel := context.WithTimeout(ctx, d.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	bars, err := d.fetch.Fetch(fctx, d.cfg.Instrument, d.cfg.Granularity, d.cfg.FetchLimit)
	metrics.LiveFetchSeconds.Observe(time.Since(start).Seconds())
	return bars, err
}

// fetchFailed records a skip for the newest bar that must have closed, unless
// the ledger already covers it.
func (d *Driver) fetchFailed(ctx context.Context, last int64, hasLast bool, cause error) error {
	ferr := &FetchError{Instrument: d.cfg.Instrument, Err: cause}

	ts := d.cfg.Granularity.Floor(d.Now().UnixMilli()) - d.cfg.Granularity.Millis()
	if hasLast && ts <= last {
		d.log.Warn("bar fetch failed", "err", cause)
		return ferr
	}

	row := d.eng.SkipRow(ts, ledger.SkipFetchFailed)
	if err := d.appendDecision(ctx, row); err != nil {
		return errors.Join(ferr, err)
	}
	ferr.SkipTS = ts
	d.log.Warn("bar fetch failed, recorded skip", "ts_ms", ts, "err", cause)
	return ferr
}

// split primes the engine with bars already covered by the ledger and
// returns the bars still to decide. With an empty ledger only the newest
// closed bar is decided.
func (d *Driver) split(closed []market.Bar, last int64, hasLast bool) []market.Bar {
	cut := len(closed) - 1
	if hasLast {
		cut = len(closed)
		for i, b := range closed {
			if b.CloseMS > last {
				cut = i
				break
			}
		}
	}
	for _, b := range closed[:cut] {
		if b.CloseMS > d.seen {
			d.eng.Prime(b)
			d.seen = b.CloseMS
		}
	}
	return closed[cut:]
}

func (d *Driver) checkGap(last, first int64) {
	missed := d.cfg.Granularity.BarsBetween(last, first) - 1
	if missed < 0 {
		missed = 0
	}
	metrics.LiveGapBars.Set(float64(missed))
	if missed > int64(d.cfg.MaxGapBars) {
		d.log.Warn("bars missed since last decision",
			"missed_bars", missed, "max_gap_bars", d.cfg.MaxGapBars,
			"last_ts_ms", last, "next_ts_ms", first)
	}
}

// entryOptions asks the gate once per tick. An unreadable gate blocks
// entries.
func (d *Driver) entryOptions(ctx context.Context) engine.StepOptions {
	if d.gate == nil {
		return engine.StepOptions{AllowEntries: true}
	}
	ok, reason, err := d.gate.EntriesAllowed(ctx)
	if err != nil {
		d.log.Error("entry gate unreadable, blocking entries", "err", err)
		return engine.StepOptions{AllowEntries: false, EntryBlockReason: ledger.SkipHalted}
	}
	if !ok {
		d.log.Info("entries halted", "reason", reason)
	}
	return engine.StepOptions{AllowEntries: ok, EntryBlockReason: ledger.SkipHalted}
}

// decide steps bar b and records the outcome. When the decision row cannot
// be written the step is rolled back and a persist_failed skip carrying the
// prior position is recorded for b instead. Its trade, if any, is dropped.
func (d *Driver) decide(ctx context.Context, b market.Bar, opts engine.StepOptions) error {
	cp := d.eng.Checkpoint()
	out := d.eng.Step(b, opts)
	d.seen = b.CloseMS

	if err := d.appendDecision(ctx, out.Decision); err != nil {
		if errors.Is(err, ledger.ErrNonMonotonicWrite) {
			return err
		}
		d.eng.Rollback(cp)
		d.log.Error("decision append failed, step rolled back", "ts_ms", b.CloseMS, "err", err)
		fallback := d.eng.SkipRow(b.CloseMS, ledger.SkipPersistFailed)
		fallback.BarClose = ledger.Some(b.Close)
		if ferr := d.appendDecision(ctx, fallback); ferr != nil {
			d.log.Error("persist_failed row append failed", "ts_ms", b.CloseMS, "err", ferr)
		}
		return nil
	}

	if out.Trade != nil {
		if err := d.ledger.AppendTrade(context.WithoutCancel(ctx), *out.Trade); err != nil {
			if errors.Is(err, ledger.ErrNonMonotonicWrite) {
				return err
			}
			d.log.Error("trade append failed", "exit_ts_ms", b.CloseMS, "err", err)
		}
	}
	return nil
}

func (d *Driver) appendDecision(ctx context.Context, row ledger.DecisionRow) error {
	if err := d.ledger.AppendDecision(context.WithoutCancel(ctx), row); err != nil {
		return err
	}
	metrics.LiveDecisions.WithLabelValues(row.Kind()).Inc()
	metrics.LiveLastDecisionTS.Set(float64(row.TSMS))
	return nil
}
