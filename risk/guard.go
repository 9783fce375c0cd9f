package risk

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rustyeddy/parity/internal/logging"
	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/lock"
	"github.com/rustyeddy/parity/metrics"
)

// Guard evaluates Policy against one ledger key and owns its guard state.
type Guard struct {
	root   string
	key    ledger.Key
	policy Policy
	log    *slog.Logger

	// Now is the clock used for the local-day window.
	Now func() time.Time

	mu sync.Mutex
}

func NewGuard(root string, key ledger.Key, p Policy, log *slog.Logger) *Guard {
	return &Guard{
		root:   root,
		key:    key,
		policy: p,
		log:    logging.OrDiscard(log).With("guard", key.String()),
		Now:    time.Now,
	}
}

func (g *Guard) StatePath() string { return StatePath(g.root, g.key) }

// StateLockPath is the lock file that serializes guard state updates across
// processes, such as a heartbeat and an operator running guard clear.
func (g *Guard) StateLockPath() string { return lock.Path(g.root, "guard-state", g.key) }

// exclusive holds the in-process mutex and the state file lock.
func (g *Guard) exclusive() (func(), error) {
	g.mu.Lock()
	lk, err := lock.Acquire(g.StateLockPath())
	if err != nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("guard state lock: %w", err)
	}
	return func() {
		_ = lk.Release()
		g.mu.Unlock()
	}, nil
}

// Gate returns the entry gate the live loop consults for this guard.
func (g *Guard) Gate() StateGate {
	return StateGate{
		Path:           g.StatePath(),
		KillSwitchFile: g.policy.KillSwitchFile,
		HaltOrdersFile: g.policy.HaltOrdersFile,
	}
}

// observe gathers the inputs and the last decision timestamp from disk.
func (g *Guard) observe(now time.Time) (Inputs, Snapshot, error) {
	stats, err := ledger.TradesForDay(g.key.TradesPath(g.root), g.policy.location(), now)
	if err != nil {
		return Inputs{}, Snapshot{}, fmt.Errorf("guard trades: %w", err)
	}
	last, hasLast, err := ledger.LastTS(g.key.DecisionsPath(g.root))
	if err != nil {
		return Inputs{}, Snapshot{}, fmt.Errorf("guard last decision: %w", err)
	}

	in := Inputs{
		KillSwitch:  markerPresent(g.policy.KillSwitchFile),
		HaltOrders:  markerPresent(g.policy.HaltOrdersFile),
		TradesToday: len(stats.Trades),
		PnLToday:    stats.PnL,
	}
	snap := Snapshot{
		TradesToday:     in.TradesToday,
		PnLToday:        in.PnLToday,
		LastDecisionTS:  last,
		HasLastDecision: hasLast,
		KillSwitch:      in.KillSwitch,
		HaltOrders:      in.HaltOrders,
		PID:             os.Getpid(),
		CheckedAt:       now.UTC(),
	}
	return in, snap, nil
}

// Check runs one evaluation and persists the result. HALTED is sticky: once
// halted, the guard stays halted until Clear, even when the cause is gone.
func (g *Guard) Check(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	unlock, err := g.exclusive()
	if err != nil {
		return Snapshot{}, err
	}
	defer unlock()

	prev, _, err := LoadState(g.StatePath())
	if err != nil {
		return Snapshot{}, err
	}

	now := g.Now()
	in, snap, err := g.observe(now)
	if err != nil {
		return Snapshot{}, err
	}
	d := Evaluate(g.policy, in)
	snap.Violations = d.Violations
	snap.ClearedAt, snap.ClearedBy = prev.ClearedAt, prev.ClearedBy

	switch {
	case prev.Halted():
		snap.Status = Halted
		snap.Reason = prev.Reason
		snap.HaltedAt = prev.HaltedAt
	case !d.Allowed:
		snap.Status = Halted
		snap.Reason = d.Reason()
		snap.HaltedAt = now.UTC()
		g.log.Warn("risk guard halted", "reason", snap.Reason, "err", d.Err())
	default:
		snap.Status = Active
	}

	if err := SaveState(g.StatePath(), snap); err != nil {
		return snap, fmt.Errorf("guard state: %w", err)
	}
	record(snap)
	return snap, nil
}

// Clear moves a halted guard back to ACTIVE. It refuses while a violation is
// still present, since the next check would halt again.
func (g *Guard) Clear(ctx context.Context, by string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	unlock, err := g.exclusive()
	if err != nil {
		return Snapshot{}, err
	}
	defer unlock()

	now := g.Now()
	in, snap, err := g.observe(now)
	if err != nil {
		return Snapshot{}, err
	}
	if d := Evaluate(g.policy, in); !d.Allowed {
		return snap, fmt.Errorf("guard clear refused: %w", d.Err())
	}

	snap.Status = Active
	snap.ClearedAt = now.UTC()
	snap.ClearedBy = by
	if err := SaveState(g.StatePath(), snap); err != nil {
		return snap, fmt.Errorf("guard state: %w", err)
	}
	g.log.Info("risk guard cleared", "by", by)
	record(snap)
	return snap, nil
}

func record(s Snapshot) {
	metrics.GuardChecks.WithLabelValues(string(s.Status)).Inc()
	metrics.GuardTradesToday.Set(float64(s.TradesToday))
	metrics.GuardPnLToday.Set(s.PnLToday.InexactFloat64())
	if s.Halted() {
		metrics.GuardHalted.Set(1)
	} else {
		metrics.GuardHalted.Set(0)
	}
}
