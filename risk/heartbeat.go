package risk

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rustyeddy/parity/internal/logging"
)

// DefaultPeriod is how often the heartbeat checks when nothing else wakes it.
const DefaultPeriod = 15 * time.Second

// Heartbeat runs Guard.Check on a period and whenever a marker file is
// created or removed.
type Heartbeat struct {
	Guard  *Guard
	Period time.Duration
	Log    *slog.Logger

	// OnCheck, when set, sees every snapshot.
	OnCheck func(Snapshot, error)
}

// Run blocks until ctx is done. A check in flight when ctx is cancelled is
// allowed to finish so the state file is never left half decided.
func (h *Heartbeat) Run(ctx context.Context) error {
	log := logging.OrDiscard(h.Log)
	period := h.Period
	if period <= 0 {
		period = DefaultPeriod
	}

	events, stop := h.watch(log)
	defer stop()

	check := func(why string) {
		snap, err := h.Guard.Check(context.WithoutCancel(ctx))
		if err != nil {
			log.Error("guard check failed", "trigger", why, "err", err)
		} else {
			log.Debug("guard check", "trigger", why, "status", snap.Status,
				"trades_today", snap.TradesToday, "pnl_today", snap.PnLToday.String())
		}
		if h.OnCheck != nil {
			h.OnCheck(snap, err)
		}
	}

	check("start")
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			check("tick")
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			check("marker " + filepath.Base(ev.Name))
		}
	}
}

// watch subscribes to the directories holding the marker files. Failure to
// watch only loses the fast path; the ticker still runs.
func (h *Heartbeat) watch(log *slog.Logger) (<-chan fsnotify.Event, func()) {
	markers := map[string]bool{}
	for _, p := range []string{h.Guard.policy.KillSwitchFile, h.Guard.policy.HaltOrdersFile} {
		if p != "" {
			markers[filepath.Clean(p)] = true
		}
	}
	if len(markers) == 0 {
		return nil, func() {}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("marker watch unavailable", "err", err)
		return nil, func() {}
	}
	dirs := map[string]bool{}
	for p := range markers {
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := w.Add(dir); err != nil {
			log.Warn("marker watch", "dir", dir, "err", err)
		}
	}

	out := make(chan fsnotify.Event)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !markers[filepath.Clean(ev.Name)] {
					continue
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if !errors.Is(err, fsnotify.ErrEventOverflow) {
					log.Warn("marker watch", "err", err)
				}
			}
		}
	}()
	return out, func() {
		close(done)
		_ = w.Close()
	}
}
