package risk

import "context"

// StateGate answers whether new positions may be opened by reading the
// persisted guard state. Marker files are also checked directly so a kill
// switch takes effect before the next heartbeat.
type StateGate struct {
	Path           string
	KillSwitchFile string
	HaltOrdersFile string
}

// EntriesAllowed returns false with a reason when the guard is halted. A
// guard that has never run does not block entries.
func (g StateGate) EntriesAllowed(ctx context.Context) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}
	if markerPresent(g.KillSwitchFile) {
		return false, CodeKillSwitch, nil
	}
	if markerPresent(g.HaltOrdersFile) {
		return false, CodeHaltOrders, nil
	}

	snap, ok, err := LoadState(g.Path)
	if err != nil {
		return false, "", err
	}
	if ok && snap.Halted() {
		return false, snap.Reason, nil
	}
	return true, "", nil
}
