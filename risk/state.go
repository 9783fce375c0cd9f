package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/market"
)

type Status string

const (
	Active Status = "ACTIVE"
	Halted Status = "HALTED"
)

// Snapshot is the guard state written after every check. It doubles as the
// proof-of-life record.
type Snapshot struct {
	Status     Status      `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	Violations []Violation `json:"violations,omitempty"`

	TradesToday int             `json:"trades_today"`
	PnLToday    decimal.Decimal `json:"pnl_today"`

	LastDecisionTS  int64 `json:"last_decision_ts_ms"`
	HasLastDecision bool  `json:"has_last_decision"`
	KillSwitch      bool  `json:"kill_switch"`
	HaltOrders      bool  `json:"halt_orders"`

	PID       int       `json:"pid"`
	CheckedAt time.Time `json:"checked_at"`
	HaltedAt  time.Time `json:"halted_at,omitzero"`
	ClearedAt time.Time `json:"cleared_at,omitzero"`
	ClearedBy string    `json:"cleared_by,omitempty"`
}

func (s Snapshot) Halted() bool { return s.Status == Halted }

// StatePath is <root>/state/<run_id>/<SYMBOL>/<granularity>/guard.json.
func StatePath(root string, key ledger.Key) string {
	return filepath.Join(root, "state", key.RunID, market.StorageSymbol(key.Instrument), key.Granularity.String(), "guard.json")
}

// LoadState reads the guard state. A missing file reports ok=false.
func LoadState(path string) (Snapshot, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, false, fmt.Errorf("guard state %s: %w", path, err)
	}
	return s, true, nil
}

// SaveState replaces the guard state atomically: readers see the old file
// or the new one, never a mix.
func SaveState(path string, s Snapshot) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".guard-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
