package ledger

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rustyeddy/parity/market"
	"github.com/rustyeddy/parity/pkg/id"
)

const replaySep = "_bt_"

// Key identifies one logical ledger: a run identity plus the instrument and
// granularity it traded.
type Key struct {
	RunID       string
	Instrument  string
	Granularity market.Granularity
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.RunID, market.StorageSymbol(k.Instrument), k.Granularity)
}

func (k Key) Validate() error {
	if err := ValidateRunID(k.RunID); err != nil {
		return err
	}
	if err := market.ValidateInstrument(k.Instrument); err != nil {
		return err
	}
	return k.Granularity.Validate()
}

// DecisionsPath is <root>/decisions/<run_id>/<SYMBOL>/<granularity>/decisions.csv.
func (k Key) DecisionsPath(root string) string {
	return filepath.Join(k.dir(root, "decisions"), "decisions.csv")
}

// TradesPath is <root>/trades/<run_id>/<SYMBOL>/<granularity>/trades.csv.
func (k Key) TradesPath(root string) string {
	return filepath.Join(k.dir(root, "trades"), "trades.csv")
}

func (k Key) dir(root, kind string) string {
	return filepath.Join(root, kind, k.RunID, market.StorageSymbol(k.Instrument), k.Granularity.String())
}

// WithRun returns a copy of k for another run identity.
func (k Key) WithRun(runID string) Key {
	k.RunID = runID
	return k
}

// ValidateRunID rejects run identities that cannot be a single path segment.
func ValidateRunID(runID string) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run_id must be non-empty")
	}
	if strings.ContainsAny(runID, `/\,"`) || runID == "." || runID == ".." {
		return fmt.Errorf("run_id contains unsupported characters: %q", runID)
	}
	return nil
}

// ReplayRunID derives the run identity of a replay invocation from the live
// base label and an invocation tag.
func ReplayRunID(base, tag string) string {
	return base + replaySep + tag
}

// NewReplayTag returns a fresh time-sortable invocation tag.
func NewReplayTag() string {
	return strings.ToLower(id.New())
}

// IsReplay reports whether runID was produced by ReplayRunID.
func IsReplay(runID string) bool {
	i := strings.LastIndex(runID, replaySep)
	return i > 0 && i+len(replaySep) < len(runID)
}

// SplitReplay returns the base and tag of a replay run identity.
func SplitReplay(runID string) (base, tag string, ok bool) {
	if !IsReplay(runID) {
		return "", "", false
	}
	i := strings.LastIndex(runID, replaySep)
	return runID[:i], runID[i+len(replaySep):], true
}
