// Package risk decides whether new positions may be opened. A heartbeat
// evaluates the kill switch and daily limits against the trade ledger and
// persists a guard state that the live loop reads before every decision.
package risk

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultLocation is the operator's day boundary when none is configured.
const DefaultLocation = "America/Los_Angeles"

// Policy is the operator configuration of the guard. Zero limits and empty
// file paths disable the corresponding check.
type Policy struct {
	MaxTradesPerDay int
	// MaxDailyLoss is a positive amount in quote currency.
	MaxDailyLoss   float64
	KillSwitchFile string
	HaltOrdersFile string
	Location       *time.Location
}

func (p Policy) Validate() error {
	if p.MaxTradesPerDay < 0 {
		return fmt.Errorf("max_trades_per_day must be >= 0")
	}
	if p.MaxDailyLoss < 0 {
		return fmt.Errorf("max_daily_loss_usd must be >= 0")
	}
	return nil
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// LoadLocation resolves name, defaulting to DefaultLocation.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultLocation
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("risk timezone %q: %w", name, err)
	}
	return loc, nil
}

// markerPresent reports whether an operator marker file exists.
func markerPresent(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}
