package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Granularity is a bar interval such as "5m", "1h" or "1d".
type Granularity string

// ParseGranularity normalises and validates s.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if err := g.Validate(); err != nil {
		return "", err
	}
	return g, nil
}

func (g Granularity) String() string { return string(g) }

// Validate accepts a positive integer followed by m, h or d.
func (g Granularity) Validate() error {
	_, err := g.parse()
	return err
}

func (g Granularity) parse() (time.Duration, error) {
	s := string(g)
	if len(s) < 2 {
		return 0, fmt.Errorf("granularity invalid: %q", s)
	}
	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("granularity invalid: %q (expected leading int)", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("granularity invalid: %q (must be positive)", s)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("granularity invalid: %q (expected suffix m/h/d)", s)
	}
}

// Duration returns the bar length; zero for an invalid granularity.
func (g Granularity) Duration() time.Duration {
	d, _ := g.parse()
	return d
}

// Millis returns the bar length in milliseconds.
func (g Granularity) Millis() int64 {
	return g.Duration().Milliseconds()
}

// Floor rounds ms down to the nearest boundary.
func (g Granularity) Floor(ms int64) int64 {
	step := g.Millis()
	if step <= 0 {
		return ms
	}
	r := ms % step
	if r < 0 {
		r += step
	}
	return ms - r
}

// Aligned reports whether ms sits exactly on a boundary.
func (g Granularity) Aligned(ms int64) bool {
	return g.Millis() > 0 && g.Floor(ms) == ms
}

// BarsBetween returns how many whole bars separate two boundaries.
func (g Granularity) BarsBetween(fromMS, toMS int64) int64 {
	step := g.Millis()
	if step <= 0 {
		return 0
	}
	return (toMS - fromMS) / step
}
