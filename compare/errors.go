package compare

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoOverlap means the two ledgers share no time window. The result
	// is inconclusive, not a failure.
	ErrNoOverlap = errors.New("ledgers do not overlap")

	ErrLifecycleMismatch = errors.New("lifecycle mismatch")
)

// LifecycleMismatchError names the first divergent timestamp.
type LifecycleMismatchError struct {
	// Layer is "decisions" or "trades".
	Layer  string
	TSMS   int64
	Fields []string
}

func (e *LifecycleMismatchError) Error() string {
	return fmt.Sprintf("%s: first mismatch at ts_ms=%d (%s)", e.Layer, e.TSMS, strings.Join(e.Fields, ","))
}

func (e *LifecycleMismatchError) Unwrap() error { return ErrLifecycleMismatch }
