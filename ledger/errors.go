package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNonMonotonicWrite is returned in strict mode for an append at or
	// before the last recorded timestamp of a log.
	ErrNonMonotonicWrite = errors.New("non-monotonic write")

	// ErrPersistFailed wraps I/O failures during an append.
	ErrPersistFailed = errors.New("persist failed")
)

// NonMonotonicWriteError carries the offending key and timestamps.
type NonMonotonicWriteError struct {
	Key    Key
	Log    string
	TSMS   int64
	LastTS int64
}

func (e *NonMonotonicWriteError) Error() string {
	return fmt.Sprintf("%s %s: ts_ms=%d <= last ts_ms=%d (rows must be strictly increasing)",
		e.Log, e.Key, e.TSMS, e.LastTS)
}

func (e *NonMonotonicWriteError) Unwrap() error { return ErrNonMonotonicWrite }

// PersistError is an append that did not reach the log.
type PersistError struct {
	Path string
	TSMS int64
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist failed: %s ts_ms=%d: %v", e.Path, e.TSMS, e.Err)
}

func (e *PersistError) Unwrap() []error { return []error{ErrPersistFailed, e.Err} }
