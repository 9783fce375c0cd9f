package live

import (
	"errors"
	"fmt"
)

// ErrFetchFailed marks a tick whose bar fetch failed.
var ErrFetchFailed = errors.New("bar fetch failed")

type FetchError struct {
	Instrument string
	// SkipTS is the timestamp of the fetch_failed row, zero when none was
	// written.
	SkipTS int64
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Instrument, e.Err)
}

func (e *FetchError) Unwrap() []error { return []error{ErrFetchFailed, e.Err} }
