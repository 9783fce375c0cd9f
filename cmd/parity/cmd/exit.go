package cmd

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/parity/lock"
)

// Exit codes shared by every command.
const (
	ExitOK     = 0
	ExitFailed = 1
	// ExitNoOverlap is returned by compare when the ledgers share no window.
	ExitNoOverlap = 2
	// ExitLocked means another process holds the role lock.
	ExitLocked = 3
	// ExitWarn is returned by health when a check warns.
	ExitWarn = 4
)

// ExitError carries a process exit code. A nil Err exits quietly.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if errors.Is(err, lock.ErrLocked) {
		return ExitLocked
	}
	return ExitFailed
}
