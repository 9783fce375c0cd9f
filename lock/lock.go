// Package lock provides a single-instance advisory lock so that only one
// writer per ledger key and role runs at a time.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/rustyeddy/parity/ledger"
	"github.com/rustyeddy/parity/market"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("lock held by another process")

// Lock is a held flock. The kernel drops it when the process exits.
type Lock struct {
	path  string
	file  *os.File
	token string
}

// Path returns <root>/locks/<role>-<run_id>-<SYMBOL>-<granularity>.lock.
func Path(root, role string, key ledger.Key) string {
	name := strings.Join([]string{role, key.RunID, market.StorageSymbol(key.Instrument), key.Granularity.String()}, "-")
	return filepath.Join(root, "locks", name+".lock")
}

// TryAcquire takes an exclusive lock on path without blocking.
func TryAcquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			owner, _ := Owner(path)
			return nil, fmt.Errorf("%s (%s): %w", path, owner, ErrLocked)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	l := &Lock{path: path, file: f, token: uuid.NewString()}
	if err := l.record(); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

// Acquire takes an exclusive lock on path, waiting for the current holder.
// It is meant for short critical sections shared between processes.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	l := &Lock{path: path, file: f, token: uuid.NewString()}
	if err := l.record(); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

func (l *Lock) record() error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	line := "pid=" + strconv.Itoa(os.Getpid()) + " token=" + l.token + "\n"
	_, err := l.file.WriteAt([]byte(line), 0)
	return err
}

func (l *Lock) Path() string  { return l.path }
func (l *Lock) Token() string { return l.token }

// Release unlocks and closes the file. The file itself is left in place.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err = errors.Join(err, l.file.Close())
	l.file = nil
	return err
}

// Owner returns the owner line recorded in the lock file.
func Owner(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Held reports whether some process currently holds the lock at path. A
// missing lock file is not held.
func Held(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return true, nil
		}
		return false, err
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false, nil
}
