// Package lock provides the host's single-instance guard. Two hosts
// sharing a base port would race over worker endpoints, so the daemon
// takes an exclusive PID lock before spawning anything.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// PIDLock holds an exclusive flock(2) on a PID file. The lock lives as
// long as the descriptor stays open; Release drops both.
type PIDLock struct {
	path string
	f    *os.File
}

// AcquirePIDLock takes a non-blocking exclusive lock at path and records
// the current PID in the file. A second caller fails immediately rather
// than waiting for the holder to exit.
func AcquirePIDLock(path string) (*PIDLock, error) {
	if path == "" {
		return nil, fmt.Errorf("pid lock: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("pid lock: create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pid lock: open %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("pid lock: another instance holds %s: %w", path, err)
	}

	fail := func(step string, err error) error {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return fmt.Errorf("pid lock: %s: %w", step, err)
	}
	if err := f.Truncate(0); err != nil {
		return nil, fail("truncate", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, fail("seek", err)
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		return nil, fail("write pid", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fail("sync", err)
	}

	return &PIDLock{path: path, f: f}, nil
}

// Path returns the lock file location.
func (l *PIDLock) Path() string { return l.path }

// Release unlocks and closes the PID file. Safe on a nil or already
// released lock.
func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
