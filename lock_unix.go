//go:build !windows

package matlib

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// fileLock serializes writers of a cache file across processes using
// flock() advisory locking.
type fileLock struct {
	file    *os.File
	timeout time.Duration
	locked  bool
}

// newFileLock opens (creating if needed) the lock file at path.
func newFileLock(path string, timeout time.Duration) (*fileLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return &fileLock{file: file, timeout: timeout}, nil
}

// Lock takes an exclusive lock, polling until timeout expires.
func (l *fileLock) Lock() error {
	if l.locked {
		return nil
	}
	return pollLock(l.timeout, func() error {
		err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			l.locked = true
		}
		return err
	})
}

// Unlock releases the lock and closes the file. Safe to call more than once.
func (l *fileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	var err error
	if l.locked {
		err = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
		l.locked = false
	}
	l.file.Close()
	l.file = nil
	return err
}
