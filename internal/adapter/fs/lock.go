package fs

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrLockHeld is returned when another process already holds the cycle lock.
var ErrLockHeld = errors.New("lock already held by another process")

// CycleLock is an exclusive, non-blocking file lock guarding the index
// store against concurrent cycles. If the lock is unavailable the caller
// exits immediately rather than queuing; a missed cycle is acceptable, a
// concurrent double-write is not.
type CycleLock struct {
	file *os.File
}

// AcquireCycleLock takes the lock or fails without blocking.
func AcquireCycleLock(path string) (*CycleLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	return &CycleLock{file: f}, nil
}

// Release drops the lock.
func (l *CycleLock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}
