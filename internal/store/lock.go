package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Error variables for file locking operations
var (
	// ErrLockTimeout is returned when a lock cannot be acquired within the specified timeout
	ErrLockTimeout = errors.New("lock acquisition timeout")
	// ErrLockNotHeld is returned when attempting to release a lock that isn't held
	ErrLockNotHeld = errors.New("lock not held")
)

const lockRetryInterval = 50 * time.Millisecond

// FileLock is an advisory, process-exclusive lock on a sibling ".lock" file.
// The OS releases it when the holder exits, so a crashed process never leaves a stale lock.
type FileLock struct {
	path     string
	lockFile *os.File
}

// NewFileLock creates a lock guarding target
func NewFileLock(target string) *FileLock {
	return &FileLock{path: target + ".lock"}
}

// Path returns the lock file location
func (fl *FileLock) Path() string {
	return fl.path
}

// Lock acquires the lock, retrying until timeout elapses
func (fl *FileLock) Lock(timeout time.Duration) error {
	if fl.lockFile != nil {
		return errors.New("lock already held")
	}
	if err := os.MkdirAll(filepath.Dir(fl.path), 0o700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		acquired, err := fl.tryLock()
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		time.Sleep(lockRetryInterval)
	}
}

func (fl *FileLock) tryLock() (bool, error) {
	file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return false, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := platformLock(file); err != nil {
		_ = file.Close()
		return false, nil
	}

	// A previous holder may have removed the file between our open and lock.
	onDisk, statErr := os.Stat(fl.path)
	held, heldErr := file.Stat()
	if statErr != nil || heldErr != nil || !os.SameFile(onDisk, held) {
		_ = platformUnlock(file)
		_ = file.Close()
		return false, nil
	}

	if err := file.Truncate(0); err == nil {
		_, _ = file.WriteString(strconv.Itoa(os.Getpid()))
	}
	fl.lockFile = file
	return true, nil
}

// Unlock releases the lock and removes the lock file
func (fl *FileLock) Unlock() error {
	if fl.lockFile == nil {
		return ErrLockNotHeld
	}

	// Remove while still holding the lock so a waiter never locks an orphaned inode.
	err := os.Remove(fl.path)
	if unlockErr := platformUnlock(fl.lockFile); unlockErr != nil && err == nil {
		err = unlockErr
	}
	if closeErr := fl.lockFile.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	fl.lockFile = nil
	return err
}

// IsLocked returns true if the lock is currently held
func (fl *FileLock) IsLocked() bool {
	return fl.lockFile != nil
}
