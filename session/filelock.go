package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// lockPolicy controls how long acquireFileLock waits for a competing writer.
type lockPolicy struct {
	retries    int
	retryDelay time.Duration
	staleAfter time.Duration
}

var defaultLockPolicy = lockPolicy{
	retries:    50,
	retryDelay: 100 * time.Millisecond,
	staleAfter: 30 * time.Second,
}

// fileLock is an exclusive lock held through a sibling "<path>.lock" file.
type fileLock struct {
	file *os.File
	path string
}

// acquireFileLock takes the lock guarding path, removing a lock file older
// than policy.staleAfter left behind by a crashed process.
func acquireFileLock(path string, policy lockPolicy) (*fileLock, error) {
	lockPath := path + ".lock"

	for i := 0; i < policy.retries; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// PID helps when debugging a stuck lock
			fmt.Fprintf(f, "%d", os.Getpid())
			return &fileLock{file: f, path: lockPath}, nil
		}

		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil &&
			time.Since(info.ModTime()) > policy.staleAfter {
			if remErr := os.Remove(lockPath); remErr != nil && !errors.Is(remErr, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, remErr)
			}
			continue
		}

		time.Sleep(policy.retryDelay)
	}

	return nil, fmt.Errorf(
		"timeout waiting for file lock after %v",
		time.Duration(policy.retries)*policy.retryDelay,
	)
}

// release drops the lock. A second call returns the os.Remove error.
func (l *fileLock) release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	return os.Remove(l.path)
}
