package session

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFileLock_BasicAcquireRelease(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "session.json")

	lock, err := acquireFileLock(testFile, defaultLockPolicy)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	lockPath := testFile + ".lock"
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		t.Errorf("Lock file was not created")
	}

	if err := lock.release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}

	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("Lock file was not removed after release")
	}
}

func TestFileLock_ConcurrentAccess(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "session.json")

	const goroutines = 8
	const iterations = 4

	var (
		holders   atomic.Int32
		successes atomic.Int32
		wg        sync.WaitGroup
	)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()

			for j := 0; j < iterations; j++ {
				lock, err := acquireFileLock(testFile, defaultLockPolicy)
				if err != nil {
					t.Errorf("Goroutine %d iteration %d: Failed to acquire lock: %v", id, j, err)
					return
				}

				if n := holders.Add(1); n != 1 {
					t.Errorf("Goroutine %d: %d holders inside the lock", id, n)
				}
				time.Sleep(5 * time.Millisecond)
				holders.Add(-1)
				successes.Add(1)

				if err := lock.release(); err != nil {
					t.Errorf("Goroutine %d iteration %d: Failed to release lock: %v", id, j, err)
					return
				}
			}
		}(i)
	}

	wg.Wait()

	if got, want := successes.Load(), int32(goroutines*iterations); got != want {
		t.Errorf("Expected %d successful operations, got %d", want, got)
	}
}

func TestFileLock_StaleLockRemoved(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "session.json")
	lockPath := testFile + ".lock"

	stale, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("Failed to create stale lock: %v", err)
	}
	stale.Close()

	staleTime := time.Now().Add(-35 * time.Second)
	if err := os.Chtimes(lockPath, staleTime, staleTime); err != nil {
		t.Fatalf("Failed to set stale lock time: %v", err)
	}

	lock, err := acquireFileLock(testFile, defaultLockPolicy)
	if err != nil {
		t.Fatalf("Failed to acquire lock after stale lock: %v", err)
	}
	defer lock.release()

	if lock.file == nil {
		t.Errorf("Lock file handle is nil")
	}
}

func TestFileLock_Timeout(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "session.json")
	lockPath := testFile + ".lock"

	held, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("Failed to create lock: %v", err)
	}
	held.Close()

	policy := lockPolicy{retries: 5, retryDelay: 10 * time.Millisecond, staleAfter: time.Minute}

	start := time.Now()
	_, err = acquireFileLock(testFile, policy)
	if err == nil {
		t.Fatalf("Expected timeout error, but lock was acquired")
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Gave up after %v, expected to wait for all retries", elapsed)
	}
}

func TestFileLock_SecondReleaseFails(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "session.json")

	lock, err := acquireFileLock(testFile, defaultLockPolicy)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	if err := lock.release(); err != nil {
		t.Errorf("First release failed: %v", err)
	}
	if err := lock.release(); err == nil {
		t.Errorf("Second release should report the missing lock file")
	}
}
