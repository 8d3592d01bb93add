package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLockTimeout is returned by Lock.Acquire when the bounded wait for
// another process's lock expires (spec §4.7).
var ErrLockTimeout = errors.New("cache lock: timed out waiting for another process")

// DefaultLockTimeout bounds how long a call waits for another process's
// stats/manifest/eviction critical section before giving up with diagnostics.
const DefaultLockTimeout = 30 * time.Second

// Lock is the named, cross-process advisory lock scoped to the cache root.
// Two layers guard one critical section at a time: an in-process mu
// serializes this process's own goroutines (the flock alone wouldn't,
// since flock is a whole-process notion on Linux), and the OS-level flock
// on top serializes across processes sharing the same cache root.
type Lock struct {
	path string

	mu   sync.Mutex
	file *os.File
}

func OpenLock(cacheRoot string) *Lock {
	return &Lock{path: filepath.Join(cacheRoot, ".clcache.lock")}
}

// Acquire blocks on the in-process mutex, then retries an exclusive
// non-blocking flock on the lock file until it succeeds or timeout elapses.
// The returned func releases this acquisition; call it exactly once,
// typically via defer. A goroutine that already holds the lock must not
// call Acquire again: mu is a plain mutex, not reentrant, and none of this
// package's own call paths ever nest one Acquire inside another.
func (l *Lock) Acquire(timeout time.Duration) (func(), error) {
	l.mu.Lock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("cache lock: opening %s: %w", l.path, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			_ = file.Close()
			l.mu.Unlock()
			return nil, ErrLockTimeout
		}
		time.Sleep(10 * time.Millisecond)
	}

	l.file = file
	return l.release, nil
}

func (l *Lock) release() {
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
	l.mu.Unlock()
}
