package cache

import (
	"testing"
	"time"
)

func TestLockSerializesWithinProcess(t *testing.T) {
	lock := OpenLock(t.TempDir())

	release, err := lock.Acquire(time.Second)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		releaseSecond, err := lock.Acquire(5 * time.Second)
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			return
		}
		close(acquired)
		releaseSecond()
	}()

	select {
	case <-acquired:
		t.Fatal("a second goroutine acquired the lock while the first holder still held it")
	case <-time.After(100 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never unblocked after release")
	}
}

func TestLockReleaseAllowsReacquisition(t *testing.T) {
	lock := OpenLock(t.TempDir())

	release, err := lock.Acquire(time.Second)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	release()

	release, err = lock.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	release()
}
