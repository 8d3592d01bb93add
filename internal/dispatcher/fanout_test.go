package dispatcher

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThrottleBoundsConcurrency(t *testing.T) {
	pool := newThrottle(2)

	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.acquire()
			defer pool.release()

			n := atomic.AddInt32(&inFlight, 1)
			for {
				observed := atomic.LoadInt32(&maxObserved)
				if n <= observed || atomic.CompareAndSwapInt32(&maxObserved, observed, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, int(maxObserved), 2)
}

func TestNewThrottleFloorsAtOne(t *testing.T) {
	pool := newThrottle(0)
	require.Equal(t, 1, cap(pool))
}
