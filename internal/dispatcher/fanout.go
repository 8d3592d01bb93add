package dispatcher

import (
	"runtime"
	"strconv"
	"strings"
)

// JobCount implements the /MP[n] parsing rule from spec §8 scenario S8:
// the last /MP token on the line wins; no attached value means the logical
// CPU count; a non-numeric or non-positive value collapses to 1 (never
// "no parallelism at all" via a crash, just serial fan-out).
func JobCount(argv []string) int {
	jobs := 0
	seen := false

	for _, arg := range argv {
		if !strings.HasPrefix(arg, "/MP") && !strings.HasPrefix(arg, "-MP") {
			continue
		}
		seen = true
		rest := arg[3:]
		if rest == "" {
			jobs = runtime.NumCPU()
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 {
			jobs = 1
			continue
		}
		jobs = n
	}

	if !seen {
		return 1
	}
	return jobs
}

// throttle bounds how many compiler subprocesses run at once, mirroring
// nocc's Daemon.localCxxThrottle channel-as-semaphore.
type throttle chan struct{}

func newThrottle(size int) throttle {
	if size < 1 {
		size = 1
	}
	return make(throttle, size)
}

func (t throttle) acquire() { t <- struct{}{} }
func (t throttle) release() { <-t }
