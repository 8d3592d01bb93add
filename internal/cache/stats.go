package cache

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/webmaster128/clcache/internal/common"
)

// Statistics are the persisted counters from spec §3. Partitioned-miss
// fields must always sum to NumCacheMisses (spec §8 invariant); callers
// enforce that by only ever incrementing one partition alongside the total
// in the same Update call.
type Statistics struct {
	CacheHits int64 `json:"cacheHits"`

	NumCacheMisses      int64 `json:"numCacheMisses"`
	MissesFresh         int64 `json:"missesFresh"`
	MissesHeaderChanged int64 `json:"missesHeaderChanged"`
	MissesSourceChanged int64 `json:"missesSourceChanged"`
	MissesEvicted       int64 `json:"missesEvicted"`

	CallsWithoutSource         int64 `json:"callsWithoutSource"`
	CallsForLinking            int64 `json:"callsForLinking"`
	CallsWithPch               int64 `json:"callsWithPch"`
	CallsForPreprocessing      int64 `json:"callsForPreprocessing"`
	CallsWithInvalidArgs       int64 `json:"callsWithInvalidArgs"`
	CallsWithUnsupportedEnv    int64 `json:"callsWithUnsupportedEnv"`
	CallsForExternalDebugInfo int64 `json:"callsForExternalDebugInfo"`
}

// StatisticsStore persists Statistics to stats.json under the cache lock.
type StatisticsStore struct {
	path string
	lock *Lock
}

func OpenStatisticsStore(cacheRoot string, lock *Lock) *StatisticsStore {
	return &StatisticsStore{path: filepath.Join(cacheRoot, "stats.json"), lock: lock}
}

func (s *StatisticsStore) Load() (Statistics, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Statistics{}, nil
		}
		return Statistics{}, err
	}

	var stats Statistics
	if err := json.Unmarshal(data, &stats); err != nil {
		return Statistics{}, nil
	}
	return stats, nil
}

func (s *StatisticsStore) Save(stats Statistics) error {
	data, err := json.MarshalIndent(&stats, "", "  ")
	if err != nil {
		return err
	}
	return common.AtomicWriteFile(s.path, data)
}

// Update loads, applies mutate, and saves under the cache lock (spec §4.7,
// §8: every completed operation updates exactly its own counters once).
func (s *StatisticsStore) Update(mutate func(*Statistics)) (Statistics, error) {
	release, err := s.lock.Acquire(DefaultLockTimeout)
	if err != nil {
		return Statistics{}, err
	}
	defer release()

	stats, err := s.Load()
	if err != nil {
		return Statistics{}, err
	}
	mutate(&stats)
	return stats, s.Save(stats)
}

// Reset zeroes every counter and returns the values from just before the
// reset.
func (s *StatisticsStore) Reset() (Statistics, error) {
	var before Statistics
	_, err := s.Update(func(stats *Statistics) {
		before = *stats
		*stats = Statistics{}
	})
	return before, err
}
