package cache

import "testing"

func TestStatisticsStoreUpdateAccumulates(t *testing.T) {
	dir := t.TempDir()
	store := OpenStatisticsStore(dir, OpenLock(dir))

	if _, err := store.Update(func(s *Statistics) {
		s.CacheHits++
	}); err != nil {
		t.Fatalf("Update 1: %v", err)
	}
	if _, err := store.Update(func(s *Statistics) {
		s.NumCacheMisses++
		s.MissesSourceChanged++
	}); err != nil {
		t.Fatalf("Update 2: %v", err)
	}

	stats, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stats.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", stats.CacheHits)
	}
	if stats.NumCacheMisses != stats.MissesSourceChanged {
		t.Errorf("partitioned misses (%d) must sum to NumCacheMisses (%d)", stats.MissesSourceChanged, stats.NumCacheMisses)
	}
}

func TestStatisticsStoreReset(t *testing.T) {
	dir := t.TempDir()
	store := OpenStatisticsStore(dir, OpenLock(dir))

	_, _ = store.Update(func(s *Statistics) { s.CacheHits = 7 })

	before, err := store.Reset()
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if before.CacheHits != 7 {
		t.Errorf("before.CacheHits = %d, want 7", before.CacheHits)
	}

	after, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if after.CacheHits != 0 {
		t.Errorf("after reset CacheHits = %d, want 0", after.CacheHits)
	}
}
