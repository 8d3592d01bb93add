// Package cache implements the on-disk, content-addressed stores (manifests
// and compiler artifacts), the cross-process cache lock, and the persisted
// configuration and statistics records (spec §4.6, §4.7).
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ShardCount partitions a store into 256 directories named by the first two
// hex characters of a key, the way nocc's FileCache shards its object store.
const ShardCount = 256

// Store is the directory shared by the Manifest and Artifact stores: a root
// with 256 pre-created shard subdirectories. It's a value-typed handle
// rooted at a path, not an owner of any state beyond the filesystem itself.
type Store struct {
	Root string
}

// OpenStore creates root and its 256 shard subdirectories if missing.
func OpenStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	for i := 0; i < ShardCount; i++ {
		shard := filepath.Join(root, fmt.Sprintf("%02x", i))
		if err := os.MkdirAll(shard, 0o755); err != nil {
			return nil, err
		}
	}
	return &Store{Root: root}, nil
}

// ShardDir returns the shard directory a key belongs to.
func (s *Store) ShardDir(key string) string {
	prefix := key
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(s.Root, prefix)
}

// shardEntry is one evictable unit: a manifest file or an artifact
// directory, identified by its own mtime for LRU-by-mtime ordering.
type shardEntry struct {
	path  string
	key   string
	mtime int64
	size  int64
}

// listShardEntries walks every shard's immediate children, treating each one
// (file or directory) named by isKey as one evictable entry. size computes
// the on-disk bytes of that single entry (its own size for a file, the sum
// of its tree for a directory).
func listShardEntries(root string, isKey func(name string) bool, size func(path string, info os.FileInfo) (int64, error)) ([]shardEntry, error) {
	var entries []shardEntry
	for i := 0; i < ShardCount; i++ {
		shard := filepath.Join(root, fmt.Sprintf("%02x", i))
		children, err := os.ReadDir(shard)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, child := range children {
			name := child.Name()
			if !isKey(name) {
				continue
			}
			info, err := child.Info()
			if err != nil {
				continue
			}
			entryPath := filepath.Join(shard, name)
			entrySize, err := size(entryPath, info)
			if err != nil {
				continue
			}
			entries = append(entries, shardEntry{
				path:  entryPath,
				key:   name,
				mtime: info.ModTime().UnixNano(),
				size:  entrySize,
			})
		}
	}
	return entries, nil
}

// dirSize sums the size of every regular file under root.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// evict sorts entries oldest-mtime-first and removes them via remove until
// the running total is at most target, implementing the LRU-by-mtime clean
// operation shared by both stores (spec §4.6). Entries that fail to remove
// are skipped rather than retried; a stale, already-gone entry is not an
// error here.
func evict(entries []shardEntry, target int64, remove func(shardEntry) error) int64 {
	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime < entries[j].mtime })

	var total int64
	for _, e := range entries {
		total += e.size
	}

	for _, e := range entries {
		if total <= target {
			break
		}
		if err := remove(e); err != nil {
			continue
		}
		total -= e.size
	}
	return total
}
