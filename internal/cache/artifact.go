package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/webmaster128/clcache/internal/common"
)

// ArtifactStore is the sharded map from object-hash to a CacheEntry: a
// per-key subdirectory holding object, stdout and stderr (spec §4.6).
type ArtifactStore struct {
	*Store
}

func OpenArtifactStore(root string) (*ArtifactStore, error) {
	store, err := OpenStore(root)
	if err != nil {
		return nil, err
	}
	return &ArtifactStore{store}, nil
}

func (a *ArtifactStore) entryDir(key string) string {
	return filepath.Join(a.ShardDir(key), key)
}

func (a *ArtifactStore) Exists(key string) bool {
	info, err := os.Stat(a.entryDir(key))
	return err == nil && info.IsDir()
}

// Save stores objectSrcPath, stdout and stderr under key. If key already has
// an entry, Save is a no-op: identical keys imply identical content by
// construction, so we never overwrite (spec §4.6 write protocol).
func (a *ArtifactStore) Save(key string, objectSrcPath string, stdout, stderr []byte) error {
	if a.Exists(key) {
		return nil
	}

	tmpDir, err := os.MkdirTemp(a.ShardDir(key), key+".tmp-")
	if err != nil {
		return err
	}
	ok := false
	defer func() {
		if !ok {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	if err := copyFile(filepath.Join(tmpDir, "object"), objectSrcPath); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "stdout"), stdout, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "stderr"), stderr, 0o644); err != nil {
		return err
	}

	if err := os.Rename(tmpDir, a.entryDir(key)); err != nil {
		if os.IsExist(err) {
			ok = true // another process won the race; its content is identical by construction
			return nil
		}
		return err
	}
	ok = true
	return nil
}

// Load returns the stored stdout/stderr for key, and false if key is a miss.
func (a *ArtifactStore) Load(key string) (stdout, stderr []byte, ok bool, err error) {
	dir := a.entryDir(key)
	if !a.Exists(key) {
		return nil, nil, false, nil
	}
	stdout, err = os.ReadFile(filepath.Join(dir, "stdout"))
	if err != nil {
		return nil, nil, false, err
	}
	stderr, err = os.ReadFile(filepath.Join(dir, "stderr"))
	if err != nil {
		return nil, nil, false, err
	}
	return stdout, stderr, true, nil
}

// Restore places the cached object file at destPath. With hardlink, a link
// is created instead of a copy (CLCACHE_HARDLINK): faster, but a reader that
// later edits destPath in place would corrupt the shared cached file, which
// is why it's opt-in and off by default.
func (a *ArtifactStore) Restore(key string, destPath string, hardlink bool) error {
	objectPath := filepath.Join(a.entryDir(key), "object")
	if err := common.MkdirForFile(destPath); err != nil {
		return err
	}
	if hardlink {
		if err := os.Link(objectPath, destPath); err == nil || os.IsExist(err) {
			return nil
		}
		// fall through to a copy if linking isn't supported on this volume
	}
	return common.AtomicCopyFile(destPath, objectPath)
}

// Clean evicts the oldest artifact directories (by directory mtime) until
// the store's size is at most target. Deletion removes the payload files
// before the directory itself, so a crash mid-eviction never leaves a
// directory that looks populated but is actually partially gone (spec §4.6).
func (a *ArtifactStore) Clean(target int64) (int64, error) {
	entries, err := a.listEntries()
	if err != nil {
		return 0, err
	}
	return evict(entries, target, func(e shardEntry) error {
		_ = os.Remove(filepath.Join(e.path, "object"))
		_ = os.Remove(filepath.Join(e.path, "stdout"))
		_ = os.Remove(filepath.Join(e.path, "stderr"))
		return os.Remove(e.path)
	}), nil
}

func (a *ArtifactStore) Size() (int64, error) {
	entries, err := a.listEntries()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.size
	}
	return total, nil
}

func (a *ArtifactStore) listEntries() ([]shardEntry, error) {
	return listShardEntries(a.Root,
		func(name string) bool { return true },
		func(path string, info os.FileInfo) (int64, error) {
			if !info.IsDir() {
				return 0, fmt.Errorf("%s: not an artifact directory", path)
			}
			return dirSize(path)
		},
	)
}

func copyFile(destPath, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	_, err = io.Copy(dest, src)
	return err
}
