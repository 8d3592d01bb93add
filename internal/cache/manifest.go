package cache

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/webmaster128/clcache/internal/common"
)

// Manifest records, for one manifest-hash, every header list observed and
// the object each resulting includes-content hash produced (spec §3, §4.5).
type Manifest struct {
	IncludeFiles []string          `json:"includeFiles"`
	Entries      map[string]string `json:"entries"` // includesContentHash -> objectKey
}

// ManifestStore is the sharded map from manifest-hash to Manifest, one JSON
// file per key (spec §4.6).
type ManifestStore struct {
	*Store
}

func OpenManifestStore(root string) (*ManifestStore, error) {
	store, err := OpenStore(root)
	if err != nil {
		return nil, err
	}
	return &ManifestStore{store}, nil
}

func (m *ManifestStore) path(key string) string {
	return m.ShardDir(key) + string(os.PathSeparator) + key + ".json"
}

// Load returns nil, nil on a cache miss (absent or corrupt file); corrupt
// JSON is deleted so it doesn't keep surfacing as a broken entry (spec §4.6
// read protocol, §7 cache-level failure recovery).
func (m *ManifestStore) Load(key string) (*Manifest, error) {
	data, err := os.ReadFile(m.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		_ = os.Remove(m.path(key))
		return nil, nil
	}
	return &manifest, nil
}

// Save writes manifest under key via the atomic temp-file-then-rename
// protocol (spec §4.6 write protocol).
func (m *ManifestStore) Save(key string, manifest *Manifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	return common.AtomicWriteFile(m.path(key), data)
}

// Size reports the on-disk bytes consumed by all manifest files.
func (m *ManifestStore) Size() (int64, error) {
	entries, err := m.listEntries()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.size
	}
	return total, nil
}

// Clean evicts the oldest manifests (by file mtime) until the store's size
// is at most target, returning the resulting size (spec §4.6 clean(target)).
func (m *ManifestStore) Clean(target int64) (int64, error) {
	entries, err := m.listEntries()
	if err != nil {
		return 0, err
	}
	return evict(entries, target, func(e shardEntry) error {
		return os.Remove(e.path)
	}), nil
}

func (m *ManifestStore) listEntries() ([]shardEntry, error) {
	return listShardEntries(m.Root,
		func(name string) bool { return strings.HasSuffix(name, ".json") },
		func(path string, info os.FileInfo) (int64, error) { return info.Size(), nil },
	)
}
