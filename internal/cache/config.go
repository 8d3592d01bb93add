package cache

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/webmaster128/clcache/internal/common"
)

// Configuration is the persisted, operator-tunable cache setting (spec §3,
// §6). Currently a single field; the JSON shape leaves room to grow without
// breaking readers of an older file.
type Configuration struct {
	MaximumCacheSize int64 `json:"MaximumCacheSize"`
}

// DefaultMaximumCacheSize is used when config.json is absent: 1 GiB.
const DefaultMaximumCacheSize = 1 << 30

// MinimumCacheSize is the floor enforced on any configured value (spec §3:
// "Default >= 1 KiB").
const MinimumCacheSize = 1024

// ConfigurationStore persists Configuration to config.json under the cache
// lock (spec §4.7: configuration is read-modify-write under the lock).
type ConfigurationStore struct {
	path string
	lock *Lock
}

func OpenConfigurationStore(cacheRoot string, lock *Lock) *ConfigurationStore {
	return &ConfigurationStore{path: filepath.Join(cacheRoot, "config.json"), lock: lock}
}

func (c *ConfigurationStore) Load() (Configuration, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Configuration{MaximumCacheSize: DefaultMaximumCacheSize}, nil
		}
		return Configuration{}, err
	}

	var cfg Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Configuration{MaximumCacheSize: DefaultMaximumCacheSize}, nil
	}
	if cfg.MaximumCacheSize < MinimumCacheSize {
		cfg.MaximumCacheSize = MinimumCacheSize
	}
	return cfg, nil
}

func (c *ConfigurationStore) Save(cfg Configuration) error {
	data, err := json.MarshalIndent(&cfg, "", "  ")
	if err != nil {
		return err
	}
	return common.AtomicWriteFile(c.path, data)
}

// Update loads, applies mutate, and saves under the cache lock.
func (c *ConfigurationStore) Update(mutate func(*Configuration)) (Configuration, error) {
	release, err := c.lock.Acquire(DefaultLockTimeout)
	if err != nil {
		return Configuration{}, err
	}
	defer release()

	cfg, err := c.Load()
	if err != nil {
		return Configuration{}, err
	}
	mutate(&cfg)
	if cfg.MaximumCacheSize < MinimumCacheSize {
		cfg.MaximumCacheSize = MinimumCacheSize
	}
	return cfg, c.Save(cfg)
}
