package cache

import (
	"os"
	"path/filepath"
	"strings"
)

// CacheRoot is the single collaborator object the Dispatcher holds: it owns
// both stores, the lock, and the configuration/statistics records outright,
// re-architected out of the source's module-level globals (spec §9 "global
// mutable state"), the way nocc's NoccServer owns its caches and cron.
type CacheRoot struct {
	Dir string

	Manifests *ManifestStore
	Artifacts *ArtifactStore
	Lock      *Lock
	Config    *ConfigurationStore
	Stats     *StatisticsStore

	Hardlink bool   // CLCACHE_HARDLINK
	NoDirect bool   // CLCACHE_NODIRECT
	BaseDir  string // CLCACHE_BASEDIR
}

// Open roots a CacheRoot at dir, creating the manifest and artifact shard
// trees if they don't exist yet.
func Open(dir string) (*CacheRoot, error) {
	lock := OpenLock(dir)

	manifests, err := OpenManifestStore(filepath.Join(dir, "manifests"))
	if err != nil {
		return nil, err
	}
	artifacts, err := OpenArtifactStore(filepath.Join(dir, "objects"))
	if err != nil {
		return nil, err
	}

	return &CacheRoot{
		Dir:       dir,
		Manifests: manifests,
		Artifacts: artifacts,
		Lock:      lock,
		Config:    OpenConfigurationStore(dir, lock),
		Stats:     OpenStatisticsStore(dir, lock),
	}, nil
}

// OpenFromEnv roots a CacheRoot the way the wrapper does when invoked as
// cl.exe: CLCACHE_DIR picks the root (defaulting to a platform user cache
// dir), and the remaining CLCACHE_* variables are observed directly. The
// `flag` combinator in internal/common can't be reused here: argv belongs to
// the compiler being wrapped, not to clcache's own flags, so these are
// os.Getenv reads only (spec §6 environment variables).
func OpenFromEnv() (*CacheRoot, error) {
	root, err := Open(defaultCacheDir())
	if err != nil {
		return nil, err
	}
	root.Hardlink = envFlag("CLCACHE_HARDLINK")
	root.NoDirect = envFlag("CLCACHE_NODIRECT")
	root.BaseDir = os.Getenv("CLCACHE_BASEDIR")
	return root, nil
}

func defaultCacheDir() string {
	if dir := os.Getenv("CLCACHE_DIR"); dir != "" {
		return dir
	}
	if userCacheDir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(userCacheDir, "clcache")
	}
	return filepath.Join(os.TempDir(), "clcache")
}

func envFlag(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	return v != "" && v != "0" && v != "false"
}

// NormalizeBaseDir rewrites absPath to a stable placeholder form when it
// falls under BaseDir, so identical sources checked out at different
// locations still produce the same manifest key (CLCACHE_BASEDIR, spec §6).
func (c *CacheRoot) NormalizeBaseDir(absPath string) string {
	if c.BaseDir == "" {
		return absPath
	}
	if rel, ok := cutPrefixFold(absPath, c.BaseDir); ok {
		return "<BASEDIR>" + rel
	}
	return absPath
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

// Size returns the combined on-disk bytes of both stores.
func (c *CacheRoot) Size() (int64, error) {
	manifestBytes, err := c.Manifests.Size()
	if err != nil {
		return 0, err
	}
	artifactBytes, err := c.Artifacts.Size()
	if err != nil {
		return 0, err
	}
	return manifestBytes + artifactBytes, nil
}

// EvictIfNeeded cleans both stores down to the configured maximum. Called
// after any write that could have pushed the cache over budget: the stores
// themselves only expose clean(target), the scheduling decision belongs to
// the Dispatcher (spec §4.6: "Repositories emit hooks so the dispatcher can
// schedule eviction").
func (c *CacheRoot) EvictIfNeeded() error {
	release, err := c.Lock.Acquire(DefaultLockTimeout)
	if err != nil {
		return err
	}
	defer release()

	cfg, err := c.Config.Load()
	if err != nil {
		return err
	}
	size, err := c.Size()
	if err != nil {
		return err
	}
	if size <= cfg.MaximumCacheSize {
		return nil
	}
	return c.cleanLocked(cfg.MaximumCacheSize)
}

// Clean forces both stores down to a combined target, for the `--clean`
// administrative subcommand (spec §6, scenario S7).
func (c *CacheRoot) Clean(target int64) (int64, error) {
	release, err := c.Lock.Acquire(DefaultLockTimeout)
	if err != nil {
		return 0, err
	}
	defer release()

	if err := c.cleanLocked(target); err != nil {
		return 0, err
	}
	return c.Size()
}

// cleanLocked splits target evenly between the two stores. Manifests are
// tiny relative to artifacts in practice, so this mostly bounds the artifact
// store, which is where eviction earns its keep; callers must already hold
// the lock.
func (c *CacheRoot) cleanLocked(target int64) error {
	if target < 0 {
		target = 0
	}
	half := target / 2
	if _, err := c.Manifests.Clean(half); err != nil {
		return err
	}
	if _, err := c.Artifacts.Clean(target - half); err != nil {
		return err
	}
	return nil
}
