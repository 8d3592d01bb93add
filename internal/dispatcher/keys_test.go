package dispatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webmaster128/clcache/internal/cache"
	"github.com/webmaster128/clcache/internal/common"
)

func identity(s string) string { return s }

func TestCompilerIdentityChangesWithMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cl.exe")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o755))

	first, err := CompilerIdentity(path)
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	second, err := CompilerIdentity(path)
	require.NoError(t, err)
	require.NotEqual(t, first, second, "a newer mtime must fingerprint as a different compiler identity")
}

func TestNormalizedArgsDigestIgnoresFlagOrder(t *testing.T) {
	a := NormalizedArgsDigest(map[string][]string{"/I": {"inc1", "inc2"}, "/D": {"X=1"}}, identity)
	b := NormalizedArgsDigest(map[string][]string{"/D": {"X=1"}, "/I": {"inc1", "inc2"}}, identity)
	require.Equal(t, a, b)
}

func TestNormalizedArgsDigestDiffersOnValue(t *testing.T) {
	a := NormalizedArgsDigest(map[string][]string{"/D": {"X=1"}}, identity)
	b := NormalizedArgsDigest(map[string][]string{"/D": {"X=2"}}, identity)
	require.NotEqual(t, a, b)
}

func TestNormalizedArgsDigestAppliesBaseDirToEachValue(t *testing.T) {
	rootA := &cache.CacheRoot{BaseDir: `C:\checkout-a`}
	rootB := &cache.CacheRoot{BaseDir: `C:\checkout-b`}

	a := NormalizedArgsDigest(map[string][]string{"/I": {`C:\checkout-a\include`}}, rootA.NormalizeBaseDir)
	b := NormalizedArgsDigest(map[string][]string{"/I": {`C:\checkout-b\include`}}, rootB.NormalizeBaseDir)
	require.Equal(t, a, b, "an /I path under each checkout's own BaseDir should normalize to the same digest")

	c := NormalizedArgsDigest(map[string][]string{"/D": {"X=1"}}, rootA.NormalizeBaseDir)
	d := NormalizedArgsDigest(map[string][]string{"/D": {"X=1"}}, rootB.NormalizeBaseDir)
	require.Equal(t, c, d, "a value that isn't a BaseDir-rooted path passes through untouched")
}

func TestManifestKeyNormalizesBaseDirAcrossCheckouts(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	srcA := filepath.Join(dirA, "src", "main.cpp")
	srcB := filepath.Join(dirB, "src", "main.cpp")
	require.NoError(t, os.MkdirAll(filepath.Dir(srcA), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Dir(srcB), 0o755))
	require.NoError(t, os.WriteFile(srcA, []byte("int main(){return 0;}"), 0o644))
	require.NoError(t, os.WriteFile(srcB, []byte("int main(){return 0;}"), 0o644))

	rootA := &cache.CacheRoot{BaseDir: dirA}
	rootB := &cache.CacheRoot{BaseDir: dirB}

	compilerID := common.Digest("fixed-compiler-identity")
	argsDigest := NormalizedArgsDigest(map[string][]string{"/c": {}}, identity)

	keyA, err := ManifestKey(compilerID, argsDigest, srcA, rootA.NormalizeBaseDir(srcA))
	require.NoError(t, err)
	keyB, err := ManifestKey(compilerID, argsDigest, srcB, rootB.NormalizeBaseDir(srcB))
	require.NoError(t, err)

	require.Equal(t, keyA, keyB, "two checkouts with the same relative layout under their own BaseDir must hit the same manifest key")

	// sanity check: without BaseDir normalization the raw paths differ, so the
	// feature would be a no-op if NormalizeBaseDir were never applied.
	require.NotEqual(t, srcA, srcB)
}

func TestIncludesContentHashOrderSensitive(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.h")
	b := filepath.Join(dir, "b.h")
	require.NoError(t, os.WriteFile(a, []byte("AAA"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("BBB"), 0o644))

	forward, err := IncludesContentHash([]string{a, b})
	require.NoError(t, err)
	backward, err := IncludesContentHash([]string{b, a})
	require.NoError(t, err)
	require.NotEqual(t, forward, backward, "includes hash must be sensitive to discovery order")
}

func TestIncludesContentHashChangesWithFileContent(t *testing.T) {
	dir := t.TempDir()
	h := filepath.Join(dir, "h.h")
	require.NoError(t, os.WriteFile(h, []byte("v1"), 0o644))

	before, err := IncludesContentHash([]string{h})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(h, []byte("v2"), 0o644))
	after, err := IncludesContentHash([]string{h})
	require.NoError(t, err)

	require.NotEqual(t, before, after)
}
