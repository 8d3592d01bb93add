package dispatcher

import (
	"os"
	"sort"
	"strconv"

	"github.com/webmaster128/clcache/internal/common"
)

// CompilerIdentity fingerprints the real compiler binary by path, size and
// modification time, so a key derived under one cl.exe build never collides
// with one derived under another (spec §1 non-goal: "the cache is keyed on
// compiler binary identity").
func CompilerIdentity(path string) (common.Digest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return common.NewHasher().
		WriteString(path).
		WriteString(info.ModTime().UTC().Format("20060102150405.000000000")).
		WriteString(strconv.FormatInt(info.Size(), 10)).
		Sum(), nil
}

// NormalizedArgsDigest hashes the argument multimap in a stable, name-sorted
// order, so key derivation doesn't depend on flag order (spec §4.8:
// "manifest_key = H(compiler_binary_id || normalized_args || ...)"). Values
// within one argument name keep their original (repetition-preserving)
// order. Each value passes through normalizePath first (CLCACHE_BASEDIR,
// spec §4.10): an /I or /FI path under BaseDir hashes the same regardless
// of which absolute checkout it was built from; a value that isn't a path
// under BaseDir passes through unchanged.
func NormalizedArgsDigest(args map[string][]string, normalizePath func(string) string) common.Digest {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	hasher := common.NewHasher()
	for _, name := range names {
		hasher.WriteString(name)
		for _, value := range args[name] {
			hasher.WriteString(normalizePath(value))
		}
	}
	return hasher.Sum()
}

// ManifestKey derives the direct-mode manifest hash from the compiler
// identity, the normalized arguments, and the source file's own path and
// contents (spec §4.8 step 1). realSourcePath is read from disk for
// source_contents; keySourcePath is what gets hashed for source_path, so a
// checkout relocated under a different BaseDir still derives the same key
// (CLCACHE_BASEDIR, spec §4.10).
func ManifestKey(compilerID, argsDigest common.Digest, realSourcePath, keySourcePath string) (common.Digest, error) {
	hasher := common.NewHasher().
		WriteDigest(compilerID).
		WriteDigest(argsDigest).
		WriteString(keySourcePath)
	if err := hasher.WriteFile(realSourcePath); err != nil {
		return "", err
	}
	return hasher.Sum(), nil
}

// ObjectKeyFromText derives the object hash from the compiler identity, the
// normalized arguments, and already-available text (preprocessed source in
// preprocessor mode, or its stand-in in true-miss mode) (spec §4.8 step 2).
func ObjectKeyFromText(compilerID, argsDigest common.Digest, text []byte) common.Digest {
	return common.NewHasher().
		WriteDigest(compilerID).
		WriteDigest(argsDigest).
		WriteBytes(text).
		Sum()
}

// IncludesContentHash hashes the listed header files' own contents, in the
// manifest's stored discovery order (spec §4.5, §4.8 step 1).
func IncludesContentHash(headerPaths []string) (common.Digest, error) {
	digests := make([]common.Digest, 0, len(headerPaths))
	for _, path := range headerPaths {
		digest, err := common.HashFile(path)
		if err != nil {
			return "", err
		}
		digests = append(digests, digest)
	}
	return common.IncludesHash(digests), nil
}
