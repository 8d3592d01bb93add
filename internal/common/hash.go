package common

import (
	"crypto/md5" //nolint:gosec // content-addressing, not security
	"encoding/binary"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// Digest is a 32-character lowercase hex content fingerprint, as produced by
// Hasher.Sum. It is used verbatim as a shard/file name by the cache stores.
type Digest string

func (d Digest) IsEmpty() bool {
	return d == ""
}

func (d Digest) String() string {
	return string(d)
}

// Hasher accumulates length-prefixed fragments into a single md5 digest.
// Framing every fragment with its length prevents two different fragment
// lists from colliding just because their concatenation happens to match
// (see IncludesHash scenarios S5/S6 in the spec).
type Hasher struct {
	impl hash.Hash
}

func NewHasher() *Hasher {
	return &Hasher{impl: md5.New()} //nolint:gosec
}

func (h *Hasher) WriteBytes(b []byte) *Hasher {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	h.impl.Write(lenBuf[:])
	h.impl.Write(b)
	return h
}

func (h *Hasher) WriteString(s string) *Hasher {
	return h.WriteBytes([]byte(s))
}

func (h *Hasher) WriteDigest(d Digest) *Hasher {
	return h.WriteBytes([]byte(d))
}

// WriteFile hashes the file contents and folds that digest in as one framed
// fragment (not the raw file bytes), so large files are cheap to compose.
func (h *Hasher) WriteFile(filePath string) error {
	digest, err := HashFile(filePath)
	if err != nil {
		return err
	}
	h.WriteDigest(digest)
	return nil
}

func (h *Hasher) Sum() Digest {
	return Digest(hex.EncodeToString(h.impl.Sum(nil)))
}

// HashBytes hashes b in isolation (its own digest, not accumulated into
// anything else).
func HashBytes(b []byte) Digest {
	return NewHasher().WriteBytes(b).Sum()
}

// HashFile hashes the contents of the file at filePath.
func HashFile(filePath string) (Digest, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := md5.New() //nolint:gosec
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return Digest(hex.EncodeToString(hasher.Sum(nil))), nil
}

// IncludesHash combines an ordered list of already-computed header digests
// into the manifest's includes-content hash (spec §4.5). Order matters and
// fragment boundaries matter: IncludesHash(["ab","cd"]) != IncludesHash(["a","bcd"]).
func IncludesHash(headerDigests []Digest) Digest {
	hasher := NewHasher()
	for _, d := range headerDigests {
		hasher.WriteDigest(d)
	}
	return hasher.Sum()
}
