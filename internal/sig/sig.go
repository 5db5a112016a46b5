// Package sig computes the content signatures the build engine compares to
// decide staleness. A Sig is a fixed-size SHA3-256 digest so that comparisons
// are plain array equality.
package sig

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/sha3"
)

// Len is the digest size in bytes.
const Len = 256 / 8

// Sig is a content signature.
type Sig [Len]byte

// Nil is the zero signature. It never results from hashing real content.
var Nil Sig

// IsNil reports whether s is the zero signature.
func (s Sig) IsNil() bool { return s == Nil }

func (s Sig) String() string {
	return hex.EncodeToString(s[:])
}

// Short returns the first eight hex digits, for log lines.
func (s Sig) Short() string {
	return s.String()[:8]
}

// FromBytes copies b into a Sig. It fails if b has the wrong length.
func FromBytes(b []byte) (Sig, error) {
	var s Sig
	if len(b) != Len {
		return s, fmt.Errorf("signature must be %d bytes, got %d", Len, len(b))
	}
	copy(s[:], b)
	return s, nil
}

// Parse decodes the hex form produced by String.
func Parse(str string) (Sig, error) {
	b, err := hex.DecodeString(str)
	if err != nil {
		return Nil, fmt.Errorf("invalid signature %q: %w", str, err)
	}
	return FromBytes(b)
}

// File hashes the contents of the file at path.
func File(path string) (Sig, error) {
	f, err := os.Open(path)
	if err != nil {
		return Nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Nil, err
	}
	if st.IsDir() {
		return Nil, fmt.Errorf("%s is a directory", path)
	}

	h := sha3.New256()
	if _, err := io.Copy(h, f); err != nil {
		return Nil, err
	}
	var s Sig
	copy(s[:], h.Sum(nil))
	return s, nil
}

// String hashes a single string.
func String(v string) Sig {
	h := New()
	h.String(v)
	return h.Sum()
}

// Hasher accumulates a signature from several fields. Every field is length
// prefixed so that ("ab","c") and ("a","bc") never collide.
type Hasher struct {
	h hash.Hash
}

// New returns an empty Hasher.
func New() *Hasher {
	return &Hasher{h: sha3.New256()}
}

// Bytes adds a length-prefixed byte field.
func (h *Hasher) Bytes(b []byte) *Hasher {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.h.Write(n[:])
	h.h.Write(b)
	return h
}

// String adds a length-prefixed string field.
func (h *Hasher) String(v string) *Hasher {
	return h.Bytes([]byte(v))
}

// Sig adds another signature.
func (h *Hasher) Sig(s Sig) *Hasher {
	return h.Bytes(s[:])
}

// Sum returns the accumulated signature. The Hasher may keep being used.
func (h *Hasher) Sum() Sig {
	var s Sig
	copy(s[:], h.h.Sum(nil))
	return s
}
