package crypto

import (
	"crypto/sha512"
	"encoding/hex"
	"hash"

	"github.com/zeebo/blake3"
)

// NewSHA512 returns a running hasher for the wire-compatible whole-file
// hash: SHA-512 over the ciphertext of every chunk, in chunk-index
// order (spec.md invariant 3).
func NewSHA512() hash.Hash {
	return sha512.New()
}

// SHA512Hex is a convenience one-shot hex digest, used by tests and by
// callers hashing an already-assembled ciphertext buffer.
func SHA512Hex(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:])
}

// NewBLAKE3 returns a running hasher for the local-only "do I need to
// re-upload" dedup check: BLAKE3 over plaintext bytes.
func NewBLAKE3() hash.Hash {
	return blake3.New()
}

// BLAKE3Hex is a convenience one-shot hex digest of plaintext bytes.
func BLAKE3Hex(data []byte) string {
	h := blake3.New()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
