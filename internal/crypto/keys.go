// Package crypto implements the symmetric/asymmetric primitives the rest
// of the client uses to keep file bodies and metadata opaque to the
// server: versioned AEAD for data and metadata, RSA-OAEP key wrapping for
// sharing, keyed name hashing for the server-side search index, and the
// two whole-file digests (BLAKE3 local, SHA-512 wire).
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// FileEncryptionVersion selects which scheme a file's key and body were
// encrypted with. New files always use V2; V1 exists so that files
// created under old accounts can still be read.
type FileEncryptionVersion int

const (
	// V1 is the legacy scheme: metadata under a static per-account key
	// derived from the login password, decrypted with AES-CBC
	// (DecryptLegacyMeta). Read-only. File bodies of both versions are
	// decrypted with the same AEAD using Raw.
	V1 FileEncryptionVersion = 1
	// V2 is the current scheme: a random 32-byte per-file key, AEAD
	// bodies and metadata.
	V2 FileEncryptionVersion = 2
)

// FileKey is a file's per-file symmetric key, tagged with the version it
// was produced under. A file carries exactly one. The account-level key
// used to encrypt the root filesystem tree is a separate, argon2id
// derived key (see DeriveAccountKey); FileKey is always a plain 32-byte
// value used directly for AEAD.
type FileKey struct {
	Version FileEncryptionVersion
	raw     [32]byte
}

// NewFileKey generates a fresh random key of the given version. Callers
// minting new files should always pass V2; V1 keys only ever arrive by
// parsing an existing legacy file's envelope.
func NewFileKey(version FileEncryptionVersion) (FileKey, error) {
	var k FileKey
	k.Version = version
	if _, err := rand.Read(k.raw[:]); err != nil {
		return FileKey{}, fmt.Errorf("crypto: generate file key: %w", err)
	}
	return k, nil
}

// Raw returns the 32 raw key bytes used directly for AEAD operations,
// regardless of version.
func (k FileKey) Raw() []byte {
	out := make([]byte, 32)
	copy(out, k.raw[:])
	return out
}

// String encodes the key the way it is stored inside a file's metadata
// envelope: plain base64 of the 32 raw bytes, for both versions. The
// version itself is carried alongside the key in the envelope (the
// "key" field plus a separate version field), not inside the string.
func (k FileKey) String() string {
	return base64.StdEncoding.EncodeToString(k.raw[:])
}

// ParseFileKey decodes a key string, as read from a file's metadata
// envelope, back into a FileKey of the given version.
func ParseFileKey(version FileEncryptionVersion, s string) (FileKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return FileKey{}, fmt.Errorf("crypto: decode file key: %w", err)
	}
	return FileKeyFromRaw(version, raw)
}

// FileKeyFromRaw wraps an already-known 32-byte key (e.g. one unwrapped
// from an RSA share envelope) as a FileKey of the given version.
func FileKeyFromRaw(version FileEncryptionVersion, raw []byte) (FileKey, error) {
	if len(raw) != 32 {
		return FileKey{}, fmt.Errorf("crypto: file key must be 32 bytes, got %d", len(raw))
	}
	var k FileKey
	k.Version = version
	copy(k.raw[:], raw)
	return k, nil
}
