package crypto

import (
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"crypto/sha256"
)

// argon2idParams are conservative interactive-login parameters (RFC 9106
// "second recommended option" for when a dedicated KDF hardware path
// isn't available).
const (
	argon2Time    = 3
	argon2MemoryK = 64 * 1024 // KiB
	argon2Threads = 4
	argon2KeyLen  = 32
)

// DeriveAccountKey derives the per-user V2 master/account key (used to
// encrypt the root filesystem metadata, not individual file keys) from
// the login password and the account's stored salt.
func DeriveAccountKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argon2Time, argon2MemoryK, argon2Threads, argon2KeyLen)
}

// linkPasswordRounds is deliberately conservative; spec.md leaves the
// exact count unspecified (see DESIGN.md decision 5).
const linkPasswordRounds = 200_000

// DerivePasswordForLink derives the 64-byte hash a public link's
// password gate compares against. salt is the link's full 256-byte
// salt as minted at PublicLinkDir/PublicLinkFile time. An empty
// password is valid input; callers derive a hash only for links that
// have a password set.
func DerivePasswordForLink(password string, salt [256]byte) [64]byte {
	derived := pbkdf2.Key([]byte(password), salt[:], linkPasswordRounds, 64, sha256.New)
	var out [64]byte
	copy(out[:], derived)
	return out
}
