package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("crypto: read random bytes: %w", err)
	}
	return buf, nil
}

// RandomBase64 returns n random bytes, base64 encoded. Used for the
// per-upload "rm" token and similar opaque wire tokens.
func RandomBase64(n int) (string, error) {
	buf, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// RandomHex returns n random bytes, hex encoded. Used for the
// per-upload "upload_key" that ties chunk uploads to one session.
func RandomHex(n int) (string, error) {
	buf, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// RandomSalt256 returns a fresh 256-byte salt for a new public link
// password gate.
func RandomSalt256() ([256]byte, error) {
	var salt [256]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return salt, fmt.Errorf("crypto: read random salt: %w", err)
	}
	return salt, nil
}
