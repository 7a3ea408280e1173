package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashName produces the deterministic keyed hash of a lower-cased name
// the server indexes for existence/completion lookups (spec.md §4.1
// "Name hashing"). It is never reversible: the server only ever learns
// the hash, not the name.
func HashName(masterKey []byte, name string) string {
	mac := hmac.New(sha256.New, masterKey)
	mac.Write([]byte(strings.ToLower(name)))
	return hex.EncodeToString(mac.Sum(nil))
}
