package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// keyWrapPayload is the small JSON envelope a wrapped key is sent as,
// per spec.md §4.1: `{ "key": <base64-or-raw> }`.
type keyWrapPayload struct {
	Key string `json:"key"`
}

// WrapKey RSA-OAEP-SHA512-encrypts a raw symmetric key (a FileKey or a
// link key) under a recipient's public key, for sharing or directory
// linking, and returns the JSON wrapper payload spec.md describes.
func WrapKey(pub *rsa.PublicKey, key []byte) (string, error) {
	ciphertext, err := rsa.EncryptOAEP(sha512.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: rsa wrap key: %w", err)
	}
	payload, err := json.Marshal(keyWrapPayload{Key: base64.StdEncoding.EncodeToString(ciphertext)})
	if err != nil {
		return "", fmt.Errorf("crypto: marshal key wrap payload: %w", err)
	}
	return string(payload), nil
}

// ParsePublicKey decodes a base64 PKIX DER RSA public key, the form
// share recipients' keys arrive in from the server.
func ParsePublicKey(s string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode public key: %w", err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: public key is not RSA")
	}
	return pub, nil
}

// UnwrapKey reverses WrapKey using the local user's RSA private key.
func UnwrapKey(priv *rsa.PrivateKey, payload string) ([]byte, error) {
	var wrapped keyWrapPayload
	if err := json.Unmarshal([]byte(payload), &wrapped); err != nil {
		return nil, fmt.Errorf("crypto: unmarshal key wrap payload: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(wrapped.Key)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode wrapped key: %w", err)
	}
	key, err := rsa.DecryptOAEP(sha512.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: rsa unwrap key: %w", err)
	}
	return key, nil
}
