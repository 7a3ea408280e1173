package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	nonceSize = 12
	tagSize   = 16

	// Overhead is the ciphertext growth of one sealed buffer:
	// nonce plus tag.
	Overhead = nonceSize + tagSize
)

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptData seals plaintext in place: *buf is replaced by
// nonce||ciphertext||tag, growing by nonceSize+tagSize bytes. Used for
// file chunk bodies under a FileKey.
func EncryptData(key []byte, buf *[]byte) error {
	gcm, err := newGCM(key)
	if err != nil {
		return err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("crypto: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, *buf, nil)
	*buf = sealed
	return nil
}

// DecryptData opens ciphertext in place: *buf (nonce||ciphertext||tag)
// is replaced by the plaintext, shrinking by nonceSize+tagSize bytes.
func DecryptData(key []byte, buf *[]byte) error {
	gcm, err := newGCM(key)
	if err != nil {
		return err
	}
	if len(*buf) < nonceSize+tagSize {
		return fmt.Errorf("crypto: ciphertext too short: %d bytes", len(*buf))
	}
	nonce, ciphertext := (*buf)[:nonceSize], (*buf)[nonceSize:]
	plain, err := gcm.Open(ciphertext[:0], nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("crypto: decrypt data: %w", err)
	}
	*buf = plain
	return nil
}

// EncryptMeta seals a short plaintext string (a name, a JSON metadata
// record, a key string) under a V2 key and returns it base64-encoded.
func EncryptMeta(key []byte, plaintext string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptMeta opens a base64-encoded V2 metadata envelope back into its
// plaintext string.
func DecryptMeta(key []byte, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decode meta ciphertext: %w", err)
	}
	if len(raw) < nonceSize+tagSize {
		return "", fmt.Errorf("crypto: meta ciphertext too short: %d bytes", len(raw))
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce, body := raw[:nonceSize], raw[nonceSize:]
	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt meta: %w", err)
	}
	return string(plain), nil
}
