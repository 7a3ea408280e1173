package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// LegacyPasswordKey derives the static per-account key V1 accounts used
// directly as their metadata key, the way the teacher's own
// password_key/stringhash pair derived Mega's legacy account key: a
// fixed number of rounds of a hash over the password bytes, no salt.
// Kept only so old accounts' metadata can still be read; never used for
// new accounts (see DESIGN.md decision 4).
func LegacyPasswordKey(password string) []byte {
	h := sha256.Sum256([]byte(password))
	for i := 0; i < legacyKDFRounds; i++ {
		h = sha256.Sum256(h[:])
	}
	return h[:]
}

const legacyKDFRounds = 65536

// DecryptLegacyMeta decrypts a V1 metadata envelope: AES-256-CBC with a
// zero IV over the static account key, no authentication tag (legacy
// accounts predate AEAD metadata). PKCS#7 padding is stripped.
func DecryptLegacyMeta(accountKey []byte, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decode legacy ciphertext: %w", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("crypto: legacy ciphertext not block aligned: %d bytes", len(raw))
	}
	block, err := aes.NewCipher(accountKey)
	if err != nil {
		return "", fmt.Errorf("crypto: new legacy cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, raw)

	plain, err = unpadPKCS7(plain)
	if err != nil {
		return "", fmt.Errorf("crypto: unpad legacy plaintext: %w", err)
	}
	return string(plain), nil
}

func unpadPKCS7(buf []byte) ([]byte, error) {
	if len(buf) == 0 {
		return buf, nil
	}
	n := int(buf[len(buf)-1])
	if n == 0 || n > len(buf) {
		return nil, fmt.Errorf("crypto: invalid padding length %d", n)
	}
	return buf[:len(buf)-n], nil
}
