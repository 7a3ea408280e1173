package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

// legacyEncrypt builds a V1 envelope the way old accounts wrote them;
// only tests need the write side, production is read-only.
func legacyEncrypt(t *testing.T, key []byte, plain string) string {
	t.Helper()
	padLen := aes.BlockSize - len(plain)%aes.BlockSize
	buf := append([]byte(plain), make([]byte, padLen)...)
	for i := len(plain); i < len(buf); i++ {
		buf[i] = byte(padLen)
	}
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	iv := make([]byte, aes.BlockSize)
	out := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, buf)
	return base64.StdEncoding.EncodeToString(out)
}

func TestDecryptLegacyMeta(t *testing.T) {
	key := LegacyPasswordKey("old-password")
	require.Len(t, key, 32)

	const record = `{"name":"from-2019.txt"}`
	ct := legacyEncrypt(t, key, record)

	plain, err := DecryptLegacyMeta(key, ct)
	require.NoError(t, err)
	require.Equal(t, record, plain)
}

func TestDecryptLegacyMetaRejectsUnaligned(t *testing.T) {
	key := LegacyPasswordKey("pw")
	_, err := DecryptLegacyMeta(key, base64.StdEncoding.EncodeToString([]byte("short")))
	require.Error(t, err)
}

func TestLegacyPasswordKeyIsDeterministic(t *testing.T) {
	require.Equal(t, LegacyPasswordKey("abc"), LegacyPasswordKey("abc"))
	require.NotEqual(t, LegacyPasswordKey("abc"), LegacyPasswordKey("abd"))
}
