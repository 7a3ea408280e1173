package vault

import (
	"crypto/rsa"
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"vaultfs.dev/client/internal/crypto"
)

// IntFromMaybeString decodes a JSON field the server sometimes sends as
// a number and sometimes as a numeric string, normalizing both to an
// int64 (supplemented from other_examples' filen-sdk-go IntFromMaybeString,
// spec.md §13).
type IntFromMaybeString int64

func (i *IntFromMaybeString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" || len(data) == 0 {
		*i = 0
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*i = IntFromMaybeString(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*i = IntFromMaybeString(n)
	return nil
}

func (i IntFromMaybeString) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(i))
}

// FileMeta is the decoded file metadata envelope, spec.md §4.2.
type FileMeta struct {
	Name         string             `json:"name"`
	Mime         string             `json:"mime"`
	Size         int64              `json:"size"`
	Key          string             `json:"key"`
	Created      *int64             `json:"created,omitempty"`
	LastModified IntFromMaybeString `json:"lastModified"`
	Hash         *string            `json:"hash,omitempty"`
}

// DirMeta is the decoded directory metadata envelope, spec.md §4.2.
type DirMeta struct {
	Name    string `json:"name"`
	Created *int64 `json:"created,omitempty"`
}

// EnvelopeKind discriminates MetaEnvelope's five variants, spec.md §3.
type EnvelopeKind int

const (
	// EnvelopeEncrypted keeps the original ciphertext because
	// decryption failed outright; never silently treated as absent
	// (invariant 5).
	EnvelopeEncrypted EnvelopeKind = iota
	// EnvelopeDecodedFile / EnvelopeDecodedDir is the fully parsed,
	// preferred in-memory form.
	EnvelopeDecodedFile
	EnvelopeDecodedDir
	// EnvelopeDecryptedRaw holds bytes that decrypted but whose JSON
	// structure did not validate and were not valid UTF-8 either.
	EnvelopeDecryptedRaw
	// EnvelopeDecryptedUtf8 holds a string that decrypted but whose
	// JSON structure did not validate.
	EnvelopeDecryptedUtf8
	// EnvelopeRsaEncrypted is a share/link-key envelope addressed to a
	// specific public key, not yet unwrapped.
	EnvelopeRsaEncrypted
)

// MetaEnvelope is the tagged union of spec.md §3's metadata envelope.
type MetaEnvelope struct {
	kind       EnvelopeKind
	ciphertext string
	file       *FileMeta
	dir        *DirMeta
	raw        []byte
	utf8       string
}

func (e MetaEnvelope) Kind() EnvelopeKind { return e.kind }

// Ciphertext returns the original wire-form string this envelope was
// built from, for any variant (used for equality comparisons on
// undecryptable objects and for re-sending an envelope unchanged).
func (e MetaEnvelope) Ciphertext() string { return e.ciphertext }

// AsDecodedFile returns the parsed FileMeta if this envelope decoded
// successfully as a file record.
func (e MetaEnvelope) AsDecodedFile() (*FileMeta, bool) {
	if e.kind != EnvelopeDecodedFile {
		return nil, false
	}
	return e.file, true
}

// AsDecodedDir returns the parsed DirMeta if this envelope decoded
// successfully as a directory record.
func (e MetaEnvelope) AsDecodedDir() (*DirMeta, bool) {
	if e.kind != EnvelopeDecodedDir {
		return nil, false
	}
	return e.dir, true
}

// DecodeFileMeta applies the four-step decoding policy of spec.md §4.2
// to a file's ciphertext envelope.
func DecodeFileMeta(ownerKey []byte, rsaPriv *rsa.PrivateKey, ciphertext string) MetaEnvelope {
	plain, rsaFallback, ok := decryptEnvelope(ownerKey, rsaPriv, ciphertext)
	if !ok {
		return MetaEnvelope{kind: EnvelopeEncrypted, ciphertext: ciphertext}
	}
	if rsaFallback {
		return decodeRsaFileMeta(ciphertext, plain)
	}
	var fm FileMeta
	if err := json.Unmarshal([]byte(plain), &fm); err == nil {
		return MetaEnvelope{kind: EnvelopeDecodedFile, ciphertext: ciphertext, file: &fm}
	}
	return decryptedButUnparsed(ciphertext, plain)
}

// DecodeDirMeta is DecodeFileMeta's directory-metadata twin.
func DecodeDirMeta(ownerKey []byte, rsaPriv *rsa.PrivateKey, ciphertext string) MetaEnvelope {
	plain, rsaFallback, ok := decryptEnvelope(ownerKey, rsaPriv, ciphertext)
	if !ok {
		return MetaEnvelope{kind: EnvelopeEncrypted, ciphertext: ciphertext}
	}
	if rsaFallback {
		return decodeRsaDirMeta(ciphertext, plain)
	}
	var dm DirMeta
	if err := json.Unmarshal([]byte(plain), &dm); err == nil {
		return MetaEnvelope{kind: EnvelopeDecodedDir, ciphertext: ciphertext, dir: &dm}
	}
	return decryptedButUnparsed(ciphertext, plain)
}

// decryptEnvelope implements steps 1 and 3 of the policy: try symmetric
// decrypt with the owner key, and on failure try RSA-unwrapping the
// envelope as a per-recipient wrapped record, the form items arrive in
// through share and directory-link fan-out. ok=false means every path
// failed and the caller keeps the ciphertext as-is.
func decryptEnvelope(ownerKey []byte, rsaPriv *rsa.PrivateKey, ciphertext string) (plain string, rsaFallback bool, ok bool) {
	if ownerKey != nil {
		if p, err := crypto.DecryptMeta(ownerKey, ciphertext); err == nil {
			return p, false, true
		}
		// V1 accounts carry their legacy static key as the owner key;
		// their envelopes are CBC, not AEAD (read path only). CBC has
		// no authentication, so only a plausible JSON record counts as
		// a successful decrypt.
		if p, err := crypto.DecryptLegacyMeta(ownerKey, ciphertext); err == nil &&
			utf8.ValidString(p) && strings.HasPrefix(strings.TrimSpace(p), "{") {
			return p, false, true
		}
	}
	if rsaPriv != nil {
		if key, err := crypto.UnwrapKey(rsaPriv, ciphertext); err == nil {
			return string(key), true, true
		}
	}
	return "", false, false
}

func decodeRsaFileMeta(ciphertext, plain string) MetaEnvelope {
	var fm FileMeta
	if err := json.Unmarshal([]byte(plain), &fm); err == nil {
		return MetaEnvelope{kind: EnvelopeDecodedFile, ciphertext: ciphertext, file: &fm}
	}
	return decryptedButUnparsed(ciphertext, plain)
}

func decodeRsaDirMeta(ciphertext, plain string) MetaEnvelope {
	var dm DirMeta
	if err := json.Unmarshal([]byte(plain), &dm); err == nil {
		return MetaEnvelope{kind: EnvelopeDecodedDir, ciphertext: ciphertext, dir: &dm}
	}
	return decryptedButUnparsed(ciphertext, plain)
}

func decryptedButUnparsed(ciphertext, plain string) MetaEnvelope {
	if utf8.ValidString(plain) {
		return MetaEnvelope{kind: EnvelopeDecryptedUtf8, ciphertext: ciphertext, utf8: plain}
	}
	return MetaEnvelope{kind: EnvelopeDecryptedRaw, ciphertext: ciphertext, raw: []byte(plain)}
}

// EncodeFileMeta re-encrypts a FileMeta under ownerKey. Encoding is
// always from an already-decoded value; there is no "encode the
// envelope" entry point for the other four variants because they carry
// no structured record to encode (invariant 5's mirror on the write
// side).
func EncodeFileMeta(ownerKey []byte, fm FileMeta) (string, error) {
	body, err := json.Marshal(fm)
	if err != nil {
		return "", newErr(KindConversion, "encode file metadata", err)
	}
	ct, err := crypto.EncryptMeta(ownerKey, string(body))
	if err != nil {
		return "", newErr(KindConversion, "encrypt file metadata", err)
	}
	return ct, nil
}

// EncodeDirMeta is EncodeFileMeta's directory-metadata twin.
func EncodeDirMeta(ownerKey []byte, dm DirMeta) (string, error) {
	body, err := json.Marshal(dm)
	if err != nil {
		return "", newErr(KindConversion, "encode directory metadata", err)
	}
	ct, err := crypto.EncryptMeta(ownerKey, string(body))
	if err != nil {
		return "", newErr(KindConversion, "encrypt directory metadata", err)
	}
	return ct, nil
}

// EncodeEnvelope re-encrypts whatever is already decoded inside env,
// failing with ErrMetadataWasNotDecrypted for the four non-decoded
// variants (spec.md §4.2 "Encoding is always from Decoded").
func (e MetaEnvelope) EncodeEnvelope(ownerKey []byte) (string, error) {
	switch e.kind {
	case EnvelopeDecodedFile:
		return EncodeFileMeta(ownerKey, *e.file)
	case EnvelopeDecodedDir:
		return EncodeDirMeta(ownerKey, *e.dir)
	default:
		return "", newErr(KindMetadataWasNotDecrypted, "encode metadata", nil)
	}
}

// FileMetaEnvelope wraps an already-decoded FileMeta as a MetaEnvelope,
// for constructing new objects before their first server round trip.
func FileMetaEnvelope(fm FileMeta) MetaEnvelope {
	return MetaEnvelope{kind: EnvelopeDecodedFile, file: &fm}
}

// DirMetaEnvelope is FileMetaEnvelope's directory twin.
func DirMetaEnvelope(dm DirMeta) MetaEnvelope {
	return MetaEnvelope{kind: EnvelopeDecodedDir, dir: &dm}
}
