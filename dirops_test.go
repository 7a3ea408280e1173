package vault

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultfs.dev/client/internal/crypto"
)

func publicKeyB64(priv *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

func TestRecursiveListFiltersSelfEntry(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)
	ctx := context.Background()

	root, err := c.CreateDir(ctx, c.Root(), "tree", nil)
	require.NoError(t, err)
	_, err = c.CreateDir(ctx, root, "child", nil)
	require.NoError(t, err)

	dirs, _, err := c.RecursiveList(ctx, root, nil)
	require.NoError(t, err)
	for _, d := range dirs {
		require.NotEqual(t, root.UUIDStr, d.UUIDStr, "self-entry must be filtered")
	}
}

func TestPublicLinkDirFanout(t *testing.T) {
	s := newFakeServer(t)
	c, masterKey := newTestClient(t, s)
	ctx := context.Background()

	dir, err := c.CreateDir(ctx, c.Root(), "shared-album", nil)
	require.NoError(t, err)
	child, err := c.CreateDir(ctx, dir, "photos", nil)
	require.NoError(t, err)

	link, err := c.PublicLinkDir(ctx, dir, PublicLinkOptions{EnableDownload: true})
	require.NoError(t, err)
	require.Len(t, link.LinkKey, 32)
	require.Equal(t, "never", link.Expiration)

	s.mu.Lock()
	adds := append([]linkAddMsg(nil), s.linkAdds...)
	s.mu.Unlock()

	var rootAdd, childAdd *linkAddMsg
	for i := range adds {
		switch adds[i].UUID {
		case dir.UUIDStr:
			rootAdd = &adds[i]
		case child.UUIDStr:
			childAdd = &adds[i]
		}
	}
	require.NotNil(t, rootAdd)
	require.NotNil(t, childAdd)

	// the root entry carries the owner-wrapped link key for the
	// server's index; descendants carry their parent instead
	require.NotEmpty(t, rootAdd.Key)
	require.Empty(t, childAdd.Key)
	require.Equal(t, dir.UUIDStr, childAdd.Parent)

	keyB64, err := crypto.DecryptMeta(masterKey, rootAdd.Key)
	require.NoError(t, err)
	recovered, err := base64.StdEncoding.DecodeString(keyB64)
	require.NoError(t, err)
	require.Equal(t, link.LinkKey, recovered)

	// every published envelope decrypts under the link key
	for _, add := range []*linkAddMsg{rootAdd, childAdd} {
		plain, err := crypto.DecryptMeta(link.LinkKey, add.Metadata)
		require.NoError(t, err)
		var dm DirMeta
		require.NoError(t, json.Unmarshal([]byte(plain), &dm))
		require.NotEmpty(t, dm.Name)
	}
}

func TestShareDirWrapsEveryItemForRecipient(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)
	ctx := context.Background()

	dir, err := c.CreateDir(ctx, c.Root(), "project", nil)
	require.NoError(t, err)
	_, err = c.CreateDir(ctx, dir, "src", nil)
	require.NoError(t, err)

	recipient := testRSA(t)
	pub, err := publicKeyB64(recipient)
	require.NoError(t, err)

	require.NoError(t, c.ShareDir(ctx, dir, Contact{UserID: 9, Email: "friend@example.com", PublicKey: pub}))

	s.mu.Lock()
	shares := append([]itemShareMsg(nil), s.shares...)
	s.mu.Unlock()
	require.GreaterOrEqual(t, len(shares), 2)

	for _, share := range shares {
		require.Equal(t, "friend@example.com", share.Email)
		plain, err := crypto.UnwrapKey(recipient, share.Metadata)
		require.NoError(t, err)
		var dm DirMeta
		require.NoError(t, json.Unmarshal(plain, &dm))
		require.NotEmpty(t, dm.Name)
	}
}

func TestLinkedFileInfoPasswordFlow(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)
	ctx := context.Background()

	linkKey := make([]byte, 32)
	for i := range linkKey {
		linkKey[i] = byte(i)
	}
	fm := FileMeta{Name: "secret.pdf", Mime: "application/pdf", Size: 1234, Key: "k"}
	fmJSON, err := json.Marshal(fm)
	require.NoError(t, err)
	encMeta, err := crypto.EncryptMeta(linkKey, string(fmJSON))
	require.NoError(t, err)

	var salt [256]byte
	for i := range salt {
		salt[i] = byte(i)
	}
	hash := crypto.DerivePasswordForLink("pw", salt)

	s.mu.Lock()
	s.linkSalt = hex.EncodeToString(salt[:])
	s.linkPassword = hex.EncodeToString(hash[:])
	s.linkInfo = &linkInfoResp{
		UUID: "lf1", Metadata: encMeta, Bucket: "b1", Region: "eu",
		Chunks: 2, Size: 1234, Timestamp: 1700000000000, Version: 2, HasPassword: true,
	}
	s.mu.Unlock()

	// without the password the server refuses
	_, err = c.LinkedFileInfo(ctx, "lf1", linkKey, nil)
	require.ErrorIs(t, err, ErrUnauthenticated)

	// with it, the info arrives and the name decrypts
	pw := "pw"
	info, err := c.LinkedFileInfo(ctx, "lf1", linkKey, &pw)
	require.NoError(t, err)
	require.NotNil(t, info.Name)
	require.Equal(t, "secret.pdf", *info.Name)
	require.Equal(t, int64(1234), info.Size)

	// and a wrong password is rejected
	wrong := "nope"
	_, err = c.LinkedFileInfo(ctx, "lf1", linkKey, &wrong)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestUpdateMaybeConnectedItemReEncryptsForLinks(t *testing.T) {
	s := newFakeServer(t)
	c, masterKey := newTestClient(t, s)
	ctx := context.Background()

	linkKey := make([]byte, 32)
	for i := range linkKey {
		linkKey[i] = byte(100 + i)
	}
	wrappedKey, err := crypto.EncryptMeta(masterKey, base64.StdEncoding.EncodeToString(linkKey))
	require.NoError(t, err)
	s.mu.Lock()
	s.linkedEntries = []itemLinkedEntry{{LinkUUID: "L1", LinkKey: wrappedKey}}
	s.mu.Unlock()

	dir, err := c.CreateDir(ctx, c.Root(), "linked", nil)
	require.NoError(t, err)
	require.NoError(t, c.RenameDir(ctx, dir, "linked-renamed"))

	s.mu.Lock()
	renames := append([]itemLinkedRenameMsg(nil), s.linkedRenames...)
	s.mu.Unlock()
	require.NotEmpty(t, renames)
	last := renames[len(renames)-1]
	require.Equal(t, "L1", last.LinkUUID)

	plain, err := crypto.DecryptMeta(linkKey, last.Metadata)
	require.NoError(t, err)
	var dm DirMeta
	require.NoError(t, json.Unmarshal([]byte(plain), &dm))
	require.Equal(t, "linked-renamed", dm.Name)
}
