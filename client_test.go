package vault

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultfs.dev/client/internal/socket"
)

func TestCredentialsStringifyRoundTrip(t *testing.T) {
	creds := Credentials{
		Email:       "tester@example.com",
		RootUUID:    testRootUUID,
		AuthInfo:    base64.StdEncoding.EncodeToString(testMasterKey()),
		APIKey:      "key-123",
		AuthVersion: 2,
	}
	s, err := creds.Stringify()
	require.NoError(t, err)

	got, err := ParseCredentials(s)
	require.NoError(t, err)
	require.Equal(t, creds, got)
}

func TestNewRejectsBadCredentials(t *testing.T) {
	_, err := New(Config{Logger: quietLogger()}, Credentials{})
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = New(Config{Logger: quietLogger()}, Credentials{
		RootUUID: testRootUUID,
		APIKey:   "k",
		AuthInfo: "not-base64!!!",
	})
	require.ErrorIs(t, err, ErrConversion)

	_, err = New(Config{Logger: quietLogger()}, Credentials{
		RootUUID: testRootUUID,
		APIKey:   "k",
		AuthInfo: base64.StdEncoding.EncodeToString([]byte("short")),
	})
	require.ErrorIs(t, err, ErrConversion)
}

func TestDecodeSocketFrameDecryptsFileRename(t *testing.T) {
	s := newFakeServer(t)
	c, masterKey := newTestClient(t, s)

	enc, err := EncodeFileMeta(masterKey, FileMeta{Name: "renamed.txt", Mime: "text/plain", Size: 1, Key: "k"})
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]string{"uuid": "f1", "metadata": enc})
	require.NoError(t, err)

	ev, err := c.decodeSocketFrame(socket.Frame{Name: string(socket.EventFileRename), Data: payload})
	require.NoError(t, err)
	fr, ok := ev.(*socket.FileRename)
	require.True(t, ok)
	require.Equal(t, "f1", fr.UUID)
	require.Equal(t, "renamed.txt", fr.Name)
}

func TestDecodeSocketFrameDropsUnknownEvents(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)

	ev, err := c.decodeSocketFrame(socket.Frame{Name: "somethingNovel", Data: []byte(`{}`)})
	require.NoError(t, err)
	require.Nil(t, ev)
}

func TestDecodeSocketFrameFolderTrash(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)

	ev, err := c.decodeSocketFrame(socket.Frame{
		Name: string(socket.EventFolderTrash),
		Data: []byte(`{"uuid":"d9","parent":"p1"}`),
	})
	require.NoError(t, err)
	ft, ok := ev.(*socket.FolderTrash)
	require.True(t, ok)
	require.Equal(t, "d9", ft.UUID)
	require.Equal(t, "p1", ft.Parent)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, DefaultConcurrency, cfg.Concurrency)
	require.Equal(t, DefaultRateLimitPerSec, cfg.RateLimitPerSec)
	require.Equal(t, DefaultRetryBudgetTokens, cfg.RetryBudgetTokens)
	require.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	require.Equal(t, DefaultMaxUploadThreads, cfg.MaxUploadThreads)
	require.NotNil(t, cfg.SocketTLS)
	require.True(t, *cfg.SocketTLS)
	require.NotNil(t, cfg.Logger)
}
