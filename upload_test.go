package vault

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultfs.dev/client/internal/crypto"
)

func TestUploadEmptyFile(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)
	ctx := context.Background()

	file, err := c.UploadFile(ctx, c.Root(), "empty.txt", "text/plain", nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), file.Chunks)

	fm, ok := file.Meta.AsDecodedFile()
	require.True(t, ok)
	require.Equal(t, int64(0), fm.Size)
	require.Nil(t, fm.Hash)

	// the empty endpoint was used, not done
	s.mu.Lock()
	require.Equal(t, 1, s.calls[pathUploadEmpty])
	require.Zero(t, s.calls[pathUploadDone])
	require.Zero(t, s.calls[pathUploadChunkBuffer])
	s.mu.Unlock()

	data, err := c.DownloadFile(ctx, file)
	require.NoError(t, err)
	require.Len(t, data, 0)
}

func TestUploadOneChunkPlusOneByte(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)
	ctx := context.Background()

	src := bytes.Repeat([]byte{0x41}, ChunkSize+1)
	file, err := c.UploadFile(ctx, c.Root(), "big.bin", "application/octet-stream", src)
	require.NoError(t, err)
	require.Equal(t, int64(2), file.Chunks)

	fm, ok := file.Meta.AsDecodedFile()
	require.True(t, ok)
	require.Equal(t, int64(ChunkSize+1), fm.Size)

	got, err := c.DownloadFile(ctx, file)
	require.NoError(t, err)
	require.Equal(t, src, got)
}

func TestUploadConcurrentChunksHashAndCount(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)
	ctx := context.Background()

	const chunks = 16
	src := bytes.Repeat([]byte{0x5a}, chunks*ChunkSize)

	w, err := c.NewFileWriter(ctx, c.Root(), "large.bin", "application/octet-stream", UploadOptions{MaxThreads: 4})
	require.NoError(t, err)
	n, err := w.Write(src)
	require.NoError(t, err)
	require.Equal(t, len(src), n)
	require.NoError(t, w.Close())

	file, err := w.IntoRemoteFile()
	require.NoError(t, err)
	require.Equal(t, int64(chunks), file.Chunks)
	require.Equal(t, int64(len(src)), w.Written())

	fm, ok := file.Meta.AsDecodedFile()
	require.True(t, ok)
	require.Equal(t, int64(len(src)), fm.Size)
	require.NotNil(t, fm.Hash)

	// the committed hash is SHA-512 over ciphertext in chunk-index
	// order, whatever order the uploads completed in
	h := crypto.NewSHA512()
	s.mu.Lock()
	stored := s.chunks[file.UUIDStr]
	require.Len(t, stored, chunks)
	for i := int64(0); i < chunks; i++ {
		h.Write(stored[i])
	}
	s.mu.Unlock()
	require.Equal(t, hexOf(h.Sum(nil)), *fm.Hash)

	// each stored chunk carries the AEAD overhead
	s.mu.Lock()
	for _, chunk := range stored {
		require.Len(t, chunk, ChunkSize+crypto.Overhead)
	}
	s.mu.Unlock()
}

func hexOf(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, digits[c>>4], digits[c&0xf])
	}
	return string(out)
}

func TestWriterRejectsUseAfterClose(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)
	ctx := context.Background()

	w, err := c.NewFileWriter(ctx, c.Root(), "once.txt", "text/plain", UploadOptions{})
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("again"))
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorIs(t, w.Close(), ErrInvalidState)
}

func TestWriterAbortNeverCommits(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)
	ctx := context.Background()

	w, err := c.NewFileWriter(ctx, c.Root(), "gone.bin", "application/octet-stream", UploadOptions{})
	require.NoError(t, err)
	_, err = w.Write(bytes.Repeat([]byte{1}, ChunkSize*2))
	require.NoError(t, err)
	w.Abort()

	_, err = w.IntoRemoteFile()
	require.ErrorIs(t, err, ErrInvalidState)

	s.mu.Lock()
	require.Zero(t, s.calls[pathUploadDone])
	require.Zero(t, s.calls[pathUploadEmpty])
	s.mu.Unlock()
}

func TestUploadServerSizeMatchesWritten(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)
	ctx := context.Background()

	sizes := []int{1, ChunkSize - 1, ChunkSize, ChunkSize + 1, 3*ChunkSize - 7}
	for _, n := range sizes {
		w, err := c.NewFileWriter(ctx, c.Root(), "sized.bin", "application/octet-stream", UploadOptions{})
		require.NoError(t, err)
		_, err = w.Write(bytes.Repeat([]byte{9}, n))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		file, err := w.IntoRemoteFile()
		require.NoError(t, err)
		fm, ok := file.Meta.AsDecodedFile()
		require.True(t, ok)
		require.Equal(t, int64(n), fm.Size)
		require.Equal(t, w.Written(), fm.Size)

		wantChunks := int64((n + ChunkSize - 1) / ChunkSize)
		require.Equal(t, wantChunks, file.Chunks)
	}
}
