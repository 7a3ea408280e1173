package vault

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"vaultfs.dev/client/internal/crypto"
	"vaultfs.dev/client/internal/transport"
)

// Reader streams a byte range of a remote file: one request per chunk,
// each decrypted in place as it arrives, yielding plaintext bounded by
// [start, end) (spec.md §4.7). Chunks outside the range are never
// fetched. Progress is reported in ciphertext bytes, before
// decryption, to match the network cost.
type Reader struct {
	ctx      context.Context
	client   *Client
	file     *File
	key      []byte
	progress ProgressFunc

	start, end int64 // plaintext range
	pos        int64 // next plaintext offset to yield
	next       int64 // next chunk index to fetch
	chunk      []byte
}

// DownloadReader opens a ranged reader over file. end < 0 means "to the
// end of the file". The file's metadata must be decrypted: the per-file
// key lives inside it.
func (c *Client) DownloadReader(ctx context.Context, file *File, start, end int64, progress ProgressFunc) (*Reader, error) {
	fm, ok := file.Meta.AsDecodedFile()
	if !ok {
		return nil, newErr(KindMetadataWasNotDecrypted, "download", nil)
	}
	key, err := crypto.ParseFileKey(file.Version, fm.Key)
	if err != nil {
		return nil, newErr(KindConversion, "parse file key", err)
	}
	if end < 0 || end > fm.Size {
		end = fm.Size
	}
	if start < 0 {
		start = 0
	}
	if start > end {
		start = end
	}
	return &Reader{
		ctx:      ctx,
		client:   c,
		file:     file,
		key:      key.Raw(),
		progress: progress,
		start:    start,
		end:      end,
		pos:      start,
		next:     start / ChunkSize,
	}, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.pos >= r.end {
		return 0, io.EOF
	}
	if len(r.chunk) == 0 {
		if err := r.fetchChunk(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.chunk)
	r.chunk = r.chunk[n:]
	r.pos += int64(n)
	return n, nil
}

// fetchChunk downloads and decrypts chunk r.next, trimming it to the
// requested plaintext range.
func (r *Reader) fetchChunk() error {
	index := r.next
	r.next++

	ctx, cancel := context.WithTimeout(r.ctx, r.client.cfg.ChunkTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("/%s/%s/%s/%d", r.file.Region, r.file.Bucket, r.file.UUIDStr, index)
	body, err := r.client.http.DoRaw(ctx, transport.Request{
		Method:        http.MethodGet,
		Endpoint:      endpoint,
		Authenticated: true,
		Progress:      r.progress,
	})
	if err != nil {
		return fromTransport(err, fmt.Sprintf("download chunk %d", index))
	}
	defer body.Close()

	buf, err := io.ReadAll(body)
	if err != nil {
		return newErr(KindNetwork, fmt.Sprintf("read chunk %d", index), err)
	}
	if err := crypto.DecryptData(r.key, &buf); err != nil {
		return newErr(KindConversion, fmt.Sprintf("decrypt chunk %d", index), err)
	}

	chunkStart := index * ChunkSize
	lo := r.pos - chunkStart
	hi := int64(len(buf))
	if chunkStart+hi > r.end {
		hi = r.end - chunkStart
	}
	if lo < 0 || lo > hi {
		return newErr(KindResponse, fmt.Sprintf("chunk %d out of range", index), nil)
	}
	r.chunk = buf[lo:hi]
	return nil
}

// DownloadFile buffers the whole file into memory.
func (c *Client) DownloadFile(ctx context.Context, file *File) ([]byte, error) {
	fm, ok := file.Meta.AsDecodedFile()
	if !ok {
		return nil, newErr(KindMetadataWasNotDecrypted, "download", nil)
	}
	if fm.Size == 0 {
		return []byte{}, nil
	}
	r, err := c.DownloadReader(ctx, file, 0, -1, nil)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, fm.Size)
	out := make([]byte, 64*1024)
	for {
		n, err := r.Read(out)
		buf = append(buf, out[:n]...)
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// downloadTmpSuffix names the sibling temp file a download streams
// into before the atomic rename.
const downloadTmpSuffix = ".filendl"

// DownloadFileToPath stream-decrypts file into path with an atomic
// replace (spec.md §4.7): the bytes land in a sibling temp file which
// is fsynced, stamped with the remote timestamps, and only renamed
// over the target if the target was not modified while the download
// ran. Otherwise the download fails with KindFileChangedDuringSync
// and the target is left untouched.
func (c *Client) DownloadFileToPath(ctx context.Context, file *File, path string, progress ProgressFunc) error {
	fm, ok := file.Meta.AsDecodedFile()
	if !ok {
		return newErr(KindMetadataWasNotDecrypted, "download to path", nil)
	}

	var preMtime *time.Time
	if st, err := os.Stat(path); err == nil {
		t := st.ModTime()
		preMtime = &t
	}

	tmp := path + downloadTmpSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return newErr(KindIO, "open temp file", err)
	}
	cleanup := func() {
		f.Close()
		os.Remove(tmp)
	}

	if fm.Size > 0 {
		r, err := c.DownloadReader(ctx, file, 0, -1, progress)
		if err != nil {
			cleanup()
			return err
		}
		if _, err := io.Copy(f, r); err != nil {
			cleanup()
			return wrapContext(err, "stream download")
		}
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return newErr(KindIO, "fsync temp file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return newErr(KindIO, "close temp file", err)
	}

	mtime := time.UnixMilli(int64(fm.LastModified))
	if mtime.IsZero() {
		mtime = file.ServerTS
	}
	if err := os.Chtimes(tmp, file.ServerTS, mtime); err != nil {
		os.Remove(tmp)
		return newErr(KindIO, "stamp temp file times", err)
	}

	if preMtime != nil {
		st, err := os.Stat(path)
		if err != nil || !st.ModTime().Equal(*preMtime) {
			os.Remove(tmp)
			return newErr(KindFileChangedDuringSync, path, nil)
		}
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return newErr(KindIO, "replace target file", err)
	}
	return nil
}
