package vault

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"vaultfs.dev/client/internal/crypto"
	"vaultfs.dev/client/internal/transport"
)

// ChunkSize is the fixed plaintext size of a file body chunk. The
// stored ciphertext of each chunk is ChunkSize plus the AEAD nonce and
// tag.
const ChunkSize = 1 << 20

type writerState int

const (
	writerUploading writerState = iota
	writerCompleting
	writerFinalizing
	writerComplete
	writerErrored
)

// FileWriter streams one file upload: plaintext written in arbitrary
// slices is cut into ChunkSize chunks, each encrypted and uploaded with
// bounded parallelism, then committed in Close (spec.md §4.6). Not safe
// for concurrent Write calls; one goroutine owns the writer.
type FileWriter struct {
	ctx    context.Context
	cancel context.CancelFunc
	client *Client

	uuid      string
	parent    ParentRef
	name      string
	mime      string
	key       crypto.FileKey
	created   time.Time
	modified  time.Time
	uploadKey string

	state   writerState
	buf     []byte
	index   int64
	written int64
	hasher  hash.Hash // SHA-512 over ciphertext, strictly in chunk-index order

	mu  sync.Mutex // guards err/region/bucket
	err error

	inflight chan struct{} // bounded-parallelism slots
	wg       sync.WaitGroup

	regionOnce sync.Once
	region     string
	bucket     string

	result *File
}

// UploadOptions tunes one upload; zero values take defaults.
type UploadOptions struct {
	Created    time.Time
	Modified   time.Time
	MaxThreads int
}

// NewFileWriter opens a streaming upload of a new file named name under
// parent. The caller must Close (commit) or Abort (discard) the writer;
// abandoning it leaks orphaned chunks until the server garbage-collects
// them.
func (c *Client) NewFileWriter(ctx context.Context, parent DirLike, name, mime string, opts UploadOptions) (*FileWriter, error) {
	if name == "" {
		return nil, newErr(KindInvalidState, "new file writer", fmt.Errorf("empty file name"))
	}
	key, err := crypto.NewFileKey(crypto.V2)
	if err != nil {
		return nil, newErr(KindConversion, "mint file key", err)
	}
	uploadKey, err := crypto.RandomHex(32)
	if err != nil {
		return nil, newErr(KindConversion, "mint upload key", err)
	}
	maxThreads := opts.MaxThreads
	if maxThreads <= 0 {
		maxThreads = c.cfg.MaxUploadThreads
	}
	created := opts.Created
	if created.IsZero() {
		created = time.Now()
	}
	modified := opts.Modified
	if modified.IsZero() {
		modified = created
	}

	wctx, cancel := context.WithCancel(ctx)
	return &FileWriter{
		ctx:       wctx,
		cancel:    cancel,
		client:    c,
		uuid:      uuid.NewString(),
		parent:    parent.UUIDAsParent(),
		name:      name,
		mime:      mime,
		key:       key,
		created:   created,
		modified:  modified,
		uploadKey: uploadKey,
		hasher:    crypto.NewSHA512(),
		buf:       make([]byte, 0, ChunkSize),
		inflight:  make(chan struct{}, maxThreads),
	}, nil
}

// Write appends p to the upload, sealing and submitting a chunk every
// time ChunkSize plaintext bytes accumulate. It blocks for backpressure
// when MaxThreads chunk uploads are already in flight.
func (w *FileWriter) Write(p []byte) (int, error) {
	if w.state != writerUploading {
		return 0, newErr(KindInvalidState, "write", fmt.Errorf("writer is %v", w.state))
	}
	if err := w.firstErr(); err != nil {
		w.state = writerErrored
		return 0, err
	}

	total := 0
	for len(p) > 0 {
		n := ChunkSize - len(w.buf)
		if n > len(p) {
			n = len(p)
		}
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		total += n
		w.written += int64(n)

		if len(w.buf) == ChunkSize {
			if err := w.submitChunk(); err != nil {
				w.state = writerErrored
				return total, err
			}
		}
	}
	return total, nil
}

// submitChunk seals the current buffer and hands it to an upload task.
// Encryption and the hasher update happen here, synchronously, so
// chunk i's hasher update strictly precedes chunk i+1's even though
// the network uploads complete in any order (spec.md §4.6 "Chunk
// encryption ordering").
func (w *FileWriter) submitChunk() error {
	chunk := w.buf
	w.buf = make([]byte, 0, ChunkSize)
	index := w.index
	w.index++

	if err := crypto.EncryptData(w.key.Raw(), &chunk); err != nil {
		return newErr(KindConversion, "encrypt chunk", err)
	}
	w.hasher.Write(chunk)

	select {
	case w.inflight <- struct{}{}:
	case <-w.ctx.Done():
		return newErr(KindNetwork, "upload canceled", w.ctx.Err())
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.inflight }()
		w.uploadChunk(index, chunk)
	}()
	return nil
}

func (w *FileWriter) uploadChunk(index int64, ciphertext []byte) {
	ctx, cancel := context.WithTimeout(w.ctx, w.client.cfg.ChunkTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("uuid", w.uuid)
	q.Set("index", strconv.FormatInt(index, 10))
	q.Set("uploadKey", w.uploadKey)

	var resp chunkUploadResp
	err := w.client.do(ctx, transport.Request{
		Method:        http.MethodPost,
		Endpoint:      pathUploadChunkBuffer,
		Query:         q,
		RawBody:       ciphertext,
		Authenticated: true,
	}, &resp)
	if err != nil {
		w.setErr(wrapContext(err, fmt.Sprintf("upload chunk %d", index)))
		return
	}
	// First completed chunk wins; all chunks of one upload land in the
	// same placement.
	w.regionOnce.Do(func() {
		w.mu.Lock()
		w.region, w.bucket = resp.Region, resp.Bucket
		w.mu.Unlock()
	})
}

func (w *FileWriter) setErr(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
}

func (w *FileWriter) firstErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Written returns the plaintext byte count accepted so far.
func (w *FileWriter) Written() int64 { return w.written }

// Close flushes the tail chunk, waits out every in-flight upload,
// commits the file server-side, and fans the new metadata out to
// shared/linked downstream surfaces. After a nil return,
// IntoRemoteFile is valid.
func (w *FileWriter) Close() error {
	if w.state != writerUploading {
		return newErr(KindInvalidState, "close", fmt.Errorf("writer is %v", w.state))
	}

	if len(w.buf) > 0 {
		if err := w.submitChunk(); err != nil {
			w.state = writerErrored
			return err
		}
	}
	w.wg.Wait()
	if err := w.firstErr(); err != nil {
		w.state = writerErrored
		return err
	}

	w.state = writerCompleting
	file, err := w.commit()
	if err != nil {
		w.state = writerErrored
		return err
	}

	w.state = writerFinalizing
	if err := w.client.updateMaybeConnectedItem(w.ctx, file); err != nil {
		w.state = writerErrored
		return wrapContext(err, "finalize upload downstream")
	}

	w.result = file
	w.state = writerComplete
	w.cancel()
	return nil
}

// commit builds and sends the done (or, for a zero-byte file, empty)
// payload (spec.md §4.6 "Completing"). Chunk writes past this point
// are never retried (see DESIGN.md).
func (w *FileWriter) commit() (*File, error) {
	c := w.client

	hashHex := hex.EncodeToString(w.hasher.Sum(nil))
	fm := FileMeta{
		Name:         w.name,
		Mime:         w.mime,
		Size:         w.written,
		Key:          w.key.String(),
		LastModified: IntFromMaybeString(w.modified.UnixMilli()),
	}
	createdMs := w.created.UnixMilli()
	fm.Created = &createdMs
	if w.written > 0 {
		fm.Hash = &hashHex
	}

	encMeta, err := EncodeFileMeta(c.masterKey, fm)
	if err != nil {
		return nil, wrapContext(err, "commit upload")
	}
	encName, err := crypto.EncryptMeta(c.masterKey, w.name)
	if err != nil {
		return nil, newErr(KindConversion, "encrypt file name", err)
	}
	encMime, err := crypto.EncryptMeta(c.masterKey, w.mime)
	if err != nil {
		return nil, newErr(KindConversion, "encrypt file mime", err)
	}
	encSize, err := crypto.EncryptMeta(c.masterKey, strconv.FormatInt(w.written, 10))
	if err != nil {
		return nil, newErr(KindConversion, "encrypt file size", err)
	}
	nameHashed := crypto.HashName(c.masterKey, w.name)

	var respUUID string
	var respTS int64
	if w.written == 0 {
		var resp uploadEmptyResp
		if err := c.do(w.ctx, transport.Request{
			Method: http.MethodPost, Endpoint: pathUploadEmpty,
			Body: uploadEmptyMsg{
				UUID:       w.uuid,
				Name:       encName,
				NameHashed: nameHashed,
				Size:       encSize,
				Parent:     parentRefToWire(w.parent),
				Mime:       encMime,
				Metadata:   encMeta,
				Version:    int(w.key.Version),
			},
			Authenticated: true,
		}, &resp); err != nil {
			return nil, err
		}
		respUUID, respTS = resp.UUID, resp.Timestamp
	} else {
		rm, err := crypto.RandomBase64(32)
		if err != nil {
			return nil, newErr(KindConversion, "mint rm token", err)
		}
		var resp uploadDoneResp
		if err := c.do(w.ctx, transport.Request{
			Method: http.MethodPost, Endpoint: pathUploadDone,
			Body: uploadDoneMsg{
				UUID:       w.uuid,
				Name:       encName,
				NameHashed: nameHashed,
				Size:       encSize,
				Parent:     parentRefToWire(w.parent),
				Mime:       encMime,
				Metadata:   encMeta,
				Chunks:     w.index,
				RM:         rm,
				UploadKey:  w.uploadKey,
				Version:    int(w.key.Version),
			},
			Authenticated: true,
		}, &resp); err != nil {
			return nil, err
		}
		respUUID, respTS = resp.UUID, resp.Timestamp
	}
	if respUUID == "" {
		respUUID = w.uuid
	}

	w.mu.Lock()
	region, bucket := w.region, w.bucket
	w.mu.Unlock()

	return &File{
		UUIDStr:   respUUID,
		ParentRef: w.parent,
		Meta:      FileMetaEnvelope(fm),
		Region:    region,
		Bucket:    bucket,
		Chunks:    w.index,
		ServerTS:  time.UnixMilli(respTS),
		Version:   w.key.Version,
	}, nil
}

// Abort cancels the upload: in-flight chunk tasks are interrupted and
// the file is never committed. Orphaned chunks age out server-side
// (spec.md §4.6 "Cancellation").
func (w *FileWriter) Abort() {
	if w.state == writerUploading {
		w.state = writerErrored
	}
	w.cancel()
	w.wg.Wait()
}

// IntoRemoteFile returns the committed file. Only valid after a
// successful Close.
func (w *FileWriter) IntoRemoteFile() (*File, error) {
	if w.state != writerComplete {
		return nil, newErr(KindInvalidState, "into remote file", fmt.Errorf("writer is %v", w.state))
	}
	return w.result, nil
}

// refDirLike adapts a bare ParentRef into a DirLike target, for
// internal re-use of an already-resolved parent.
type refDirLike struct{ ref ParentRef }

func (r refDirLike) UUID() string            { return r.ref.UUID }
func (r refDirLike) kindName() string        { return "dir" }
func (r refDirLike) UUIDAsParent() ParentRef { return r.ref }
func (r refDirLike) ContentsListable() bool  { return true }

// NewFromBase returns a fresh writer for the same logical file (same
// parent, name, mime and timestamps) under a new uuid, per-file key
// and upload session. Used to retry an upload whose commit failed,
// since chunk writes are never retried past done.
func (w *FileWriter) NewFromBase(ctx context.Context) (*FileWriter, error) {
	return w.client.NewFileWriter(ctx, refDirLike{ref: w.parent}, w.name, w.mime, UploadOptions{
		Created:  w.created,
		Modified: w.modified,
	})
}

// UploadFile uploads data as a new file named name under parent in one
// call.
func (c *Client) UploadFile(ctx context.Context, parent DirLike, name, mime string, data []byte) (*File, error) {
	w, err := c.NewFileWriter(ctx, parent, name, mime, UploadOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return w.IntoRemoteFile()
}

// LocalFileHash computes the BLAKE3 hex digest of a local file's
// plaintext, the local-side "do I need to re-upload" signal.
func LocalFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", newErr(KindIO, "open local file", err)
	}
	defer f.Close()
	h := crypto.NewBLAKE3()
	if _, err := io.Copy(h, f); err != nil {
		return "", newErr(KindIO, "hash local file", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// UploadFileFromPath uploads the file at path under parent, skipping
// the transfer entirely when an identically named remote file already
// matches the local size and modification time (spec.md §4.6 "Dedup
// option"). If the local file's mtime changes while its bytes are being
// streamed, the upload fails with KindFileChangedDuringSync.
func (c *Client) UploadFileFromPath(ctx context.Context, parent DirLike, path string) (*File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, newErr(KindIO, "stat local file", err)
	}
	name := st.Name()
	mtime := st.ModTime()

	if item, err := c.FindItem(ctx, parent, name); err == nil && item != nil {
		if existing, err := AsFile(item); err == nil {
			if fm, ok := existing.Meta.AsDecodedFile(); ok {
				if fm.Size == st.Size() && int64(fm.LastModified) == mtime.UnixMilli() {
					return existing, nil
				}
			}
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, newErr(KindIO, "open local file", err)
	}
	defer f.Close()

	w, err := c.NewFileWriter(ctx, parent, name, mimeTypeOf(name), UploadOptions{Modified: mtime})
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Abort()
		return nil, err
	}

	after, err := os.Stat(path)
	if err != nil {
		w.Abort()
		return nil, newErr(KindIO, "re-stat local file", err)
	}
	if !after.ModTime().Equal(mtime) {
		w.Abort()
		return nil, newErr(KindFileChangedDuringSync, path, nil)
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return w.IntoRemoteFile()
}

func mimeTypeOf(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func (s writerState) String() string {
	switch s {
	case writerUploading:
		return "uploading"
	case writerCompleting:
		return "completing"
	case writerFinalizing:
		return "finalizing"
	case writerComplete:
		return "complete"
	default:
		return "errored"
	}
}
