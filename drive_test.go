package vault

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"vaultfs.dev/client/internal/crypto"
)

const testRootUUID = "00000000-0000-0000-0000-000000000001"

// testRSAKey is generated once; 4096 bits so OAEP-SHA512 can hold a
// whole metadata record.
var (
	testRSAOnce sync.Once
	testRSAKey  *rsa.PrivateKey
)

func testRSA(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testRSAOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 4096)
		if err != nil {
			panic(err)
		}
		testRSAKey = k
	})
	return testRSAKey
}

// fakeServer is an in-memory stand-in for the api gateway: it stores
// only ciphertext, exactly like the real one.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	dirs       map[string]wireDir
	files      map[string]wireFile
	dirHashes  map[string]string // uuid -> nameHashed
	origParent map[string]string // uuid -> parent before trash
	chunks     map[string]map[int64][]byte
	calls      map[string]int

	sharedUsers   []itemSharedUser
	linkedEntries []itemLinkedEntry
	sharedRenames []itemSharedRenameMsg
	linkedRenames []itemLinkedRenameMsg
	linkAdds      []linkAddMsg
	shares        []itemShareMsg

	linkSalt     string
	linkPassword string // hex hash the info endpoint demands
	linkInfo     *linkInfoResp
}

func newFakeServer(t *testing.T) *fakeServer {
	s := &fakeServer{
		t:          t,
		dirs:       make(map[string]wireDir),
		files:      make(map[string]wireFile),
		dirHashes:  make(map[string]string),
		origParent: make(map[string]string),
		chunks:     make(map[string]map[int64][]byte),
		calls:      make(map[string]int),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func decodeBody[T any](t *testing.T, r *http.Request) T {
	t.Helper()
	var msg T
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &msg))
	return msg
}

func writeJSON(w http.ResponseWriter, v any) {
	b, _ := json.Marshal(v)
	_, _ = w.Write(b)
}

func (s *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls[r.URL.Path]++
	s.mu.Unlock()

	// chunk body download: GET /<region>/<bucket>/<uuid>/<index>
	if r.Method == http.MethodGet {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) == 4 {
			idx, err := strconv.ParseInt(parts[3], 10, 64)
			if err == nil {
				s.mu.Lock()
				chunk, ok := s.chunks[parts[2]][idx]
				s.mu.Unlock()
				if !ok {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				_, _ = w.Write(chunk)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.URL.Path {
	case pathDirCreate:
		msg := decodeBody[dirCreateMsg](s.t, r)
		s.dirs[msg.UUID] = wireDir{UUID: msg.UUID, Parent: msg.Parent, Name: msg.Name, Timestamp: time.Now().UnixMilli()}
		s.dirHashes[msg.UUID] = msg.NameHashed
		writeJSON(w, dirCreateResp{UUID: msg.UUID})

	case pathDirContent, pathTrashContent, pathLinksContent, pathFavoritesContent, pathRecentsContent:
		msg := decodeBody[dirContentMsg](s.t, r)
		var resp dirContentResp
		for _, d := range s.dirs {
			if d.Parent == msg.UUID {
				resp.Dirs = append(resp.Dirs, d)
			}
		}
		for _, f := range s.files {
			if f.Parent == msg.UUID {
				resp.Files = append(resp.Files, f)
			}
		}
		writeJSON(w, resp)

	case pathDirGet:
		msg := decodeBody[dirGetMsg](s.t, r)
		d, ok := s.dirs[msg.UUID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, d)

	case pathFileGet:
		msg := decodeBody[fileGetMsg](s.t, r)
		f, ok := s.files[msg.UUID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, f)

	case pathDirMove:
		msg := decodeBody[dirMoveMsg](s.t, r)
		d := s.dirs[msg.UUID]
		d.Parent = msg.Parent
		s.dirs[msg.UUID] = d
		writeJSON(w, struct{}{})

	case pathFileMove:
		msg := decodeBody[fileMoveMsg](s.t, r)
		f := s.files[msg.UUID]
		f.Parent = msg.Parent
		s.files[msg.UUID] = f
		writeJSON(w, struct{}{})

	case pathDirTrash:
		msg := decodeBody[dirTrashMsg](s.t, r)
		d := s.dirs[msg.UUID]
		if d.Parent != wireParentTrash {
			s.origParent[msg.UUID] = d.Parent
		}
		d.Parent = wireParentTrash
		s.dirs[msg.UUID] = d
		writeJSON(w, struct{}{})

	case pathFileTrash:
		msg := decodeBody[fileTrashMsg](s.t, r)
		f := s.files[msg.UUID]
		if f.Parent != wireParentTrash {
			s.origParent[msg.UUID] = f.Parent
		}
		f.Parent = wireParentTrash
		s.files[msg.UUID] = f
		writeJSON(w, struct{}{})

	case pathItemRestore:
		msg := decodeBody[itemRestoreMsg](s.t, r)
		if msg.Type == "folder" {
			d := s.dirs[msg.UUID]
			d.Parent = s.origParent[msg.UUID]
			s.dirs[msg.UUID] = d
		} else {
			f := s.files[msg.UUID]
			f.Parent = s.origParent[msg.UUID]
			s.files[msg.UUID] = f
		}
		writeJSON(w, struct{}{})

	case pathItemDeletePermanent:
		msg := decodeBody[itemDeletePermanentMsg](s.t, r)
		delete(s.dirs, msg.UUID)
		delete(s.files, msg.UUID)
		writeJSON(w, struct{}{})

	case pathFileMetadata:
		msg := decodeBody[fileMetadataMsg](s.t, r)
		f := s.files[msg.UUID]
		f.Metadata = msg.Metadata
		s.files[msg.UUID] = f
		writeJSON(w, struct{}{})

	case pathDirMetadata:
		msg := decodeBody[dirMetadataMsg](s.t, r)
		d := s.dirs[msg.UUID]
		d.Name = msg.Metadata
		s.dirs[msg.UUID] = d
		s.dirHashes[msg.UUID] = msg.NameHashed
		writeJSON(w, struct{}{})

	case pathItemFavorite:
		msg := decodeBody[itemFavoriteMsg](s.t, r)
		if msg.Type == "folder" {
			d := s.dirs[msg.UUID]
			d.Favorited = msg.Value
			s.dirs[msg.UUID] = d
		} else {
			f := s.files[msg.UUID]
			f.Favorited = msg.Value
			s.files[msg.UUID] = f
		}
		writeJSON(w, struct{}{})

	case pathDirColor:
		msg := decodeBody[dirColorMsg](s.t, r)
		d := s.dirs[msg.UUID]
		d.Color = msg.Color
		s.dirs[msg.UUID] = d
		writeJSON(w, struct{}{})

	case pathDirExists:
		msg := decodeBody[dirExistsMsg](s.t, r)
		for uuid, h := range s.dirHashes {
			if h == msg.NameHashed && s.dirs[uuid].Parent == msg.Parent {
				writeJSON(w, dirExistsResp{Exists: true, UUID: uuid})
				return
			}
		}
		writeJSON(w, dirExistsResp{})

	case pathItemLinked:
		writeJSON(w, itemLinkedResp{Link: len(s.linkedEntries) > 0, Links: s.linkedEntries})

	case pathItemShared:
		writeJSON(w, itemSharedResp{Sharing: len(s.sharedUsers) > 0, Users: s.sharedUsers})

	case pathItemLinkedRename:
		s.linkedRenames = append(s.linkedRenames, decodeBody[itemLinkedRenameMsg](s.t, r))
		writeJSON(w, struct{}{})

	case pathItemSharedRename:
		s.sharedRenames = append(s.sharedRenames, decodeBody[itemSharedRenameMsg](s.t, r))
		writeJSON(w, struct{}{})

	case pathLinkDirAdd:
		s.linkAdds = append(s.linkAdds, decodeBody[linkAddMsg](s.t, r))
		writeJSON(w, struct{}{})

	case pathLinkDirEdit, pathLinkFileEdit, pathLinkDirRemove:
		writeJSON(w, struct{}{})

	case pathItemShare:
		s.shares = append(s.shares, decodeBody[itemShareMsg](s.t, r))
		writeJSON(w, struct{}{})

	case pathDirDownload:
		msg := decodeBody[dirDownloadMsg](s.t, r)
		var resp dirDownloadResp
		if self, ok := s.dirs[msg.UUID]; ok {
			resp.Dirs = append(resp.Dirs, self) // self-entry, client must filter
		}
		for _, d := range s.dirs {
			if d.UUID != msg.UUID {
				resp.Dirs = append(resp.Dirs, d)
			}
		}
		for _, f := range s.files {
			resp.Files = append(resp.Files, f)
		}
		if r.Header.Get("msgpack") != "1" {
			s.t.Error("recursive listing requested without msgpack header")
		}
		b, _ := msgpack.Marshal(resp)
		_, _ = w.Write(b)

	case pathUploadChunkBuffer:
		q := r.URL.Query()
		idx, _ := strconv.ParseInt(q.Get("index"), 10, 64)
		uuid := q.Get("uuid")
		body, _ := io.ReadAll(r.Body)
		if s.chunks[uuid] == nil {
			s.chunks[uuid] = make(map[int64][]byte)
		}
		s.chunks[uuid][idx] = body
		writeJSON(w, chunkUploadResp{Region: "eu", Bucket: "b1"})

	case pathUploadDone:
		msg := decodeBody[uploadDoneMsg](s.t, r)
		s.files[msg.UUID] = wireFile{
			UUID: msg.UUID, Parent: msg.Parent, Metadata: msg.Metadata,
			Chunks: msg.Chunks, Region: "eu", Bucket: "b1",
			Version: msg.Version, Timestamp: time.Now().UnixMilli(),
		}
		writeJSON(w, uploadDoneResp{UUID: msg.UUID, Timestamp: time.Now().UnixMilli()})

	case pathUploadEmpty:
		msg := decodeBody[uploadEmptyMsg](s.t, r)
		s.files[msg.UUID] = wireFile{
			UUID: msg.UUID, Parent: msg.Parent, Metadata: msg.Metadata,
			Version: msg.Version, Timestamp: time.Now().UnixMilli(),
		}
		writeJSON(w, uploadEmptyResp{UUID: msg.UUID, Timestamp: time.Now().UnixMilli()})

	case pathLinkFilePassword:
		writeJSON(w, linkSaltResp{Salt: s.linkSalt, HasPassword: s.linkPassword != ""})

	case pathLinkFileInfo:
		msg := decodeBody[linkInfoMsg](s.t, r)
		if s.linkPassword != "" && msg.Password != s.linkPassword {
			w.WriteHeader(http.StatusForbidden)
			writeJSON(w, map[string]string{"message": "link password required"})
			return
		}
		writeJSON(w, s.linkInfo)

	default:
		s.t.Errorf("unhandled endpoint %s", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestClient(t *testing.T, s *fakeServer) (*Client, []byte) {
	t.Helper()
	masterKey := bytes.Repeat([]byte{7}, 32)
	der, err := x509.MarshalPKCS8PrivateKey(testRSA(t))
	require.NoError(t, err)
	c, err := New(Config{APIURL: s.srv.URL, Logger: quietLogger()}, Credentials{
		Email:       "tester@example.com",
		RootUUID:    testRootUUID,
		AuthInfo:    base64.StdEncoding.EncodeToString(masterKey),
		PrivateKey:  base64.StdEncoding.EncodeToString(der),
		APIKey:      "test-api-key",
		AuthVersion: 2,
	})
	require.NoError(t, err)
	return c, masterKey
}

func TestCreateDirAndList(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)
	ctx := context.Background()

	dir, err := c.CreateDir(ctx, c.Root(), "documents", nil)
	require.NoError(t, err)
	name, ok := dir.Name()
	require.True(t, ok)
	require.Equal(t, "documents", name)

	dirs, files, err := c.ListDir(ctx, c.Root())
	require.NoError(t, err)
	require.Empty(t, files)
	require.Len(t, dirs, 1)
	require.Equal(t, dir.UUIDStr, dirs[0].UUIDStr)
	listedName, ok := dirs[0].Name()
	require.True(t, ok)
	require.Equal(t, "documents", listedName)
}

func TestFindOrCreateDirThenFindAtPath(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)
	ctx := context.Background()

	leaf, err := c.FindOrCreateDir(ctx, "a/b/c")
	require.NoError(t, err)
	require.NotNil(t, leaf)

	found, err := c.FindItemAtPath(ctx, "a/b/c")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, leaf.UUIDStr, found.UUID())

	// idempotent: a second call lands on the same uuid
	again, err := c.FindOrCreateDir(ctx, "a/b/c")
	require.NoError(t, err)
	require.Equal(t, leaf.UUIDStr, again.UUIDStr)
}

func TestFindOrCreateDirRejectsFileSegment(t *testing.T) {
	s := newFakeServer(t)
	c, masterKey := newTestClient(t, s)
	ctx := context.Background()

	// plant a file named "a" at the root
	fm := FileMeta{Name: "a", Mime: "text/plain", Size: 1, Key: "k"}
	enc, err := EncodeFileMeta(masterKey, fm)
	require.NoError(t, err)
	s.mu.Lock()
	s.files["f1"] = wireFile{UUID: "f1", Parent: testRootUUID, Metadata: enc, Version: 2}
	s.mu.Unlock()

	_, err = c.FindOrCreateDir(ctx, "a/b")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidType)
}

func TestMoveTrashRestoreDir(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)
	ctx := context.Background()

	src, err := c.CreateDir(ctx, c.Root(), "src", nil)
	require.NoError(t, err)
	dst, err := c.CreateDir(ctx, c.Root(), "dst", nil)
	require.NoError(t, err)

	require.NoError(t, c.MoveDir(ctx, src, dst))
	require.Equal(t, DirRef(dst.UUIDStr), src.ParentRef)

	require.NoError(t, c.TrashDir(ctx, src))
	require.Equal(t, ParentTrash, src.ParentRef.Kind)

	// trash is idempotent: a second call leaves the item unchanged
	require.NoError(t, c.TrashDir(ctx, src))
	require.Equal(t, ParentTrash, src.ParentRef.Kind)

	// restore re-reads the pre-trash parent from the server
	require.NoError(t, c.RestoreDir(ctx, src))
	require.Equal(t, DirRef(dst.UUIDStr), src.ParentRef)
}

func TestRenameDirUpdatesEnvelopeAndHash(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)
	ctx := context.Background()

	dir, err := c.CreateDir(ctx, c.Root(), "old", nil)
	require.NoError(t, err)
	require.NoError(t, c.RenameDir(ctx, dir, "renamed"))

	name, ok := dir.Name()
	require.True(t, ok)
	require.Equal(t, "renamed", name)

	// the name-hash index answers without decrypting siblings
	exists, uuid, err := c.DirExists(ctx, c.Root(), "renamed")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, dir.UUIDStr, uuid)
}

func TestRenameFilePropagatesToShareRecipients(t *testing.T) {
	s := newFakeServer(t)
	c, masterKey := newTestClient(t, s)
	ctx := context.Background()

	recipient := testRSA(t)
	pubDER, err := x509.MarshalPKIXPublicKey(&recipient.PublicKey)
	require.NoError(t, err)
	s.mu.Lock()
	s.sharedUsers = []itemSharedUser{{ID: 42, Email: "friend@example.com", PublicKey: base64.StdEncoding.EncodeToString(pubDER)}}
	s.mu.Unlock()

	fm := FileMeta{Name: "notes.txt", Mime: "text/plain", Size: 3, Key: "k"}
	enc, err := EncodeFileMeta(masterKey, fm)
	require.NoError(t, err)
	s.mu.Lock()
	s.files["f1"] = wireFile{UUID: "f1", Parent: testRootUUID, Metadata: enc, Version: 2}
	s.mu.Unlock()

	_, files, err := c.ListDir(ctx, c.Root())
	require.NoError(t, err)
	require.Len(t, files, 1)

	require.NoError(t, c.RenameFile(ctx, files[0], "renamed.txt"))

	s.mu.Lock()
	renames := append([]itemSharedRenameMsg(nil), s.sharedRenames...)
	s.mu.Unlock()
	require.Len(t, renames, 1)
	require.Equal(t, int64(42), renames[0].ReceiverID)

	// the re-wrapped metadata must decrypt under the recipient's key
	plain, err := crypto.UnwrapKey(recipient, renames[0].Metadata)
	require.NoError(t, err)
	var got FileMeta
	require.NoError(t, json.Unmarshal(plain, &got))
	require.Equal(t, "renamed.txt", got.Name)
}

func TestSetFavoriteRankFlipsServerOnlyOnSignChange(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)
	ctx := context.Background()

	dir, err := c.CreateDir(ctx, c.Root(), "favs", nil)
	require.NoError(t, err)

	require.NoError(t, c.SetFavoriteRank(ctx, dir, 3))
	require.NoError(t, c.SetFavoriteRank(ctx, dir, 7)) // still favorited, no flip
	require.NoError(t, c.SetFavoriteRank(ctx, dir, 0)) // unfavorite, flip

	s.mu.Lock()
	flips := s.calls[pathItemFavorite]
	s.mu.Unlock()
	require.Equal(t, 2, flips)
	require.False(t, dir.Favorited())
}

func TestCopyIsUnsupported(t *testing.T) {
	s := newFakeServer(t)
	c, _ := newTestClient(t, s)
	ctx := context.Background()

	err := c.CopyFile(ctx, &File{UUIDStr: "f"}, c.Root())
	require.True(t, errors.Is(err, ErrUnsupported))
	err = c.CopyDir(ctx, &Dir{UUIDStr: "d"}, c.Root())
	require.True(t, errors.Is(err, ErrUnsupported))
}

func TestAsFileAsDirMismatch(t *testing.T) {
	dir := &Dir{UUIDStr: "d"}
	_, err := AsFile(dir)
	require.ErrorIs(t, err, ErrInvalidType)
	var ite *InvalidTypeError
	require.ErrorAs(t, err, &ite)
	require.Equal(t, "file", ite.Expected)
	require.Equal(t, "dir", ite.Actual)
}
