package vault

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"vaultfs.dev/client/internal/crypto"
	"vaultfs.dev/client/internal/transport"
)

// Wire forms of the pseudo-containers a parent field can carry besides
// a real uuid.
const (
	wireParentTrash     = "trash"
	wireParentLinks     = "links"
	wireParentFavorites = "favorites"
	wireParentRecents   = "recents"
)

func (c *Client) parentRefFromWire(parent string) ParentRef {
	switch parent {
	case wireParentTrash:
		return ParentRef{Kind: ParentTrash}
	case wireParentLinks:
		return ParentRef{Kind: ParentLinks}
	case wireParentFavorites:
		return ParentRef{Kind: ParentFavorites}
	case wireParentRecents:
		return ParentRef{Kind: ParentRecents}
	case c.rootUUID:
		return RootRef(parent)
	default:
		return DirRef(parent)
	}
}

func parentRefToWire(ref ParentRef) string {
	switch ref.Kind {
	case ParentTrash:
		return wireParentTrash
	case ParentLinks:
		return wireParentLinks
	case ParentFavorites:
		return wireParentFavorites
	case ParentRecents:
		return wireParentRecents
	default:
		return ref.UUID
	}
}

func itemTypeOf(obj FSObject) string {
	switch obj.(type) {
	case *File, *SharedFile:
		return "file"
	default:
		return "folder"
	}
}

func favoriteRank(favorited bool) int64 {
	if favorited {
		return 1
	}
	return 0
}

func (c *Client) decodeWireDir(w wireDir) *Dir {
	return &Dir{
		UUIDStr:   w.UUID,
		ParentRef: c.parentRefFromWire(w.Parent),
		Meta:      DecodeDirMeta(c.masterKey, c.privateKey, w.Name),
		Color:     DirColor(w.Color),
		Favorite:  favoriteRank(w.Favorited),
		ServerTS:  time.UnixMilli(w.Timestamp),
	}
}

func (c *Client) decodeWireFile(w wireFile) *File {
	return &File{
		UUIDStr:   w.UUID,
		ParentRef: c.parentRefFromWire(w.Parent),
		Meta:      DecodeFileMeta(c.masterKey, c.privateKey, w.Metadata),
		Region:    w.Region,
		Bucket:    w.Bucket,
		Chunks:    w.Chunks,
		Favorite:  favoriteRank(w.Favorited),
		ServerTS:  time.UnixMilli(w.Timestamp),
		Version:   crypto.FileEncryptionVersion(w.Version),
	}
}

// CreateDir creates a new directory under parent. The server may
// rewrite the proposed uuid; the returned Dir always carries the
// server's. After the create succeeds, the new directory's metadata is
// published into every public link and share that covers parent.
func (c *Client) CreateDir(ctx context.Context, parent DirLike, name string, created *time.Time) (*Dir, error) {
	unlock, err := c.locks.lockDrive(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return c.createDirLocked(ctx, parent, name, created)
}

func (c *Client) createDirLocked(ctx context.Context, parent DirLike, name string, created *time.Time) (*Dir, error) {
	if name == "" || strings.ContainsRune(name, '/') {
		return nil, newErr(KindInvalidState, "create dir", fmt.Errorf("invalid directory name %q", name))
	}
	meta := DirMeta{Name: name}
	if created != nil {
		ms := created.UnixMilli()
		meta.Created = &ms
	}
	encMeta, err := EncodeDirMeta(c.masterKey, meta)
	if err != nil {
		return nil, wrapContext(err, "create dir")
	}

	msg := dirCreateMsg{
		UUID:       uuid.NewString(),
		Parent:     parentRefToWire(parent.UUIDAsParent()),
		Name:       encMeta,
		NameHashed: crypto.HashName(c.masterKey, name),
	}
	var resp dirCreateResp
	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathDirCreate, Body: msg, Authenticated: true,
	}, &resp); err != nil {
		return nil, err
	}
	if resp.UUID == "" {
		resp.UUID = msg.UUID
	}
	dir := &Dir{
		UUIDStr:   resp.UUID,
		ParentRef: parent.UUIDAsParent(),
		Meta:      DirMetaEnvelope(meta),
		ServerTS:  time.Now(),
	}
	if err := c.updateMaybeConnectedItem(ctx, dir); err != nil {
		return nil, wrapContext(err, "create dir downstream")
	}
	return dir, nil
}

// ListDir lists the immediate children of parent, fully decrypted where
// possible. The caller owns the returned slices. The pseudo-containers
// Trash, Links, Favorites and Recents route to their own endpoints.
func (c *Client) ListDir(ctx context.Context, parent DirLike) ([]*Dir, []*File, error) {
	ref := parent.UUIDAsParent()
	endpoint := pathDirContent
	switch ref.Kind {
	case ParentTrash:
		endpoint = pathTrashContent
	case ParentLinks:
		endpoint = pathLinksContent
	case ParentFavorites:
		endpoint = pathFavoritesContent
	case ParentRecents:
		endpoint = pathRecentsContent
	}

	var resp dirContentResp
	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: endpoint,
		Body:          dirContentMsg{UUID: parentRefToWire(ref)},
		Authenticated: true,
	}, &resp); err != nil {
		return nil, nil, err
	}

	dirs := make([]*Dir, 0, len(resp.Dirs))
	for _, w := range resp.Dirs {
		dirs = append(dirs, c.decodeWireDir(w))
	}
	files := make([]*File, 0, len(resp.Files))
	for _, w := range resp.Files {
		files = append(files, c.decodeWireFile(w))
	}
	return dirs, files, nil
}

// pseudoDir lets the pseudo-containers be passed anywhere a DirLike is
// expected.
type pseudoDir struct{ kind ParentKind }

func (p pseudoDir) UUID() string            { return parentRefToWire(ParentRef{Kind: p.kind}) }
func (p pseudoDir) kindName() string        { return "dir" }
func (p pseudoDir) UUIDAsParent() ParentRef { return ParentRef{Kind: p.kind} }
func (p pseudoDir) ContentsListable() bool  { return true }

// Trash, Links, Favorites and Recents are the listable
// pseudo-containers (spec.md §3 "Parent references carry a tag").
func Trash() DirLike     { return pseudoDir{kind: ParentTrash} }
func Links() DirLike     { return pseudoDir{kind: ParentLinks} }
func Favorites() DirLike { return pseudoDir{kind: ParentFavorites} }
func Recents() DirLike   { return pseudoDir{kind: ParentRecents} }

// FindItem returns the child of parent matching nameOrUUID: first by
// decrypted name, else by uuid, else (nil, nil).
func (c *Client) FindItem(ctx context.Context, parent DirLike, nameOrUUID string) (FSObject, error) {
	dirs, files, err := c.ListDir(ctx, parent)
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if n, ok := d.Name(); ok && n == nameOrUUID {
			return d, nil
		}
	}
	for _, f := range files {
		if n, ok := f.Name(); ok && n == nameOrUUID {
			return f, nil
		}
	}
	for _, d := range dirs {
		if d.UUIDStr == nameOrUUID {
			return d, nil
		}
	}
	for _, f := range files {
		if f.UUIDStr == nameOrUUID {
			return f, nil
		}
	}
	return nil, nil
}

// FindItemAtPath walks path ("/"-separated, relative to the root) one
// segment at a time and returns the item at its end, or (nil, nil) if
// any segment is missing. A file in a non-final position fails with
// KindInvalidType.
func (c *Client) FindItemAtPath(ctx context.Context, path string) (FSObject, error) {
	segments := splitPath(path)
	var cur DirLike = c.Root()
	for i, seg := range segments {
		item, err := c.FindItem(ctx, cur, seg)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, nil
		}
		if i == len(segments)-1 {
			return item, nil
		}
		dir, err := AsDir(item)
		if err != nil {
			return nil, wrapContext(err, "path "+strings.Join(segments[:i+1], "/"))
		}
		cur = dir
	}
	return c.Root(), nil
}

// FindOrCreateDir descends path from the root, creating any missing
// directories. The whole traversal holds the drive lock so two
// concurrent calls can never materialize a partial tree between each
// other's steps (spec.md §4.5).
func (c *Client) FindOrCreateDir(ctx context.Context, path string) (*Dir, error) {
	unlock, err := c.locks.lockDrive(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, newErr(KindInvalidState, "find or create dir", fmt.Errorf("empty path"))
	}
	var cur DirLike = c.Root()
	var last *Dir
	for i, seg := range segments {
		item, err := c.FindItem(ctx, cur, seg)
		if err != nil {
			return nil, err
		}
		if item == nil {
			dir, err := c.createDirLocked(ctx, cur, seg, nil)
			if err != nil {
				return nil, err
			}
			cur, last = dir, dir
			continue
		}
		dir, err := AsDir(item)
		if err != nil {
			return nil, wrapContext(err, "path "+strings.Join(segments[:i+1], "/"))
		}
		cur, last = dir, dir
	}
	return last, nil
}

func splitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// MoveDir moves dir under newParent server-side and updates dir's
// parent-ref in place on success.
func (c *Client) MoveDir(ctx context.Context, dir *Dir, newParent DirLike) error {
	unlock, err := c.locks.lockDrive(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathDirMove,
		Body:          dirMoveMsg{UUID: dir.UUIDStr, Parent: parentRefToWire(newParent.UUIDAsParent())},
		Authenticated: true,
	}, nil); err != nil {
		return err
	}
	dir.ParentRef = newParent.UUIDAsParent()
	return nil
}

// MoveFile is MoveDir's file twin.
func (c *Client) MoveFile(ctx context.Context, file *File, newParent DirLike) error {
	unlock, err := c.locks.lockDrive(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathFileMove,
		Body:          fileMoveMsg{UUID: file.UUIDStr, Parent: parentRefToWire(newParent.UUIDAsParent())},
		Authenticated: true,
	}, nil); err != nil {
		return err
	}
	file.ParentRef = newParent.UUIDAsParent()
	return nil
}

// TrashDir moves dir to the trash. Recoverable via Restore; the server
// keeps the logical parent for that, while the in-memory parent-ref
// becomes Trash (spec.md invariant 6). Trashing an already-trashed
// item is accepted and is a no-op server-side.
func (c *Client) TrashDir(ctx context.Context, dir *Dir) error {
	unlock, err := c.locks.lockDrive(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathDirTrash,
		Body: dirTrashMsg{UUID: dir.UUIDStr}, Authenticated: true,
	}, nil); err != nil {
		return err
	}
	dir.ParentRef = ParentRef{Kind: ParentTrash}
	return nil
}

// TrashFile is TrashDir's file twin.
func (c *Client) TrashFile(ctx context.Context, file *File) error {
	unlock, err := c.locks.lockDrive(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathFileTrash,
		Body: fileTrashMsg{UUID: file.UUIDStr}, Authenticated: true,
	}, nil); err != nil {
		return err
	}
	file.ParentRef = ParentRef{Kind: ParentTrash}
	return nil
}

// RestoreDir restores a trashed directory. The restore endpoint does
// not return the restored parent, so it is re-read from the server
// afterwards (spec.md §4.5).
func (c *Client) RestoreDir(ctx context.Context, dir *Dir) error {
	unlock, err := c.locks.lockDrive(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathItemRestore,
		Body: itemRestoreMsg{UUID: dir.UUIDStr, Type: "folder"}, Authenticated: true,
	}, nil); err != nil {
		return err
	}
	var w wireDir
	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathDirGet,
		Body: dirGetMsg{UUID: dir.UUIDStr}, Authenticated: true,
	}, &w); err != nil {
		return wrapContext(err, "re-read restored dir")
	}
	*dir = *c.decodeWireDir(w)
	return nil
}

// RestoreFile is RestoreDir's file twin.
func (c *Client) RestoreFile(ctx context.Context, file *File) error {
	unlock, err := c.locks.lockDrive(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathItemRestore,
		Body: itemRestoreMsg{UUID: file.UUIDStr, Type: "file"}, Authenticated: true,
	}, nil); err != nil {
		return err
	}
	var w wireFile
	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathFileGet,
		Body: fileGetMsg{UUID: file.UUIDStr}, Authenticated: true,
	}, &w); err != nil {
		return wrapContext(err, "re-read restored file")
	}
	*file = *c.decodeWireFile(w)
	return nil
}

// DeletePermanently irreversibly destroys obj. There is no undo;
// callers are expected to have confirmed with the user.
func (c *Client) DeletePermanently(ctx context.Context, obj NonRootFSObject) error {
	unlock, err := c.locks.lockDrive(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathItemDeletePermanent,
		Body:          itemDeletePermanentMsg{UUID: obj.UUID(), Type: itemTypeOf(obj)},
		Authenticated: true,
	}, nil)
}

// Changes expresses a metadata delta (spec.md §4.5). Nil fields are
// left untouched.
type Changes struct {
	SetName     *string
	SetMime     *string
	SetCreated  *time.Time
	SetModified *time.Time
	ClearHash   bool
}

// UpdateFileMetadata applies changes to file's decoded metadata,
// re-encrypts the envelope under the owner key, sends the update, and
// fans the re-encryption out to every share recipient and directory
// link covering the file (spec.md §4.8). The in-memory file is updated
// in place on success.
func (c *Client) UpdateFileMetadata(ctx context.Context, file *File, changes Changes) error {
	unlock, err := c.locks.lockDrive(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	fm, ok := file.Meta.AsDecodedFile()
	if !ok {
		return newErr(KindMetadataWasNotDecrypted, "update file metadata", nil)
	}
	next := *fm
	if changes.SetName != nil {
		next.Name = *changes.SetName
	}
	if changes.SetMime != nil {
		next.Mime = *changes.SetMime
	}
	if changes.SetCreated != nil {
		ms := changes.SetCreated.UnixMilli()
		next.Created = &ms
	}
	if changes.SetModified != nil {
		next.LastModified = IntFromMaybeString(changes.SetModified.UnixMilli())
	}
	if changes.ClearHash {
		next.Hash = nil
	}

	encMeta, err := EncodeFileMeta(c.masterKey, next)
	if err != nil {
		return wrapContext(err, "update file metadata")
	}
	encName, err := crypto.EncryptMeta(c.masterKey, next.Name)
	if err != nil {
		return newErr(KindConversion, "encrypt file name", err)
	}
	encSize, err := crypto.EncryptMeta(c.masterKey, fmt.Sprintf("%d", next.Size))
	if err != nil {
		return newErr(KindConversion, "encrypt file size", err)
	}
	encMime, err := crypto.EncryptMeta(c.masterKey, next.Mime)
	if err != nil {
		return newErr(KindConversion, "encrypt file mime", err)
	}

	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathFileMetadata,
		Body: fileMetadataMsg{
			UUID:       file.UUIDStr,
			Name:       encName,
			NameHashed: crypto.HashName(c.masterKey, next.Name),
			Metadata:   encMeta,
			Mime:       encMime,
			Size:       encSize,
		},
		Authenticated: true,
	}, nil); err != nil {
		return err
	}

	file.Meta = FileMetaEnvelope(next)
	if err := c.updateMaybeConnectedItem(ctx, file); err != nil {
		return wrapContext(err, "update file metadata downstream")
	}
	return nil
}

// UpdateDirMetadata is UpdateFileMetadata's directory twin. Only
// SetName and SetCreated apply to directories.
func (c *Client) UpdateDirMetadata(ctx context.Context, dir *Dir, changes Changes) error {
	unlock, err := c.locks.lockDrive(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	dm, ok := dir.Meta.AsDecodedDir()
	if !ok {
		return newErr(KindMetadataWasNotDecrypted, "update dir metadata", nil)
	}
	next := *dm
	if changes.SetName != nil {
		next.Name = *changes.SetName
	}
	if changes.SetCreated != nil {
		ms := changes.SetCreated.UnixMilli()
		next.Created = &ms
	}

	encMeta, err := EncodeDirMeta(c.masterKey, next)
	if err != nil {
		return wrapContext(err, "update dir metadata")
	}

	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathDirMetadata,
		Body: dirMetadataMsg{
			UUID:       dir.UUIDStr,
			Name:       encMeta,
			NameHashed: crypto.HashName(c.masterKey, next.Name),
			Metadata:   encMeta,
		},
		Authenticated: true,
	}, nil); err != nil {
		return err
	}

	dir.Meta = DirMetaEnvelope(next)
	if err := c.updateMaybeConnectedItem(ctx, dir); err != nil {
		return wrapContext(err, "update dir metadata downstream")
	}
	return nil
}

// RenameFile renames file, maintaining the name-hash index and all
// downstream re-encryptions.
func (c *Client) RenameFile(ctx context.Context, file *File, newName string) error {
	return c.UpdateFileMetadata(ctx, file, Changes{SetName: &newName})
}

// RenameDir renames dir.
func (c *Client) RenameDir(ctx context.Context, dir *Dir, newName string) error {
	return c.UpdateDirMetadata(ctx, dir, Changes{SetName: &newName})
}

// SetFavorite flips the server-side favorite flag and normalizes the
// local rank to 1 or 0.
func (c *Client) SetFavorite(ctx context.Context, obj NonRootFSObject, favorite bool) error {
	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathItemFavorite,
		Body:          itemFavoriteMsg{UUID: obj.UUID(), Type: itemTypeOf(obj), Value: favorite},
		Authenticated: true,
	}, nil); err != nil {
		return err
	}
	setRank(obj, favoriteRank(favorite))
	return nil
}

// SetFavoriteRank stores rank locally; the server flag is only flipped
// when the favorited-ness (rank > 0) actually changes (spec.md §4.5).
func (c *Client) SetFavoriteRank(ctx context.Context, obj NonRootFSObject, rank int64) error {
	prev := rankOf(obj)
	if (rank > 0) != (prev > 0) {
		if err := c.do(ctx, transport.Request{
			Method: http.MethodPost, Endpoint: pathItemFavorite,
			Body:          itemFavoriteMsg{UUID: obj.UUID(), Type: itemTypeOf(obj), Value: rank > 0},
			Authenticated: true,
		}, nil); err != nil {
			return err
		}
	}
	setRank(obj, rank)
	return nil
}

func rankOf(obj NonRootFSObject) int64 {
	switch v := obj.(type) {
	case *Dir:
		return v.Favorite
	case *File:
		return v.Favorite
	case *SharedDir:
		return v.Favorite
	case *SharedFile:
		return v.Favorite
	}
	return 0
}

func setRank(obj NonRootFSObject, rank int64) {
	switch v := obj.(type) {
	case *Dir:
		v.Favorite = rank
	case *File:
		v.Favorite = rank
	case *SharedDir:
		v.Favorite = rank
	case *SharedFile:
		v.Favorite = rank
	}
}

// SetDirColor sets dir's color tag.
func (c *Client) SetDirColor(ctx context.Context, dir *Dir, color DirColor) error {
	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathDirColor,
		Body: dirColorMsg{UUID: dir.UUIDStr, Color: string(color)}, Authenticated: true,
	}, nil); err != nil {
		return err
	}
	dir.Color = color
	return nil
}

// DirExists answers whether parent already has a child directory of the
// given name, using only the name-hash index; no sibling metadata is
// decrypted (spec.md invariant 7).
func (c *Client) DirExists(ctx context.Context, parent DirLike, name string) (bool, string, error) {
	var resp dirExistsResp
	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathDirExists,
		Body: dirExistsMsg{
			Parent:     parentRefToWire(parent.UUIDAsParent()),
			NameHashed: crypto.HashName(c.masterKey, name),
		},
		Authenticated: true,
	}, &resp); err != nil {
		return false, "", err
	}
	return resp.Exists, resp.UUID, nil
}

// FileExists is DirExists's file twin.
func (c *Client) FileExists(ctx context.Context, parent DirLike, name string) (bool, string, error) {
	var resp fileExistsResp
	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathFileExists,
		Body: fileExistsMsg{
			Parent:     parentRefToWire(parent.UUIDAsParent()),
			NameHashed: crypto.HashName(c.masterKey, name),
		},
		Authenticated: true,
	}, &resp); err != nil {
		return false, "", err
	}
	return resp.Exists, resp.UUID, nil
}

// DirSize reports the server-computed recursive size of dir.
func (c *Client) DirSize(ctx context.Context, dir DirLike) (int64, error) {
	var resp dirSizeResp
	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathDirSize,
		Body: dirSizeMsg{UUID: dir.UUID()}, Authenticated: true,
	}, &resp); err != nil {
		return 0, err
	}
	return resp.Size, nil
}

// CopyFile is not available: the server exposes no copy endpoint.
func (c *Client) CopyFile(ctx context.Context, file *File, newParent DirLike) error {
	return newErr(KindUnsupported, "copy file", nil)
}

// CopyDir is not available: the server exposes no copy endpoint.
func (c *Client) CopyDir(ctx context.Context, dir *Dir, newParent DirLike) error {
	return newErr(KindUnsupported, "copy dir", nil)
}
