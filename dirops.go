package vault

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vaultfs.dev/client/internal/crypto"
	"vaultfs.dev/client/internal/transport"
)

// ProgressFunc receives (downloaded, total) ciphertext byte counts as a
// large response streams in; total is nil when the server does not
// announce a length.
type ProgressFunc func(downloaded int64, total *int64)

// RecursiveList enumerates every descendant of dir in one large
// MessagePack-encoded server call (spec.md §4.8). Decoding the
// envelopes is CPU-bound and is spread across GOMAXPROCS workers. The
// self-entry the endpoint returns for dir itself is filtered out.
func (c *Client) RecursiveList(ctx context.Context, dir DirLike, progress ProgressFunc) ([]*Dir, []*File, error) {
	var resp dirDownloadResp
	if err := c.do(ctx, transport.Request{
		Method:        http.MethodPost,
		Endpoint:      pathDirDownload,
		Body:          dirDownloadMsg{UUID: dir.UUID()},
		ResponseType:  transport.Large,
		Authenticated: true,
		Progress:      progress,
	}, &resp); err != nil {
		return nil, nil, err
	}

	dirs := make([]*Dir, len(resp.Dirs))
	files := make([]*File, len(resp.Files))

	workers := runtime.GOMAXPROCS(0)
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range resp.Dirs {
		g.Go(func() error {
			dirs[i] = c.decodeWireDir(resp.Dirs[i])
			return nil
		})
	}
	for i := range resp.Files {
		g.Go(func() error {
			files[i] = c.decodeWireFile(resp.Files[i])
			return nil
		})
	}
	_ = g.Wait()

	out := dirs[:0]
	for _, d := range dirs {
		if d.UUIDStr != dir.UUID() {
			out = append(out, d)
		}
	}
	return out, files, nil
}

// decodedMetaJSON returns the plaintext JSON of obj's decoded metadata
// envelope, the unit of re-encryption for every downstream surface.
func decodedMetaJSON(obj NonRootFSObject) ([]byte, error) {
	switch v := obj.(type) {
	case *Dir:
		if dm, ok := v.Meta.AsDecodedDir(); ok {
			return json.Marshal(dm)
		}
	case *SharedDir:
		if dm, ok := v.Meta.AsDecodedDir(); ok {
			return json.Marshal(dm)
		}
	case *File:
		if fm, ok := v.Meta.AsDecodedFile(); ok {
			return json.Marshal(fm)
		}
	case *SharedFile:
		if fm, ok := v.Meta.AsDecodedFile(); ok {
			return json.Marshal(fm)
		}
	}
	return nil, newErr(KindMetadataWasNotDecrypted, "encode metadata for downstream", nil)
}

// updateMaybeConnectedItem re-publishes obj's metadata to every
// downstream surface after a mutation: once per directory public link
// covering it (re-encrypted under the link key) and once per share
// recipient (re-wrapped under their public key). The two queries run in
// parallel, then all republications fan out together; the first error
// is surfaced but the remaining tasks are allowed to finish, and
// successful publications are not rolled back (spec.md §4.8
// "at-least-once semantics").
func (c *Client) updateMaybeConnectedItem(ctx context.Context, obj NonRootFSObject) error {
	metaJSON, err := decodedMetaJSON(obj)
	if err != nil {
		return err
	}

	var linked itemLinkedResp
	var shared itemSharedResp
	qg, qctx := errgroup.WithContext(ctx)
	qg.Go(func() error {
		return c.do(qctx, transport.Request{
			Method: http.MethodPost, Endpoint: pathItemLinked,
			Body: linkStatusMsg{UUID: obj.UUID()}, Authenticated: true,
		}, &linked)
	})
	qg.Go(func() error {
		return c.do(qctx, transport.Request{
			Method: http.MethodPost, Endpoint: pathItemShared,
			Body: linkStatusMsg{UUID: obj.UUID()}, Authenticated: true,
		}, &shared)
	})
	if err := qg.Wait(); err != nil {
		return wrapContext(err, "query downstream surfaces")
	}

	g := new(errgroup.Group)
	for _, link := range linked.Links {
		g.Go(func() error {
			keyB64, err := crypto.DecryptMeta(c.masterKey, link.LinkKey)
			if err != nil {
				return newErr(KindConversion, "decrypt link key", err)
			}
			linkKey, err := base64.StdEncoding.DecodeString(keyB64)
			if err != nil {
				return newErr(KindConversion, "decode link key", err)
			}
			enc, err := crypto.EncryptMeta(linkKey, string(metaJSON))
			if err != nil {
				return newErr(KindConversion, "re-encrypt metadata for link", err)
			}
			return c.do(ctx, transport.Request{
				Method: http.MethodPost, Endpoint: pathItemLinkedRename,
				Body:          itemLinkedRenameMsg{UUID: obj.UUID(), LinkUUID: link.LinkUUID, Metadata: enc},
				Authenticated: true,
			}, nil)
		})
	}
	for _, user := range shared.Users {
		g.Go(func() error {
			pub, err := crypto.ParsePublicKey(user.PublicKey)
			if err != nil {
				return newErr(KindConversion, "parse recipient public key", err)
			}
			wrapped, err := crypto.WrapKey(pub, metaJSON)
			if err != nil {
				return newErr(KindConversion, "re-wrap metadata for recipient", err)
			}
			return c.do(ctx, transport.Request{
				Method: http.MethodPost, Endpoint: pathItemSharedRename,
				Body:          itemSharedRenameMsg{UUID: obj.UUID(), ReceiverID: user.ID, Metadata: wrapped},
				Authenticated: true,
			}, nil)
		})
	}
	return g.Wait()
}

// LinkPasswordState says how a link's password is held in a
// DirPublicLink: not at all, as the plaintext the caller set, or only
// as the derived hash read back from the server.
type LinkPasswordState int

const (
	LinkPasswordNone LinkPasswordState = iota
	LinkPasswordKnown
	LinkPasswordHashed
)

// DirPublicLink is the contract of spec.md §4.8: everything a caller
// needs to hand out (or later edit/remove) a public directory link. The
// LinkKey is the link's shared secret; it never reaches the server in
// plaintext.
type DirPublicLink struct {
	LinkUUID       string
	LinkKey        []byte
	PasswordState  LinkPasswordState
	Password       string    // set when PasswordState == LinkPasswordKnown
	PasswordHash   *[64]byte // set when PasswordState == LinkPasswordHashed
	Expiration     string
	EnableDownload bool
	Salt           *[256]byte
}

// PublicLinkOptions configures a new public link.
type PublicLinkOptions struct {
	Password       *string
	Expiration     string // "never" when empty
	EnableDownload bool
}

const expirationNever = "never"

// PublicLinkDir publishes dir and every descendant under a fresh link
// key (spec.md §4.8). All publish calls run in parallel; on any
// failure the link is left half-built server-side and the caller
// should invoke RemoveDirLink.
func (c *Client) PublicLinkDir(ctx context.Context, dir *Dir, opts PublicLinkOptions) (*DirPublicLink, error) {
	unlock, err := c.locks.lockDrive(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	linkKey, err := crypto.RandomBytes(32)
	if err != nil {
		return nil, newErr(KindConversion, "mint link key", err)
	}
	link := &DirPublicLink{
		LinkUUID:       uuid.NewString(),
		LinkKey:        linkKey,
		Expiration:     opts.Expiration,
		EnableDownload: opts.EnableDownload,
	}
	if link.Expiration == "" {
		link.Expiration = expirationNever
	}

	// The owner's wrap of the link key, for the server's search index
	// and for later linked-of queries.
	keyWrapped, err := crypto.EncryptMeta(c.masterKey, base64.StdEncoding.EncodeToString(linkKey))
	if err != nil {
		return nil, newErr(KindConversion, "wrap link key", err)
	}

	dirs, files, err := c.RecursiveList(ctx, dir, nil)
	if err != nil {
		return nil, wrapContext(err, "list link descendants")
	}

	publish := func(obj NonRootFSObject, isRoot bool) error {
		metaJSON, err := decodedMetaJSON(obj)
		if err != nil {
			return err
		}
		enc, err := crypto.EncryptMeta(linkKey, string(metaJSON))
		if err != nil {
			return newErr(KindConversion, "encrypt metadata under link key", err)
		}
		msg := linkAddMsg{
			UUID:       obj.UUID(),
			LinkUUID:   link.LinkUUID,
			Metadata:   enc,
			Expiration: expirationNever,
			Type:       itemTypeOf(obj),
		}
		if isRoot {
			msg.Key = keyWrapped
		} else {
			msg.Parent = parentRefToWire(obj.Parent())
		}
		return c.do(ctx, transport.Request{
			Method: http.MethodPost, Endpoint: pathLinkDirAdd, Body: msg, Authenticated: true,
		}, nil)
	}

	if err := publish(dir, true); err != nil {
		return link, wrapContext(err, "publish link root")
	}

	g := new(errgroup.Group)
	for _, d := range dirs {
		g.Go(func() error { return publish(d, false) })
	}
	for _, f := range files {
		g.Go(func() error { return publish(f, false) })
	}
	if err := g.Wait(); err != nil {
		return link, wrapContext(err, "publish link descendants")
	}

	if opts.Password != nil {
		if err := c.setDirLinkPassword(ctx, dir, link, *opts.Password); err != nil {
			return link, err
		}
	}
	return link, nil
}

func (c *Client) setDirLinkPassword(ctx context.Context, dir *Dir, link *DirPublicLink, password string) error {
	salt, err := crypto.RandomSalt256()
	if err != nil {
		return newErr(KindConversion, "mint link salt", err)
	}
	hash := crypto.DerivePasswordForLink(password, salt)
	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathLinkDirEdit,
		Body: linkEditMsg{
			UUID:           dir.UUIDStr,
			LinkUUID:       link.LinkUUID,
			Expiration:     link.Expiration,
			EnableDownload: link.EnableDownload,
			PasswordHashed: hex.EncodeToString(hash[:]),
			Salt:           hex.EncodeToString(salt[:]),
		},
		Authenticated: true,
	}, nil); err != nil {
		return err
	}
	link.PasswordState = LinkPasswordKnown
	link.Password = password
	link.Salt = &salt
	return nil
}

// RemoveDirLink tears a public directory link down, including a
// half-built one left behind by a failed PublicLinkDir.
func (c *Client) RemoveDirLink(ctx context.Context, dir *Dir, link *DirPublicLink) error {
	return c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathLinkDirRemove,
		Body:          linkRemoveMsg{UUID: dir.UUIDStr, LinkUUID: link.LinkUUID},
		Authenticated: true,
	}, nil)
}

// Contact identifies a share recipient.
type Contact struct {
	UserID    int64
	Email     string
	PublicKey string // base64 PKIX DER
}

// ShareDir shares dir and every descendant with contact, wrapping each
// item's metadata under the recipient's public key (spec.md §4.8
// "Identical shape to linking but using the recipient's RSA public
// key"). All share calls run in parallel; the first error is surfaced
// after the rest finish.
func (c *Client) ShareDir(ctx context.Context, dir *Dir, contact Contact) error {
	unlock, err := c.locks.lockDrive(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	pub, err := crypto.ParsePublicKey(contact.PublicKey)
	if err != nil {
		return newErr(KindConversion, "parse recipient public key", err)
	}

	dirs, files, err := c.RecursiveList(ctx, dir, nil)
	if err != nil {
		return wrapContext(err, "list share descendants")
	}

	share := func(obj NonRootFSObject, isRoot bool) error {
		metaJSON, err := decodedMetaJSON(obj)
		if err != nil {
			return err
		}
		wrapped, err := crypto.WrapKey(pub, metaJSON)
		if err != nil {
			return newErr(KindConversion, "wrap metadata for recipient", err)
		}
		msg := itemShareMsg{
			UUID:     obj.UUID(),
			Email:    contact.Email,
			Type:     itemTypeOf(obj),
			Metadata: wrapped,
		}
		if !isRoot {
			msg.Parent = parentRefToWire(obj.Parent())
		}
		return c.do(ctx, transport.Request{
			Method: http.MethodPost, Endpoint: pathItemShare, Body: msg, Authenticated: true,
		}, nil)
	}

	if err := share(dir, true); err != nil {
		return wrapContext(err, "share root")
	}
	g := new(errgroup.Group)
	for _, d := range dirs {
		g.Go(func() error { return share(d, false) })
	}
	for _, f := range files {
		g.Go(func() error { return share(f, false) })
	}
	return g.Wait()
}

// ShareFile shares a single file with contact.
func (c *Client) ShareFile(ctx context.Context, file *File, contact Contact) error {
	pub, err := crypto.ParsePublicKey(contact.PublicKey)
	if err != nil {
		return newErr(KindConversion, "parse recipient public key", err)
	}
	metaJSON, err := decodedMetaJSON(file)
	if err != nil {
		return err
	}
	wrapped, err := crypto.WrapKey(pub, metaJSON)
	if err != nil {
		return newErr(KindConversion, "wrap metadata for recipient", err)
	}
	return c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathItemShare,
		Body: itemShareMsg{
			UUID:     file.UUIDStr,
			Email:    contact.Email,
			Type:     "file",
			Metadata: wrapped,
		},
		Authenticated: true,
	}, nil)
}

// SharedIn lists items other users have shared with this account; the
// metadata envelopes are RSA-unwrapped with the local private key.
func (c *Client) SharedIn(ctx context.Context) ([]*SharedDir, []*SharedFile, error) {
	return c.listShared(ctx, pathSharedIn, true)
}

// SharedOut lists items this account has shared with others.
func (c *Client) SharedOut(ctx context.Context) ([]*SharedDir, []*SharedFile, error) {
	return c.listShared(ctx, pathSharedOut, false)
}

func (c *Client) listShared(ctx context.Context, endpoint string, inbound bool) ([]*SharedDir, []*SharedFile, error) {
	var resp sharedInResp
	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: endpoint, Body: struct{}{}, Authenticated: true,
	}, &resp); err != nil {
		return nil, nil, err
	}

	var dirs []*SharedDir
	var files []*SharedFile
	for _, item := range resp.Items {
		role := SharingRole{IsSharer: !inbound}
		if inbound {
			role.UserID = item.SenderID
		} else {
			role.UserID = item.UserID
		}
		role.Email = item.Email

		switch item.Type {
		case "folder":
			dirs = append(dirs, &SharedDir{
				Dir: Dir{
					UUIDStr:   item.UUID,
					ParentRef: ParentRef{Kind: ParentLinks},
					Meta:      DecodeDirMeta(c.masterKey, c.privateKey, item.Metadata),
				},
				Role: role,
			})
		case "file":
			files = append(files, &SharedFile{
				File: File{
					UUIDStr:   item.UUID,
					ParentRef: ParentRef{Kind: ParentLinks},
					Meta:      DecodeFileMeta(c.masterKey, c.privateKey, item.Metadata),
					Version:   crypto.V2,
				},
				Role: role,
			})
		default:
			return nil, nil, newErr(KindResponse, "list shared", fmt.Errorf("unknown item type %q", item.Type))
		}
	}
	return dirs, files, nil
}

// RemoveSharedIn drops an inbound share: the item disappears from this
// account's shared-in listing without touching the sharer's copy.
func (c *Client) RemoveSharedIn(ctx context.Context, obj NonRootFSObject) error {
	return c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathItemSharedInRemove,
		Body: itemSharedInRemoveMsg{UUID: obj.UUID()}, Authenticated: true,
	}, nil)
}

// RemoveSharedOut revokes an outbound share from one recipient.
func (c *Client) RemoveSharedOut(ctx context.Context, obj NonRootFSObject, receiverID int64) error {
	return c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathItemSharedOutRemove,
		Body: itemSharedOutRemoveMsg{UUID: obj.UUID(), ReceiverID: receiverID}, Authenticated: true,
	}, nil)
}

// RemoveFileLink disables a single-file public link.
func (c *Client) RemoveFileLink(ctx context.Context, file *File, link *DirPublicLink) error {
	return c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathLinkFileRemove,
		Body: linkRemoveMsg{UUID: file.UUIDStr, LinkUUID: link.LinkUUID}, Authenticated: true,
	}, nil)
}

// DirLinkStatus reports whether dir currently has a public link.
func (c *Client) DirLinkStatus(ctx context.Context, dir *Dir) (bool, string, error) {
	var resp linkStatusResp
	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathLinkDirStatus,
		Body: linkStatusMsg{UUID: dir.UUIDStr}, Authenticated: true,
	}, &resp); err != nil {
		return false, "", err
	}
	return resp.Enabled, resp.LinkUUID, nil
}

// PublicLinkFile publishes a single-file public link. The returned
// link's key is the file's own per-file key wrapped for the visitor via
// the URL fragment, so no re-encryption of the body is needed.
func (c *Client) PublicLinkFile(ctx context.Context, file *File, opts PublicLinkOptions) (*DirPublicLink, error) {
	fm, ok := file.Meta.AsDecodedFile()
	if !ok {
		return nil, newErr(KindMetadataWasNotDecrypted, "public link file", nil)
	}
	link := &DirPublicLink{
		LinkUUID:       uuid.NewString(),
		Expiration:     opts.Expiration,
		EnableDownload: opts.EnableDownload,
	}
	if link.Expiration == "" {
		link.Expiration = expirationNever
	}
	msg := linkEditMsg{
		UUID:           file.UUIDStr,
		LinkUUID:       link.LinkUUID,
		Expiration:     link.Expiration,
		EnableDownload: link.EnableDownload,
	}
	if opts.Password != nil {
		salt, err := crypto.RandomSalt256()
		if err != nil {
			return nil, newErr(KindConversion, "mint link salt", err)
		}
		hash := crypto.DerivePasswordForLink(*opts.Password, salt)
		msg.PasswordHashed = hex.EncodeToString(hash[:])
		msg.Salt = hex.EncodeToString(salt[:])
		link.PasswordState = LinkPasswordKnown
		link.Password = *opts.Password
		link.Salt = &salt
	}
	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathLinkFileEdit, Body: msg, Authenticated: true,
	}, nil); err != nil {
		return nil, err
	}
	key, err := crypto.ParseFileKey(file.Version, fm.Key)
	if err != nil {
		return nil, newErr(KindConversion, "parse file key", err)
	}
	link.LinkKey = key.Raw()
	return link, nil
}

// LinkedFileInfo fetches the public-link view of a file. linkKey is the
// link's shared secret (carried in the URL fragment); password must be
// supplied when the link is gated: the salt is fetched from the
// password endpoint and the derived hash accompanies the info request
// (spec.md §8 scenario 5: requesting without it yields a server 403).
func (c *Client) LinkedFileInfo(ctx context.Context, linkUUID string, linkKey []byte, password *string) (*LinkedFileInfo, error) {
	msg := linkInfoMsg{UUID: linkUUID}

	var saltResp linkSaltResp
	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathLinkFilePassword,
		Body: linkPasswordMsg{UUID: linkUUID},
	}, &saltResp); err != nil {
		return nil, err
	}
	var passwordHash *[64]byte
	if saltResp.HasPassword && password != nil {
		rawSalt, err := hex.DecodeString(saltResp.Salt)
		if err != nil || len(rawSalt) != 256 {
			return nil, newErr(KindResponse, "link salt", err)
		}
		var salt [256]byte
		copy(salt[:], rawSalt)
		hash := crypto.DerivePasswordForLink(*password, salt)
		passwordHash = &hash
		msg.Password = hex.EncodeToString(hash[:])
	}

	var resp linkInfoResp
	if err := c.do(ctx, transport.Request{
		Method: http.MethodPost, Endpoint: pathLinkFileInfo, Body: msg,
	}, &resp); err != nil {
		return nil, err
	}

	info := &LinkedFileInfo{
		UUIDStr:      resp.UUID,
		Size:         resp.Size,
		Chunks:       resp.Chunks,
		Region:       resp.Region,
		Bucket:       resp.Bucket,
		Timestamp:    time.UnixMilli(resp.Timestamp),
		Version:      crypto.FileEncryptionVersion(resp.Version),
		PasswordHash: passwordHash,
	}
	if plain, err := crypto.DecryptMeta(linkKey, resp.Metadata); err == nil {
		var fm FileMeta
		if json.Unmarshal([]byte(plain), &fm) == nil {
			info.Name = &fm.Name
			info.Mime = &fm.Mime
			if fm.Size > 0 {
				info.Size = fm.Size
			}
		}
	}
	return info, nil
}
