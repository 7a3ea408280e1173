package vault

import (
	"time"

	"vaultfs.dev/client/internal/crypto"
)

// ParentKind tags what a ParentRef points at: a real object (Root or
// Dir) or one of the pseudo-containers the server exposes as distinct
// listing endpoints.
type ParentKind int

const (
	ParentRoot ParentKind = iota
	ParentDir
	ParentTrash
	ParentLinks
	ParentFavorites
	ParentRecents
)

// ParentRef is a tagged reference to a container, never a pointer into
// the tree itself (spec.md §9 "Cyclic relations": all traversal is
// server-mediated, never followed through owning pointers).
type ParentRef struct {
	Kind ParentKind
	UUID string // meaningful only for ParentRoot and ParentDir
}

// DirRef builds a ParentRef pointing at a regular directory.
func DirRef(uuid string) ParentRef { return ParentRef{Kind: ParentDir, UUID: uuid} }

// RootRef builds a ParentRef pointing at the account root.
func RootRef(uuid string) ParentRef { return ParentRef{Kind: ParentRoot, UUID: uuid} }

// FSObject is the sum type spec.md §4 describes: Root | Dir | File |
// SharedDir | SharedFile. Go has no enum-of-structs; the idiom used
// throughout the corpus (and specifically called for by spec.md §9) is
// an interface plus explicit AsX() accessors that return
// InvalidTypeError rather than silently zero-valuing a type assertion.
type FSObject interface {
	UUID() string
	kindName() string
}

// NonRootFSObject is the subset of FSObject that has a parent and
// name-bearing metadata: Dir | File (and their shared variants).
type NonRootFSObject interface {
	FSObject
	Parent() ParentRef
}

// DirColor is a directory's UI color tag (supplemented from
// original_source/filen-types' DirColor, spec.md §13).
type DirColor string

const (
	DirColorDefault DirColor = ""
	DirColorBlue    DirColor = "blue"
	DirColorGreen   DirColor = "green"
	DirColorPurple  DirColor = "purple"
	DirColorRed     DirColor = "red"
	DirColorGray    DirColor = "gray"
)

// Root is the account's top-level container; exactly one exists per
// user and it has no parent (spec.md invariant 1).
type Root struct {
	UUIDStr      string
	StorageUsed  int64
	MaxStorage   int64
	LastListed   time.Time
}

func (r *Root) UUID() string    { return r.UUIDStr }
func (r *Root) kindName() string { return "root" }

// Dir is a regular directory.
type Dir struct {
	UUIDStr   string
	ParentRef ParentRef
	Meta      MetaEnvelope // decodes to DirMeta
	Color     DirColor
	Favorite  int64 // rank; favorited := rank > 0
	ServerTS  time.Time
}

func (d *Dir) UUID() string      { return d.UUIDStr }
func (d *Dir) kindName() string  { return "dir" }
func (d *Dir) Parent() ParentRef { return d.ParentRef }
func (d *Dir) Favorited() bool   { return d.Favorite > 0 }

// Name returns the decoded name, or ("", false) if the metadata has not
// been successfully decrypted (spec.md §4.4 name-bearing trait).
func (d *Dir) Name() (string, bool) {
	m, ok := d.Meta.AsDecodedDir()
	if !ok {
		return "", false
	}
	return m.Name, true
}

// File is a regular file.
type File struct {
	UUIDStr   string
	ParentRef ParentRef
	Meta      MetaEnvelope // decodes to FileMeta
	Region    string
	Bucket    string
	Chunks    int64
	Favorite  int64
	ServerTS  time.Time
	Version   crypto.FileEncryptionVersion
}

func (f *File) UUID() string      { return f.UUIDStr }
func (f *File) kindName() string  { return "file" }
func (f *File) Parent() ParentRef { return f.ParentRef }
func (f *File) Favorited() bool   { return f.Favorite > 0 }

// Name returns the decoded name, or ("", false) if undecrypted.
func (f *File) Name() (string, bool) {
	m, ok := f.Meta.AsDecodedFile()
	if !ok {
		return "", false
	}
	return m.Name, true
}

// Equal implements spec.md §4.4's File equality: every field listed
// there must agree, with Size compared as plaintext (decoded metadata),
// not ciphertext length.
func (f *File) Equal(other *File) bool {
	if f == nil || other == nil {
		return f == other
	}
	if f.UUIDStr != other.UUIDStr || f.ParentRef != other.ParentRef {
		return false
	}
	if f.Chunks != other.Chunks || f.Region != other.Region || f.Bucket != other.Bucket {
		return false
	}
	fm, fok := f.Meta.AsDecodedFile()
	om, ook := other.Meta.AsDecodedFile()
	if fok != ook {
		return false
	}
	if !fok {
		// both undecrypted: compare ciphertext directly as the only
		// available signal.
		return f.Meta.Ciphertext() == other.Meta.Ciphertext()
	}
	hashEq := fm.Hash == om.Hash || (fm.Hash != nil && om.Hash != nil && *fm.Hash == *om.Hash)
	return fm.Name == om.Name && fm.Mime == om.Mime && fm.Size == om.Size &&
		hashEq && fm.Key == om.Key
}

// SharingRole describes which side of a share relationship an object
// carries.
type SharingRole struct {
	IsSharer bool
	UserID   int64
	Email    string
}

// SharedDir is a Dir plus the sharing role it carries for the caller.
type SharedDir struct {
	Dir
	Role SharingRole
}

func (s *SharedDir) kindName() string { return "shared_dir" }

// SharedFile is a File plus the sharing role it carries for the caller.
type SharedFile struct {
	File
	Role SharingRole
}

func (s *SharedFile) kindName() string { return "shared_file" }

// LinkedFileInfo is a public-link view of a file: deliberately not part
// of the FSObject sum type, since it is never a node the caller's tree
// owns. It is a one-shot projection fetched by a link visitor who may
// not even have an account.
type LinkedFileInfo struct {
	UUIDStr      string
	Name         *string // nil if metadata could not be decrypted under the link key
	Mime         *string
	Size         int64
	Chunks       int64
	Region       string
	Bucket       string
	Timestamp    time.Time
	Version      crypto.FileEncryptionVersion
	PasswordHash *[64]byte // set only if the link requires one
}

// asFile/asDir accessor helpers, spec.md §9.

// AsFile narrows an FSObject to *File, returning InvalidTypeError
// (KindInvalidType) if obj is not a file.
func AsFile(obj FSObject) (*File, error) {
	switch v := obj.(type) {
	case *File:
		return v, nil
	case *SharedFile:
		return &v.File, nil
	default:
		return nil, newInvalidType("file", obj.kindName())
	}
}

// AsDir narrows an FSObject to *Dir, returning InvalidTypeError
// (KindInvalidType) if obj is not a directory.
func AsDir(obj FSObject) (*Dir, error) {
	switch v := obj.(type) {
	case *Dir:
		return v, nil
	case *SharedDir:
		return &v.Dir, nil
	case *Root:
		return nil, newInvalidType("dir", "root")
	default:
		return nil, newInvalidType("dir", obj.kindName())
	}
}

// DirLike is implemented by anything that can be listed into / used as
// a move/create target: Root and Dir (and their shared variants).
type DirLike interface {
	FSObject
	UUIDAsParent() ParentRef
	ContentsListable() bool
}

func (r *Root) UUIDAsParent() ParentRef     { return RootRef(r.UUIDStr) }
func (r *Root) ContentsListable() bool      { return true }
func (d *Dir) UUIDAsParent() ParentRef      { return DirRef(d.UUIDStr) }
func (d *Dir) ContentsListable() bool       { return true }
func (s *SharedDir) UUIDAsParent() ParentRef { return DirRef(s.UUIDStr) }
func (s *SharedDir) ContentsListable() bool  { return true }
