package vault

// Endpoint path constants, spec.md §6. Named the way the teacher names
// its `Cmd` strings ("us", "ug", ...) but as full paths, since this
// protocol is plain HTTP+JSON rather than Mega's single-endpoint batched
// command set.
const (
	pathUploadChunkBuffer = "/v3/upload/chunk/buffer"
	pathUploadDone        = "/v3/upload/done"
	pathUploadEmpty       = "/v3/upload/empty"

	pathDirCreate  = "/v3/dir/create"
	pathDirContent = "/v3/dir/content"
	pathDirGet     = "/v3/dir/get"
	pathDirTrash   = "/v3/dir/trash"
	pathDirMove    = "/v3/dir/move"
	pathDirColor   = "/v3/dir/color"
	pathDirExists  = "/v3/dir/exists"
	pathDirSize    = "/v3/dir/size"

	// pseudo-container listings, spec.md §4.5: Links and Favorites use
	// their own endpoints; Trash uses the trash endpoint.
	pathTrashContent     = "/v3/trash/content"
	pathLinksContent     = "/v3/dir/content/links"
	pathFavoritesContent = "/v3/dir/content/favorites"
	pathRecentsContent   = "/v3/dir/content/recents"

	// pathDirDownload streams the full recursive listing of a
	// directory as one large MessagePack response (spec.md §4.8).
	pathDirDownload = "/v3/dir/download"

	pathFileGet      = "/v3/file/get"
	pathFileTrash    = "/v3/file/trash"
	pathFileMove     = "/v3/file/move"
	pathFileMetadata = "/v3/file/metadata"
	pathDirMetadata  = "/v3/dir/metadata"
	pathFileExists   = "/v3/file/exists"

	pathItemRestore        = "/v3/item/restore"
	pathItemDeletePermanent = "/v3/item/delete/permanent"
	pathItemFavorite       = "/v3/item/favorite"

	pathLinkDirStatus   = "/v3/dir/link/status"
	pathLinkDirEdit     = "/v3/dir/link/edit"
	pathLinkDirAdd      = "/v3/dir/link/add"
	pathLinkDirContent  = "/v3/dir/link/content"
	pathLinkDirRemove   = "/v3/dir/link/remove"
	pathLinkDirInfo     = "/v3/dir/link/info"
	pathLinkDirPassword = "/v3/dir/link/password"

	pathLinkFileStatus   = "/v3/file/link/status"
	pathLinkFileEdit     = "/v3/file/link/edit"
	pathLinkFileContent  = "/v3/file/link/content"
	pathLinkFileRemove   = "/v3/file/link/remove"
	pathLinkFileInfo     = "/v3/file/link/info"
	pathLinkFilePassword = "/v3/file/link/password"

	pathSharedIn  = "/v3/shared/in"
	pathSharedOut = "/v3/shared/out"

	pathItemShare             = "/v3/item/share"
	pathItemShared            = "/v3/item/shared"
	pathItemLinked            = "/v3/item/linked"
	pathItemSharedRename      = "/v3/item/shared/rename"
	pathItemLinkedRename      = "/v3/item/linked/rename"
	pathItemSharedInRemove    = "/v3/item/shared/in/remove"
	pathItemSharedOutRemove   = "/v3/item/shared/out/remove"
)

// --- Upload / chunk endpoints ---

type chunkUploadResp struct {
	Region string `json:"region"`
	Bucket string `json:"bucket"`
}

type uploadDoneMsg struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"` // encrypted
	NameHashed string `json:"nameHashed"`
	Size       string `json:"size"` // encrypted
	Parent     string `json:"parent"`
	Mime       string `json:"mime"` // encrypted
	Metadata   string `json:"metadata"`
	Chunks     int64  `json:"chunks"`
	RM         string `json:"rm"`
	UploadKey  string `json:"uploadKey"`
	Version    int    `json:"version"`
}

type uploadDoneResp struct {
	UUID      string `json:"uuid"`
	Timestamp int64  `json:"timestamp"`
}

type uploadEmptyMsg struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	NameHashed string `json:"nameHashed"`
	Size       string `json:"size"`
	Parent     string `json:"parent"`
	Mime       string `json:"mime"`
	Metadata   string `json:"metadata"`
	Version    int    `json:"version"`
}

type uploadEmptyResp struct {
	UUID      string `json:"uuid"`
	Timestamp int64  `json:"timestamp"`
}

// --- Directory mutation endpoints ---

type dirCreateMsg struct {
	UUID       string `json:"uuid"`
	Parent     string `json:"parent"`
	Name       string `json:"name"` // encrypted metadata
	NameHashed string `json:"nameHashed"`
}

type dirCreateResp struct {
	UUID string `json:"uuid"`
}

// wireDir / wireFile are the server's listing shapes for dir/content,
// reused by trash/links/favorites listings that share the same fields
// (spec.md §4.5 "list_dir" / §6 "Filesystem endpoints").
type wireDir struct {
	UUID      string `json:"uuid" msgpack:"uuid"`
	Parent    string `json:"parent" msgpack:"parent"`
	Name      string `json:"name" msgpack:"name"` // encrypted metadata envelope
	Color     string `json:"color" msgpack:"color"`
	Favorited bool   `json:"favorited" msgpack:"favorited"`
	Timestamp int64  `json:"timestamp" msgpack:"timestamp"`
}

type wireFile struct {
	UUID      string `json:"uuid" msgpack:"uuid"`
	Parent    string `json:"parent" msgpack:"parent"`
	Metadata  string `json:"metadata" msgpack:"metadata"`
	Chunks    int64  `json:"chunks" msgpack:"chunks"`
	Size      int64  `json:"size" msgpack:"size"`
	Bucket    string `json:"bucket" msgpack:"bucket"`
	Region    string `json:"region" msgpack:"region"`
	Version   int    `json:"version" msgpack:"version"`
	Favorited bool   `json:"favorited" msgpack:"favorited"`
	Timestamp int64  `json:"timestamp" msgpack:"timestamp"`
}

type dirContentMsg struct {
	UUID string `json:"uuid"`
}

type dirContentResp struct {
	Dirs  []wireDir  `json:"dirs"`
	Files []wireFile `json:"files"`
}

type dirTrashMsg struct {
	UUID string `json:"uuid"`
}

type fileTrashMsg struct {
	UUID string `json:"uuid"`
}

type itemRestoreMsg struct {
	UUID string `json:"uuid"`
	Type string `json:"type"` // "file" | "folder"
}

// dirGetMsg / fileGetMsg fetch a single object's current server state,
// used after restore to re-read the real parent (spec.md §4.5: the
// server does not return it on restore).
type dirGetMsg struct {
	UUID string `json:"uuid"`
}

type fileGetMsg struct {
	UUID string `json:"uuid"`
}

// dirDownloadMsg requests the full recursive listing (spec.md §4.8);
// the response is MessagePack-encoded.
type dirDownloadMsg struct {
	UUID string `json:"uuid"`
}

type dirDownloadResp struct {
	Dirs  []wireDir  `msgpack:"dirs" json:"dirs"`
	Files []wireFile `msgpack:"files" json:"files"`
}

type itemDeletePermanentMsg struct {
	UUID string `json:"uuid"`
	Type string `json:"type"`
}

type dirMoveMsg struct {
	UUID   string `json:"uuid"`
	Parent string `json:"parent"`
}

type fileMoveMsg struct {
	UUID   string `json:"uuid"`
	Parent string `json:"parent"`
}

type dirColorMsg struct {
	UUID  string `json:"uuid"`
	Color string `json:"color"`
}

type itemFavoriteMsg struct {
	UUID  string `json:"uuid"`
	Type  string `json:"type"`
	Value bool   `json:"value"`
}

type fileMetadataMsg struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	NameHashed string `json:"nameHashed"`
	Metadata   string `json:"metadata"`
	Mime       string `json:"mime"`
	Size       string `json:"size"`
}

type dirMetadataMsg struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	NameHashed string `json:"nameHashed"`
	Metadata   string `json:"metadata"`
}

type dirExistsMsg struct {
	Parent     string `json:"parent"`
	NameHashed string `json:"nameHashed"`
}

type dirExistsResp struct {
	Exists bool   `json:"exists"`
	UUID   string `json:"uuid,omitempty"`
}

type fileExistsMsg struct {
	Parent     string `json:"parent"`
	NameHashed string `json:"nameHashed"`
}

type fileExistsResp struct {
	Exists bool   `json:"exists"`
	UUID   string `json:"uuid,omitempty"`
}

type dirSizeMsg struct {
	UUID string `json:"uuid"`
}

type dirSizeResp struct {
	Size   int64 `json:"size"`
	Files  int64 `json:"files"`
	Dirs   int64 `json:"dirs"`
}

// --- Public link endpoints (shared shape across dir/file) ---

type linkStatusMsg struct {
	UUID string `json:"uuid"`
}

type linkStatusResp struct {
	Enabled    bool   `json:"enabled"`
	LinkUUID   string `json:"linkUUID,omitempty"`
	Expiration string `json:"expiration,omitempty"`
	Download   bool   `json:"downloadBtn,omitempty"`
}

type linkEditMsg struct {
	UUID            string `json:"uuid"`
	LinkUUID        string `json:"linkUUID"`
	Expiration      string `json:"expiration"`
	EnableDownload  bool   `json:"downloadBtn"`
	Password        string `json:"password,omitempty"`
	PasswordHashed  string `json:"passwordHashed,omitempty"`
	Salt            string `json:"salt,omitempty"`
}

type linkAddMsg struct {
	UUID       string `json:"uuid"`
	Parent     string `json:"parent,omitempty"`
	LinkUUID   string `json:"linkUUID"`
	Metadata   string `json:"metadata"` // encrypted under the link key
	Key        string `json:"key"`      // link key, wrapped for the server index on the root entry only
	Expiration string `json:"expiration"`
	Type       string `json:"type"` // "file" | "folder"
}

type linkContentMsg struct {
	UUID string `json:"uuid"`
}

type linkContentResp struct {
	Dirs  []wireDir  `json:"dirs"`
	Files []wireFile `json:"files"`
}

type linkRemoveMsg struct {
	UUID     string `json:"uuid"`
	LinkUUID string `json:"linkUUID"`
}

type linkInfoMsg struct {
	UUID string `json:"uuid"`
	// Password is the hex of the derived 64-byte link-password hash;
	// required when the link is password gated, otherwise empty.
	Password string `json:"password,omitempty"`
}

// linkSaltResp is returned by the link password endpoint: the salt the
// visitor needs to derive the password hash, spec.md §8 scenario 5.
type linkSaltResp struct {
	Salt        string `json:"salt"`
	HasPassword bool   `json:"hasPassword"`
}

type linkInfoResp struct {
	UUID         string `json:"uuid"`
	Metadata     string `json:"metadata"`
	Bucket       string `json:"bucket,omitempty"`
	Region       string `json:"region,omitempty"`
	Chunks       int64  `json:"chunks,omitempty"`
	Size         int64  `json:"size,omitempty"`
	Timestamp    int64  `json:"timestamp"`
	Version      int    `json:"version"`
	PasswordSalt string `json:"passwordSalt,omitempty"`
	HasPassword  bool   `json:"hasPassword"`
}

type linkPasswordMsg struct {
	UUID string `json:"uuid"`
}

// --- Sharing endpoints ---

type sharedEntry struct {
	UUID     string `json:"uuid"`
	Type     string `json:"type"`
	Metadata string `json:"metadata"`
	SenderID int64  `json:"senderId,omitempty"`
	UserID   int64  `json:"receiverId,omitempty"`
	Email    string `json:"email"`
}

type sharedInResp struct {
	Items []sharedEntry `json:"items"`
}

type sharedOutResp struct {
	Items []sharedEntry `json:"items"`
}

type itemShareMsg struct {
	UUID     string `json:"uuid"`
	Parent   string `json:"parent,omitempty"`
	Email    string `json:"email"`
	Type     string `json:"type"`
	Metadata string `json:"metadata"` // RSA-wrapped under the recipient's public key
}

// itemSharedResp answers "who is this item (or an ancestor of it)
// shared with", carrying each recipient's public key so metadata can be
// re-wrapped for them (spec.md §4.8).
type itemSharedUser struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	PublicKey string `json:"publicKey"` // base64 PKIX DER
}

type itemSharedResp struct {
	Sharing bool             `json:"sharing"`
	Users   []itemSharedUser `json:"users"`
}

// itemLinkedResp answers "which directory public links cover this
// item", carrying each link's key encrypted under the owner master key.
type itemLinkedEntry struct {
	LinkUUID string `json:"linkUUID"`
	LinkKey  string `json:"linkKey"`
}

type itemLinkedResp struct {
	Link  bool              `json:"link"`
	Links []itemLinkedEntry `json:"links"`
}

type itemSharedRenameMsg struct {
	UUID     string `json:"uuid"`
	ReceiverID int64 `json:"receiverId"`
	Metadata string `json:"metadata"`
}

type itemLinkedRenameMsg struct {
	UUID     string `json:"uuid"`
	LinkUUID string `json:"linkUUID"`
	Metadata string `json:"metadata"`
}

type itemSharedInRemoveMsg struct {
	UUID string `json:"uuid"`
}

type itemSharedOutRemoveMsg struct {
	UUID     string `json:"uuid"`
	ReceiverID int64 `json:"receiverId"`
}
