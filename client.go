// Package vault is an end-to-end encrypted cloud-storage client: it
// authenticates as a user, browses and mutates a remote filesystem,
// stream-uploads and stream-downloads files with client-side chunked
// encryption, and reacts to server-side state changes through a push
// channel. The server only ever sees ciphertext; every name, mime type
// and file body is encrypted locally before it goes on the wire.
package vault

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vaultfs.dev/client/internal/crypto"
	"vaultfs.dev/client/internal/socket"
	"vaultfs.dev/client/internal/transport"
)

// Credentials is the persistable bundle a caller stores after login and
// hands back to New on the next run (spec.md §6 "Persisted state").
// AuthInfo carries the base64 account master key as derived from the
// login password (crypto.DeriveAccountKey); it is the only secret here
// besides the private key, and neither ever reaches the server in
// plaintext.
type Credentials struct {
	Email       string `json:"email"`
	RootUUID    string `json:"rootUUID"`
	AuthInfo    string `json:"authInfo"`
	PrivateKey  string `json:"privateKey"` // base64 PKCS#8 DER
	APIKey      string `json:"apiKey"`
	AuthVersion int    `json:"authVersion"`
}

// Stringify serializes the bundle for the caller to persist.
func (c Credentials) Stringify() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", newErr(KindConversion, "stringify credentials", err)
	}
	return string(b), nil
}

// ParseCredentials reverses Stringify.
func ParseCredentials(s string) (Credentials, error) {
	var c Credentials
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return Credentials{}, newErr(KindConversion, "parse credentials", err)
	}
	return c, nil
}

// Client is the root handle for one authenticated user. All methods are
// safe for concurrent use; the underlying HTTP pipeline, limiters and
// key material are shared across every call (spec.md §5
// "Shared-resource policy").
type Client struct {
	cfg    Config
	logger *logrus.Logger
	http   *transport.Client
	locks  *lockRegistry

	email       string
	rootUUID    string
	authVersion int
	masterKey   []byte
	privateKey  *rsa.PrivateKey
	publicKey   *rsa.PublicKey

	sockMu     sync.Mutex
	sock       *socket.Conn
	sockCancel context.CancelFunc
}

// New builds a Client from a stored credential bundle. It performs no
// network I/O; the first request will surface any stale-key problem as
// KindUnauthenticated.
func New(cfg Config, creds Credentials) (*Client, error) {
	cfg = cfg.withDefaults()

	if creds.APIKey == "" || creds.RootUUID == "" {
		return nil, newErr(KindInvalidState, "new client", fmt.Errorf("credentials missing api key or root uuid"))
	}
	masterKey, err := base64.StdEncoding.DecodeString(creds.AuthInfo)
	if err != nil {
		return nil, newErr(KindConversion, "decode account key", err)
	}
	if len(masterKey) != 32 {
		return nil, newErr(KindConversion, "decode account key", fmt.Errorf("want 32 bytes, got %d", len(masterKey)))
	}

	var priv *rsa.PrivateKey
	if creds.PrivateKey != "" {
		der, err := base64.StdEncoding.DecodeString(creds.PrivateKey)
		if err != nil {
			return nil, newErr(KindConversion, "decode private key", err)
		}
		parsed, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, newErr(KindConversion, "parse private key", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, newErr(KindConversion, "parse private key", fmt.Errorf("not an RSA key"))
		}
		priv = rsaKey
	}

	tc := transport.NewClient(transport.Config{
		BaseURL:                   cfg.APIURL,
		Concurrency:               cfg.Concurrency,
		RateLimitPerSec:           cfg.RateLimitPerSec,
		RetryBudgetTokens:         cfg.RetryBudgetTokens,
		RetryBudgetRatio:          cfg.RetryBudgetRatio,
		UploadBandwidthKBPerSec:   cfg.UploadBandwidthKBPerSec,
		DownloadBandwidthKBPerSec: cfg.DownloadBandwidthKBPerSec,
		RequestTimeout:            cfg.RequestTimeout,
		Logger:                    cfg.Logger,
	})
	tc.SetAPIKey(creds.APIKey)

	c := &Client{
		cfg:         cfg,
		logger:      cfg.Logger,
		http:        tc,
		locks:       newLockRegistry(),
		email:       creds.Email,
		rootUUID:    creds.RootUUID,
		authVersion: creds.AuthVersion,
		masterKey:   masterKey,
		privateKey:  priv,
	}
	if priv != nil {
		c.publicKey = &priv.PublicKey
	}
	return c, nil
}

// Email returns the account's email address.
func (c *Client) Email() string { return c.email }

// Root returns the account's root container. Storage numbers are only
// populated after a listing has touched the root.
func (c *Client) Root() *Root {
	return &Root{UUIDStr: c.rootUUID}
}

// SetAPIKey rotates the bearer token without tearing down the pipeline
// (spec.md §4.3 layer 11).
func (c *Client) SetAPIKey(key string) {
	c.http.SetAPIKey(key)
}

// Close tears down the push-event connection, if one was started.
// In-flight HTTP requests run to completion.
func (c *Client) Close() {
	c.sockMu.Lock()
	defer c.sockMu.Unlock()
	if c.sockCancel != nil {
		c.sockCancel()
		c.sockCancel = nil
		c.sock = nil
	}
}

// do routes one request through the transport pipeline and remaps the
// transport error taxonomy into this package's (spec.md §7
// "Propagation policy": each layer transforms at most once).
func (c *Client) do(ctx context.Context, req transport.Request, out interface{}) error {
	if err := c.http.Do(ctx, req, out); err != nil {
		return fromTransport(err, req.Endpoint)
	}
	return nil
}

func fromTransport(err error, context string) error {
	te, ok := err.(*transport.Error)
	if !ok {
		return newErr(KindNetwork, context, err)
	}
	var kind Kind
	switch te.Kind {
	case transport.KindNetwork:
		kind = KindNetwork
	case transport.KindServer:
		kind = KindServer
	case transport.KindUnauthenticated:
		kind = KindUnauthenticated
	case transport.KindConversion:
		kind = KindConversion
	default:
		kind = KindResponse
	}
	return &Error{Kind: kind, Code: te.Code, Context: context, Err: err}
}

// socketURL builds the push endpoint, spec.md §6: the t parameter is a
// cache-busting unix-millis timestamp.
func (c *Client) socketURL() string {
	scheme := "wss"
	if c.cfg.SocketTLS != nil && !*c.cfg.SocketTLS {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/socket.io/?EIO=3&transport=websocket&t=%d",
		scheme, c.cfg.SocketHost, time.Now().UnixMilli())
}

// Events returns the push-event connection, dialing it on first use.
// The connection reconnects with exponential backoff until Close.
func (c *Client) Events() *socket.Conn {
	c.sockMu.Lock()
	defer c.sockMu.Unlock()
	if c.sock != nil {
		return c.sock
	}
	conn := socket.NewConn(socket.Config{
		URL:    c.socketURL(),
		APIKey: func() string { return c.apiKeySnapshotForSocket() },
		Decode: c.decodeSocketFrame,
		Logger: c.logger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	c.sockCancel = cancel
	c.sock = conn
	go func() {
		_ = conn.Run(ctx)
	}()
	return conn
}

// apiKeySnapshotForSocket re-reads the rotatable key for each (re)auth
// attempt, so a key rotation survives a socket reconnect.
func (c *Client) apiKeySnapshotForSocket() string {
	return c.http.APIKey()
}

// Subscribe registers fn for push events whose type is in filter, or
// every event when no filter is given. The returned handle is the only
// strong reference to the registration: dropping it deregisters
// eventually, Close deregisters now (spec.md §4.9 "Listener
// registry"). Events nobody subscribed to are never decrypted.
func (c *Client) Subscribe(fn socket.Listener, filter ...socket.EventType) *socket.ListenerHandle {
	return c.Events().Subscribe(fn, filter...)
}

// decodeSocketFrame is the off-hot-path decrypt stage (spec.md §4.9):
// it turns a raw wire frame into a concrete event, decrypting the
// metadata envelope where the event carries one. Events this client
// has no decoder for are dropped with a nil, nil return.
func (c *Client) decodeSocketFrame(f socket.Frame) (socket.Event, error) {
	switch socket.EventType(f.Name) {
	case socket.EventFileNew, socket.EventFileMove, socket.EventFileRestore:
		var w struct {
			UUID      string `json:"uuid"`
			Parent    string `json:"parent"`
			Metadata  string `json:"metadata"`
			Chunks    int64  `json:"chunks"`
			Bucket    string `json:"bucket"`
			Region    string `json:"region"`
			Version   int    `json:"version"`
			Favorited bool   `json:"favorited"`
			Timestamp int64  `json:"timestamp"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		name := c.decryptEventName(w.Metadata, true)
		ts := time.UnixMilli(w.Timestamp)
		switch socket.EventType(f.Name) {
		case socket.EventFileNew:
			return &socket.FileNew{UUID: w.UUID, Parent: w.Parent, Metadata: w.Metadata, Name: name, Timestamp: ts, Chunks: w.Chunks, Bucket: w.Bucket, Region: w.Region, Version: crypto.FileEncryptionVersion(w.Version), Favorited: w.Favorited}, nil
		case socket.EventFileMove:
			return &socket.FileMove{UUID: w.UUID, Parent: w.Parent, Metadata: w.Metadata, Name: name, Timestamp: ts, Chunks: w.Chunks, Bucket: w.Bucket, Region: w.Region, Version: crypto.FileEncryptionVersion(w.Version), Favorited: w.Favorited}, nil
		default:
			return &socket.FileRestore{UUID: w.UUID, Parent: w.Parent, Metadata: w.Metadata, Name: name, Timestamp: ts, Chunks: w.Chunks, Bucket: w.Bucket, Region: w.Region, Version: crypto.FileEncryptionVersion(w.Version), Favorited: w.Favorited}, nil
		}
	case socket.EventFileRename:
		var w struct {
			UUID     string `json:"uuid"`
			Metadata string `json:"metadata"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.FileRename{UUID: w.UUID, Metadata: w.Metadata, Name: c.decryptEventName(w.Metadata, true)}, nil
	case socket.EventFileTrash:
		var w struct {
			UUID string `json:"uuid"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.FileTrash{UUID: w.UUID}, nil
	case socket.EventFileArchived:
		var w struct {
			UUID string `json:"uuid"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.FileArchived{UUID: w.UUID}, nil
	case socket.EventFileArchiveRestored:
		var w struct {
			CurrentUUID string `json:"currentUUID"`
			UUID        string `json:"uuid"`
			Parent      string `json:"parent"`
			Metadata    string `json:"metadata"`
			Chunks      int64  `json:"chunks"`
			Bucket      string `json:"bucket"`
			Region      string `json:"region"`
			Version     int    `json:"version"`
			Favorited   bool   `json:"favorited"`
			Timestamp   int64  `json:"timestamp"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.FileArchiveRestored{
			CurrentUUID: w.CurrentUUID, UUID: w.UUID, Parent: w.Parent,
			Metadata: w.Metadata, Name: c.decryptEventName(w.Metadata, true),
			Timestamp: time.UnixMilli(w.Timestamp), Chunks: w.Chunks,
			Bucket: w.Bucket, Region: w.Region,
			Version: crypto.FileEncryptionVersion(w.Version), Favorited: w.Favorited,
		}, nil
	case socket.EventFileDeletedPermanent:
		var w struct {
			UUID string `json:"uuid"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.FileDeletedPermanent{UUID: w.UUID}, nil
	case socket.EventFolderRename:
		var w struct {
			UUID string `json:"uuid"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.FolderRename{UUID: w.UUID, Metadata: w.Name, Name: c.decryptEventName(w.Name, false)}, nil
	case socket.EventFolderMove, socket.EventFolderRestore, socket.EventFolderSubCreated:
		var w struct {
			UUID      string `json:"uuid"`
			Parent    string `json:"parent"`
			Name      string `json:"name"`
			Favorited bool   `json:"favorited"`
			Timestamp int64  `json:"timestamp"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		name := c.decryptEventName(w.Name, false)
		ts := time.UnixMilli(w.Timestamp)
		switch socket.EventType(f.Name) {
		case socket.EventFolderMove:
			return &socket.FolderMove{UUID: w.UUID, Parent: w.Parent, Metadata: w.Name, Name: name, Timestamp: ts, Favorited: w.Favorited}, nil
		case socket.EventFolderRestore:
			return &socket.FolderRestore{UUID: w.UUID, Parent: w.Parent, Metadata: w.Name, Name: name, Timestamp: ts, Favorited: w.Favorited}, nil
		default:
			return &socket.FolderSubCreated{UUID: w.UUID, Parent: w.Parent, Metadata: w.Name, Name: name, Timestamp: ts, Favorited: w.Favorited}, nil
		}
	case socket.EventFolderTrash:
		var w struct {
			UUID   string `json:"uuid"`
			Parent string `json:"parent"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.FolderTrash{UUID: w.UUID, Parent: w.Parent}, nil
	case socket.EventFolderColorChanged:
		var w struct {
			UUID  string `json:"uuid"`
			Color string `json:"color"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.FolderColorChanged{UUID: w.UUID, Color: w.Color}, nil
	case socket.EventItemFavorite:
		var w struct {
			UUID     string `json:"uuid"`
			Type     string `json:"type"`
			Value    bool   `json:"value"`
			Metadata string `json:"metadata"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.ItemFavorite{UUID: w.UUID, ItemType: w.Type, Value: w.Value, Metadata: w.Metadata, Name: c.decryptEventName(w.Metadata, w.Type == "file")}, nil
	case socket.EventTrashEmpty:
		return socket.TrashEmpty{}, nil
	case socket.EventPasswordChanged:
		return socket.PasswordChanged{}, nil
	case socket.EventChatMessageNew:
		var w struct {
			Conversation string `json:"conversation"`
			UUID         string `json:"uuid"`
			Message      string `json:"message"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.ChatMessageNew{Conversation: w.Conversation, UUID: w.UUID, Message: w.Message}, nil
	case socket.EventChatMessageEdited:
		var w struct {
			Conversation    string `json:"conversation"`
			UUID            string `json:"uuid"`
			Message         string `json:"message"`
			EditedTimestamp int64  `json:"editedTimestamp"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.ChatMessageEdited{Conversation: w.Conversation, UUID: w.UUID, Message: w.Message, EditedTimestamp: time.UnixMilli(w.EditedTimestamp)}, nil
	case socket.EventChatMessageDelete:
		var w struct {
			UUID string `json:"uuid"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.ChatMessageDelete{UUID: w.UUID}, nil
	case socket.EventChatMessageEmbedDisabled:
		var w struct {
			UUID string `json:"uuid"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.ChatMessageEmbedDisabled{UUID: w.UUID}, nil
	case socket.EventChatConversationsNew:
		var w struct {
			UUID           string `json:"uuid"`
			Metadata       string `json:"metadata"`
			AddedTimestamp int64  `json:"addedTimestamp"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.ChatConversationsNew{UUID: w.UUID, Metadata: w.Metadata, AddedTimestamp: time.UnixMilli(w.AddedTimestamp)}, nil
	case socket.EventChatConversationNameEdited:
		var w struct {
			UUID string `json:"uuid"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.ChatConversationNameEdited{UUID: w.UUID, Name: w.Name}, nil
	case socket.EventChatConversationParticipantNew:
		var w struct {
			Conversation   string `json:"conversation"`
			UserID         int64  `json:"userId"`
			Email          string `json:"email"`
			Metadata       string `json:"metadata"`
			PermissionsAdd bool   `json:"permissionsAdd"`
			AddedTimestamp int64  `json:"addedTimestamp"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.ChatConversationParticipantNew{Conversation: w.Conversation, UserID: w.UserID, Email: w.Email, Metadata: w.Metadata, PermissionsAdd: w.PermissionsAdd, AddedTimestamp: time.UnixMilli(w.AddedTimestamp)}, nil
	case socket.EventChatConversationParticipantLeft:
		var w struct {
			UUID   string `json:"uuid"`
			UserID int64  `json:"userId"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.ChatConversationParticipantLeft{UUID: w.UUID, UserID: w.UserID}, nil
	case socket.EventChatConversationDeleted:
		var w struct {
			UUID string `json:"uuid"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.ChatConversationDeleted{UUID: w.UUID}, nil
	case socket.EventChatTyping:
		var w struct {
			Conversation string `json:"conversation"`
			SenderEmail  string `json:"senderEmail"`
			SenderID     int64  `json:"senderId"`
			Timestamp    int64  `json:"timestamp"`
			Type         string `json:"type"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.ChatTyping{Conversation: w.Conversation, SenderEmail: w.SenderEmail, SenderID: w.SenderID, Timestamp: time.UnixMilli(w.Timestamp), TypingType: w.Type}, nil
	case socket.EventNoteNew, socket.EventNoteArchived, socket.EventNoteDeleted, socket.EventNoteRestored:
		var w struct {
			Note string `json:"note"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		switch socket.EventType(f.Name) {
		case socket.EventNoteNew:
			return &socket.NoteNew{Note: w.Note}, nil
		case socket.EventNoteArchived:
			return &socket.NoteArchived{Note: w.Note}, nil
		case socket.EventNoteDeleted:
			return &socket.NoteDeleted{Note: w.Note}, nil
		default:
			return &socket.NoteRestored{Note: w.Note}, nil
		}
	case socket.EventNoteTitleEdited:
		var w struct {
			Note  string `json:"note"`
			Title string `json:"title"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.NoteTitleEdited{Note: w.Note, Title: w.Title}, nil
	case socket.EventNoteContentEdited:
		var w struct {
			Note            string `json:"note"`
			Content         string `json:"content"`
			Type            string `json:"type"`
			EditorID        int64  `json:"editorId"`
			EditedTimestamp int64  `json:"editedTimestamp"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.NoteContentEdited{Note: w.Note, Content: w.Content, NoteType: w.Type, EditorID: w.EditorID, EditedTimestamp: time.UnixMilli(w.EditedTimestamp)}, nil
	case socket.EventNoteParticipantNew:
		var w struct {
			Note     string `json:"note"`
			UserID   int64  `json:"userId"`
			Email    string `json:"email"`
			Metadata string `json:"metadata"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.NoteParticipantNew{Note: w.Note, UserID: w.UserID, Email: w.Email, Metadata: w.Metadata}, nil
	case socket.EventNoteParticipantRemoved:
		var w struct {
			Note   string `json:"note"`
			UserID int64  `json:"userId"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.NoteParticipantRemoved{Note: w.Note, UserID: w.UserID}, nil
	case socket.EventNoteParticipantPermissions:
		var w struct {
			Note             string `json:"note"`
			UserID           int64  `json:"userId"`
			PermissionsWrite bool   `json:"permissionsWrite"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.NoteParticipantPermissions{Note: w.Note, UserID: w.UserID, PermissionsWrite: w.PermissionsWrite}, nil
	case socket.EventContactRequestReceived:
		var w struct {
			UUID        string `json:"uuid"`
			SenderID    int64  `json:"senderId"`
			SenderEmail string `json:"senderEmail"`
			Timestamp   int64  `json:"sentTimestamp"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.ContactRequestReceived{UUID: w.UUID, SenderID: w.SenderID, SenderEmail: w.SenderEmail, SentTimestamp: time.UnixMilli(w.Timestamp)}, nil
	case socket.EventNewEvent:
		var w struct {
			UUID      string `json:"uuid"`
			Type      string `json:"type"`
			Timestamp int64  `json:"timestamp"`
			Info      struct {
				IP        string `json:"ip"`
				UserAgent string `json:"userAgent"`
			} `json:"info"`
		}
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, err
		}
		return &socket.NewEvent{UUID: w.UUID, EventType: w.Type, Timestamp: time.UnixMilli(w.Timestamp), IP: w.Info.IP, UserAgent: w.Info.UserAgent}, nil
	default:
		return nil, nil
	}
}

// decryptEventName best-effort decrypts a metadata envelope carried by
// a push event into its plaintext name. An empty string means the
// envelope could not be decrypted with the keys at hand; the event
// still carries the original ciphertext for the caller.
func (c *Client) decryptEventName(ciphertext string, isFile bool) string {
	if ciphertext == "" {
		return ""
	}
	if isFile {
		env := DecodeFileMeta(c.masterKey, c.privateKey, ciphertext)
		if fm, ok := env.AsDecodedFile(); ok {
			return fm.Name
		}
		return ""
	}
	env := DecodeDirMeta(c.masterKey, c.privateKey, ciphertext)
	if dm, ok := env.AsDecodedDir(); ok {
		return dm.Name
	}
	return ""
}
