// Package socket implements the C9 push-event subsystem of spec.md
// §4.9: a Socket.IO-shaped framed WebSocket connection with handshake,
// ping, reconnect-with-backoff, an ordered off-hot-path decrypt queue,
// and a weak-reference listener registry.
package socket

import (
	"time"

	"vaultfs.dev/client/internal/crypto"
)

// PacketType is the outer Engine.IO packet byte, spec.md §6.
type PacketType byte

const (
	PacketConnect PacketType = iota
	PacketDisconnect
	PacketPing
	PacketPong
	PacketMessage
	PacketUpgrade
	PacketNoop
)

// MessageType is the Socket.IO message byte nested inside a Message
// packet, spec.md §6.
type MessageType byte

const (
	MessageConnect MessageType = iota
	MessageDisconnect
	MessageEvent
	MessageAck
	MessageError
	MessageBinaryEvent
	MessageBinaryAck
)

// EventType names an event frame, always camelCase on the wire (spec.md
// §6 "the client treats kebab-case variants by collapsing -x -> X").
type EventType string

const (
	EventNewEvent                       EventType = "newEvent"
	EventFileNew                        EventType = "fileNew"
	EventFileRename                     EventType = "fileRename"
	EventFileMove                       EventType = "fileMove"
	EventFileTrash                      EventType = "fileTrash"
	EventFileRestore                    EventType = "fileRestore"
	EventFileArchived                   EventType = "fileArchived"
	EventFileArchiveRestored            EventType = "fileArchiveRestored"
	EventFileDeletedPermanent           EventType = "fileDeletedPermanent"
	EventFolderRename                   EventType = "folderRename"
	EventFolderMove                     EventType = "folderMove"
	EventFolderTrash                    EventType = "folderTrash"
	EventFolderRestore                  EventType = "folderRestore"
	EventFolderSubCreated               EventType = "folderSubCreated"
	EventFolderColorChanged             EventType = "folderColorChanged"
	EventItemFavorite                   EventType = "itemFavorite"
	EventTrashEmpty                     EventType = "trashEmpty"
	EventPasswordChanged                EventType = "passwordChanged"
	EventChatMessageNew                 EventType = "chatMessageNew"
	EventChatMessageEdited              EventType = "chatMessageEdited"
	EventChatMessageDelete              EventType = "chatMessageDelete"
	EventChatMessageEmbedDisabled       EventType = "chatMessageEmbedDisabled"
	EventChatTyping                     EventType = "chatTyping"
	EventChatConversationsNew           EventType = "chatConversationsNew"
	EventChatConversationNameEdited     EventType = "chatConversationNameEdited"
	EventChatConversationParticipantNew EventType = "chatConversationParticipantNew"
	EventChatConversationParticipantLeft EventType = "chatConversationParticipantLeft"
	EventChatConversationDeleted        EventType = "chatConversationDeleted"
	EventNoteNew                        EventType = "noteNew"
	EventNoteContentEdited              EventType = "noteContentEdited"
	EventNoteTitleEdited                EventType = "noteTitleEdited"
	EventNoteArchived                   EventType = "noteArchived"
	EventNoteDeleted                    EventType = "noteDeleted"
	EventNoteRestored                   EventType = "noteRestored"
	EventNoteParticipantNew             EventType = "noteParticipantNew"
	EventNoteParticipantRemoved         EventType = "noteParticipantRemoved"
	EventNoteParticipantPermissions     EventType = "noteParticipantPermissions"
	EventContactRequestReceived         EventType = "contactRequestReceived"
	// pseudo-events the client itself synthesizes for connection-state
	// transitions, never framed by the server (spec.md §4.9 state
	// diagram "broadcasts a Reconnecting event").
	EventReconnecting  EventType = "reconnecting"
	EventAuthSuccess   EventType = "authSuccess"
	EventAuthFailed    EventType = "authFailed"
)

// Event is implemented by every concrete event payload. Type() lets a
// listener's filter set match without a type switch; callers type-assert
// to the concrete struct for the fields.
type Event interface {
	Type() EventType
}

// raw is the partially-decoded wire shape: the event name plus its
// still-encrypted/unparsed JSON payload, produced by the read loop and
// consumed by the decrypt-dispatch stage (spec.md §4.9 "Decryption off
// the hot path").
type raw struct {
	name string
	data []byte
	seq  uint64
}

type FileNew struct {
	Parent, UUID  string
	Metadata      string // encrypted; Name is filled in after decrypt
	Name          string
	Timestamp     time.Time
	Chunks        int64
	Bucket, Region string
	Version       crypto.FileEncryptionVersion
	Favorited     bool
}

func (*FileNew) Type() EventType { return EventFileNew }

type FileRename struct {
	UUID     string
	Metadata string
	Name     string
}

func (*FileRename) Type() EventType { return EventFileRename }

type FileMove struct {
	Parent, UUID   string
	Metadata       string
	Name           string
	Timestamp      time.Time
	Chunks         int64
	Bucket, Region string
	Version        crypto.FileEncryptionVersion
	Favorited      bool
}

func (*FileMove) Type() EventType { return EventFileMove }

type FileTrash struct{ UUID string }

func (*FileTrash) Type() EventType { return EventFileTrash }

type FileRestore struct {
	Parent, UUID   string
	Metadata       string
	Name           string
	Timestamp      time.Time
	Chunks         int64
	Bucket, Region string
	Version        crypto.FileEncryptionVersion
	Favorited      bool
}

func (*FileRestore) Type() EventType { return EventFileRestore }

type FileArchived struct{ UUID string }

func (*FileArchived) Type() EventType { return EventFileArchived }

type FileArchiveRestored struct {
	CurrentUUID, Parent, UUID string
	Metadata                  string
	Name                      string
	Timestamp                 time.Time
	Chunks                    int64
	Bucket, Region            string
	Version                   crypto.FileEncryptionVersion
	Favorited                 bool
}

func (*FileArchiveRestored) Type() EventType { return EventFileArchiveRestored }

type FileDeletedPermanent struct{ UUID string }

func (*FileDeletedPermanent) Type() EventType { return EventFileDeletedPermanent }

type FolderRename struct {
	UUID     string
	Metadata string
	Name     string
}

func (*FolderRename) Type() EventType { return EventFolderRename }

type FolderMove struct {
	UUID, Parent string
	Metadata     string
	Name         string
	Timestamp    time.Time
	Favorited    bool
}

func (*FolderMove) Type() EventType { return EventFolderMove }

type FolderTrash struct{ Parent, UUID string }

func (*FolderTrash) Type() EventType { return EventFolderTrash }

type FolderRestore struct {
	UUID, Parent string
	Metadata     string
	Name         string
	Timestamp    time.Time
	Favorited    bool
}

func (*FolderRestore) Type() EventType { return EventFolderRestore }

type FolderSubCreated struct {
	UUID, Parent string
	Metadata     string
	Name         string
	Timestamp    time.Time
	Favorited    bool
}

func (*FolderSubCreated) Type() EventType { return EventFolderSubCreated }

type FolderColorChanged struct {
	UUID  string
	Color string
}

func (*FolderColorChanged) Type() EventType { return EventFolderColorChanged }

type ItemFavorite struct {
	UUID     string
	ItemType string
	Value    bool
	Metadata string
	Name     string
}

func (*ItemFavorite) Type() EventType { return EventItemFavorite }

type TrashEmpty struct{}

func (TrashEmpty) Type() EventType { return EventTrashEmpty }

type PasswordChanged struct{}

func (PasswordChanged) Type() EventType { return EventPasswordChanged }

type ChatMessageNew struct {
	Conversation, UUID string
	Message            string
}

func (*ChatMessageNew) Type() EventType { return EventChatMessageNew }

type ChatMessageEdited struct {
	Conversation, UUID string
	Message            string
	EditedTimestamp    time.Time
}

func (*ChatMessageEdited) Type() EventType { return EventChatMessageEdited }

type ChatMessageDelete struct{ UUID string }

func (*ChatMessageDelete) Type() EventType { return EventChatMessageDelete }

type ChatMessageEmbedDisabled struct{ UUID string }

func (*ChatMessageEmbedDisabled) Type() EventType { return EventChatMessageEmbedDisabled }

type ChatTyping struct {
	Conversation string
	SenderEmail  string
	SenderID     int64
	Timestamp    time.Time
	TypingType   string
}

func (*ChatTyping) Type() EventType { return EventChatTyping }

type ChatConversationsNew struct {
	UUID           string
	Metadata       string
	AddedTimestamp time.Time
}

func (*ChatConversationsNew) Type() EventType { return EventChatConversationsNew }

type ChatConversationNameEdited struct {
	UUID string
	Name string
}

func (*ChatConversationNameEdited) Type() EventType { return EventChatConversationNameEdited }

type ChatConversationParticipantNew struct {
	Conversation   string
	UserID         int64
	Email          string
	Metadata       string
	PermissionsAdd bool
	AddedTimestamp time.Time
}

func (*ChatConversationParticipantNew) Type() EventType {
	return EventChatConversationParticipantNew
}

type ChatConversationParticipantLeft struct {
	UUID   string
	UserID int64
}

func (*ChatConversationParticipantLeft) Type() EventType {
	return EventChatConversationParticipantLeft
}

type ChatConversationDeleted struct{ UUID string }

func (*ChatConversationDeleted) Type() EventType { return EventChatConversationDeleted }

type NoteNew struct{ Note string }

func (*NoteNew) Type() EventType { return EventNoteNew }

type NoteContentEdited struct {
	Note            string
	Content         string
	NoteType        string
	EditorID        int64
	EditedTimestamp time.Time
}

func (*NoteContentEdited) Type() EventType { return EventNoteContentEdited }

type NoteTitleEdited struct {
	Note  string
	Title string
}

func (*NoteTitleEdited) Type() EventType { return EventNoteTitleEdited }

type NoteArchived struct{ Note string }

func (*NoteArchived) Type() EventType { return EventNoteArchived }

type NoteDeleted struct{ Note string }

func (*NoteDeleted) Type() EventType { return EventNoteDeleted }

type NoteRestored struct{ Note string }

func (*NoteRestored) Type() EventType { return EventNoteRestored }

type NoteParticipantNew struct {
	Note     string
	UserID   int64
	Email    string
	Metadata string
}

func (*NoteParticipantNew) Type() EventType { return EventNoteParticipantNew }

type NoteParticipantRemoved struct {
	Note   string
	UserID int64
}

func (*NoteParticipantRemoved) Type() EventType { return EventNoteParticipantRemoved }

type NoteParticipantPermissions struct {
	Note              string
	UserID            int64
	PermissionsWrite  bool
}

func (*NoteParticipantPermissions) Type() EventType { return EventNoteParticipantPermissions }

type ContactRequestReceived struct {
	UUID          string
	SenderID      int64
	SenderEmail   string
	SentTimestamp time.Time
}

func (*ContactRequestReceived) Type() EventType { return EventContactRequestReceived }

type NewEvent struct {
	UUID      string
	EventType string
	Timestamp time.Time
	IP        string
	UserAgent string
}

func (*NewEvent) Type() EventType { return EventNewEvent }

// Reconnecting/AuthSuccess/AuthFailed are the client-synthesized
// connection-state markers spec.md §4.9/§8 scenario 6 names.
type Reconnecting struct{}

func (Reconnecting) Type() EventType { return EventReconnecting }

type AuthSuccess struct{}

func (AuthSuccess) Type() EventType { return EventAuthSuccess }

type AuthFailed struct{}

func (AuthFailed) Type() EventType { return EventAuthFailed }
