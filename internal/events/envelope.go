package events

import (
	"time"

	"github.com/spec-kit/channel-service/internal/domain"
)

// Kind tags the populated variant of an Envelope.
type Kind string

const (
	KindChannelMessage Kind = "ChannelMessage"
	KindCreate         Kind = "Create"
	KindRename         Kind = "Rename"
)

// ObjectType distinguishes files from folders in sync events.
type ObjectType string

const (
	ObjectFile   ObjectType = "File"
	ObjectFolder ObjectType = "Folder"
)

// OperationKind tags the populated variant of an Operation.
type OperationKind string

const (
	OperationFile OperationKind = "File"
	OperationPath OperationKind = "Path"
)

// Envelope is the payload carried over a channel. Exactly one of Message,
// Create or Rename is set, matching Kind. Delivered envelopes are shared
// between listeners and must be treated as read-only.
type Envelope struct {
	Kind    Kind
	Message *ChannelMessage
	Create  *SyncMessage
	Rename  *SyncMessage
}

// UserSnapshot is the public view of the sender at send time.
type UserSnapshot struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	EmailAddress  string   `json:"email_address"`
	EmailVerified bool     `json:"email_verified"`
	Roles         []string `json:"roles"`
	WhenCreated   int64    `json:"when_created"`
	LastLogin     int64    `json:"last_login"`
}

// ChannelSnapshot is the recipient channel at send time.
type ChannelSnapshot struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Public        bool   `json:"public"`
	WhenCreated   int64  `json:"when_created"`
	LastPublish   int64  `json:"last_publish"`
	LastSubscribe int64  `json:"last_subscribe"`
}

// ChannelMessage is a chat message. SendWhen is epoch milliseconds.
type ChannelMessage struct {
	ID       string          `json:"id"`
	Message  string          `json:"message"`
	SendTo   ChannelSnapshot `json:"send_to"`
	SendFrom UserSnapshot    `json:"send_from"`
	SendWhen int64           `json:"send_when"`
}

// Stat carries filesystem times as reported by the client, unmodified.
type Stat struct {
	Ctime float64 `json:"ctime"`
	Mtime float64 `json:"mtime"`
	Size  uint64  `json:"size"`
}

// FileOperation describes a file.
type FileOperation struct {
	Basename  string `json:"basename"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Path      string `json:"path"`
	Stat      *Stat  `json:"stat,omitempty"`
}

// PathOperation describes a folder.
type PathOperation struct {
	Basename string `json:"basename"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Stat     *Stat  `json:"stat,omitempty"`
}

// Operation is File or Path; exactly one pointer is set, matching Kind.
type Operation struct {
	Kind OperationKind
	File *FileOperation
	Path *PathOperation
}

// Location is where an object lived before a rename.
type Location struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// SyncMessage is the body of Create and Rename events. Previous is set only for renames.
type SyncMessage struct {
	OperationType ObjectType `json:"operation_type"`
	Operation     Operation  `json:"operation"`
	Previous      *Location  `json:"previous,omitempty"`
}

// NewChannelMessage wraps a chat message.
func NewChannelMessage(msg ChannelMessage) Envelope {
	return Envelope{Kind: KindChannelMessage, Message: &msg}
}

// NewCreate wraps a create event.
func NewCreate(msg SyncMessage) Envelope {
	return Envelope{Kind: KindCreate, Create: &msg}
}

// NewRename wraps a rename event.
func NewRename(msg SyncMessage) Envelope {
	return Envelope{Kind: KindRename, Rename: &msg}
}

// FileOp builds a file operation; the basename is name.extension.
func FileOp(name, extension, path string, stat *Stat) Operation {
	return Operation{Kind: OperationFile, File: &FileOperation{
		Basename:  name + "." + extension,
		Name:      name,
		Extension: extension,
		Path:      path,
		Stat:      stat,
	}}
}

// FolderOp builds a folder operation.
func FolderOp(name, path string, stat *Stat) Operation {
	return Operation{Kind: OperationPath, Path: &PathOperation{
		Basename: name,
		Name:     name,
		Path:     path,
		Stat:     stat,
	}}
}

// SnapshotIdentity captures the public fields of an identity.
func SnapshotIdentity(identity *domain.Identity) UserSnapshot {
	roles := make([]string, 0, len(identity.Roles))
	for _, role := range identity.Roles {
		roles = append(roles, role.String())
	}
	return UserSnapshot{
		ID:            identity.ID,
		Name:          identity.Name,
		EmailAddress:  identity.EmailAddress,
		EmailVerified: identity.EmailVerified,
		Roles:         roles,
		WhenCreated:   millis(identity.CreatedAt),
		LastLogin:     millis(identity.LastLogin),
	}
}

// SnapshotChannel captures a channel.
func SnapshotChannel(channel domain.Channel) ChannelSnapshot {
	return ChannelSnapshot{
		ID:            channel.ID,
		Name:          channel.Name,
		Description:   channel.Description,
		Public:        channel.Public,
		WhenCreated:   millis(channel.CreatedAt),
		LastPublish:   millis(channel.LastPublish),
		LastSubscribe: millis(channel.LastSubscribe),
	}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
