// Package platform defines the canonical event surface shared by the
// Telegram backends. Adapters normalize raw platform payloads into these
// types; nothing beyond this package ever sees a raw update.
package platform

import (
	"fmt"
	"time"
)

// ChatKind classifies a conversation.
type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
)

// IsGroup reports whether the kind is any group variant.
func (k ChatKind) IsGroup() bool {
	return k == ChatGroup || k == ChatSupergroup
}

// User is a platform account taking part in a conversation.
type User struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	IsBot     bool
}

// FullName joins first and last name, trimming the gap when either is empty.
func (u User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Chat is the conversation an event belongs to. The identifier stays
// string-typed end to end; only the adapters parse it back to int64.
type Chat struct {
	ID        string
	Kind      ChatKind
	Title     string
	FirstName string
	LastName  string
	Username  string
}

// MediaKind is the canonical attachment classification.
type MediaKind string

const (
	MediaPhoto           MediaKind = "photo"
	MediaVideo           MediaKind = "video"
	MediaAudio           MediaKind = "audio"
	MediaVoice           MediaKind = "voice"
	MediaVideoNote       MediaKind = "video_note"
	MediaDocument        MediaKind = "document"
	MediaSticker         MediaKind = "sticker"
	MediaVideoSticker    MediaKind = "video_sticker"
	MediaAnimatedSticker MediaKind = "animated_sticker"
)

var mediaExtensions = map[MediaKind]string{
	MediaPhoto:           ".jpg",
	MediaVideo:           ".mp4",
	MediaAudio:           ".mp3",
	MediaVoice:           ".ogg",
	MediaVideoNote:       ".mp4",
	MediaSticker:         ".webp",
	MediaVideoSticker:    ".webm",
	MediaAnimatedSticker: ".tgs",
}

// Media describes an attachment on an inbound message. FileID is the
// platform handle used for download; Filename is the deterministic name
// the file is stored under inside the chat's media folder.
type Media struct {
	Kind     MediaKind
	FileID   string
	Filename string
}

// MediaFilename builds the canonical stored filename for an attachment:
// "{msgID}{ext}" by kind, or "{msgID}_{originalName}" for documents that
// carry their original name.
func MediaFilename(msgID int64, kind MediaKind, originalName string) string {
	if kind == MediaDocument && originalName != "" {
		return fmt.Sprintf("%d_%s", msgID, originalName)
	}
	return fmt.Sprintf("%d%s", msgID, mediaExtensions[kind])
}

// MessageEvent is a normalized new or edited message.
type MessageEvent struct {
	ID        int64
	Chat      Chat
	Sender    *User
	Text      string
	Media     *Media
	ReplyTo   int64
	Forward   *User
	Source    string
	Timestamp time.Time
}

// ReactionEvent is a normalized reaction change. An empty Emoji means the
// reactor removed their reaction.
type ReactionEvent struct {
	ChatID    string
	MessageID int64
	Reactor   *User
	Emoji     string
}

// DeleteEvent is a platform-initiated message deletion. ChatID may be
// empty when the platform omits chat context; consumers fall back to a
// reverse lookup by message id.
type DeleteEvent struct {
	ChatID     string
	MessageIDs []int64
}

// Handlers holds the callbacks a backend dispatches normalized events to.
// Any nil callback is skipped. Handler errors are logged by the backend
// and never stop the poll loop.
type Handlers struct {
	OnMessage  func(ev MessageEvent) error
	OnEdited   func(ev MessageEvent) error
	OnReaction func(ev ReactionEvent) error
	OnDeleted  func(ev DeleteEvent) error
}

// SentMessage is the result of a successful outbound send.
type SentMessage struct {
	ID int64
}

// ChatMember describes a group member returned by admin lookups.
type ChatMember struct {
	User   User   `json:"user"`
	Status string `json:"status"`
	Title  string `json:"title,omitempty"`
}

// BotInfo is the connected account's own identity.
type BotInfo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}
