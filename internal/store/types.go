package store

import "time"

// Direction of a message relative to the operator.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// ReactorMe is the fixed reactor key for the operator's own reaction.
// Platform user ids are numeric, so the literal cannot collide with a
// real reactor key.
const ReactorMe = "me"

// EditEntry is one prior text snapshot of an edited message.
type EditEntry struct {
	Text     string    `json:"text"`
	EditedAt time.Time `json:"edited_at"`
}

// Message is the canonical record, shaped exactly as the web UI consumes
// it. The (MsgID, ChatID) pair is the identity; all mutations are
// upserts keyed by it.
type Message struct {
	MsgID                 int64             `json:"msg_id"`
	ChatID                string            `json:"-"`
	Direction             string            `json:"direction"`
	Text                  string            `json:"text"`
	Timestamp             time.Time         `json:"timestamp"`
	MediaType             string            `json:"media_type,omitempty"`
	MediaFile             string            `json:"media_file,omitempty"`
	ReplyTo               int64             `json:"reply_to,omitempty"`
	ForwardedFrom         string            `json:"forwarded_from,omitempty"`
	ForwardedFromUsername string            `json:"forwarded_from_username,omitempty"`
	Source                string            `json:"source,omitempty"`
	SenderID              int64             `json:"sender_id,omitempty"`
	SenderName            string            `json:"sender_name,omitempty"`
	Reactions             map[string]string `json:"reactions,omitempty"`
	ReactorNames          map[string]string `json:"reactor_names,omitempty"`
	Edited                bool              `json:"edited,omitempty"`
	EditHistory           []EditEntry       `json:"edit_history,omitempty"`
}
