package hub

// Event types pushed to UI subscribers.
const (
	TypeNewMessage      = "new_message"
	TypeMessageSent     = "message_sent"
	TypeMessageEdited   = "message_edited"
	TypeMessagesDeleted = "messages_deleted"
	TypeReactionUpdate  = "reaction_update"
)

// Event is the wire shape of a push. Only the fields relevant to the
// event's type are set.
type Event struct {
	Type        string            `json:"type"`
	ChatID      string            `json:"chat_id"`
	Message     any               `json:"message,omitempty"`
	ChatInfo    any               `json:"chat_info,omitempty"`
	MsgID       int64             `json:"msg_id,omitempty"`
	MsgIDs      []int64           `json:"msg_ids,omitempty"`
	ForEveryone *bool             `json:"for_everyone,omitempty"`
	Reactions   map[string]string `json:"reactions,omitempty"`
}

// NewMessageEvent announces an inbound message, with the sender's
// directory entry attached so the UI can refresh the chat list.
func NewMessageEvent(chatID string, message, chatInfo any) Event {
	return Event{Type: TypeNewMessage, ChatID: chatID, Message: message, ChatInfo: chatInfo}
}

// MessageSentEvent announces an outbound message placed via the API.
func MessageSentEvent(chatID string, message any) Event {
	return Event{Type: TypeMessageSent, ChatID: chatID, Message: message}
}

// MessageEditedEvent announces a text change on an existing message.
func MessageEditedEvent(chatID string, msgID int64, message any) Event {
	return Event{Type: TypeMessageEdited, ChatID: chatID, MsgID: msgID, Message: message}
}

// MessagesDeletedEvent announces message removal.
func MessagesDeletedEvent(chatID string, msgIDs []int64, forEveryone bool) Event {
	return Event{Type: TypeMessagesDeleted, ChatID: chatID, MsgIDs: msgIDs, ForEveryone: &forEveryone}
}

// ReactionUpdateEvent carries a message's full resulting reaction map.
func ReactionUpdateEvent(chatID string, msgID int64, reactions map[string]string) Event {
	return Event{Type: TypeReactionUpdate, ChatID: chatID, MsgID: msgID, Reactions: reactions}
}
