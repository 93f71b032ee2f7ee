package platform

import "context"

// Client is the abstract platform transport. Both Telegram backends
// implement it; everything above the adapter boundary depends only on
// this interface. All methods return explicit errors so callers decide
// whether to log-and-continue or propagate.
type Client interface {
	// Self returns the connected account's identity.
	Self(ctx context.Context) (BotInfo, error)

	// SendText sends a plain text message. replyTo of 0 means no reply.
	SendText(ctx context.Context, chatID string, text string, replyTo int64) (SentMessage, error)

	// SendFile uploads a local file, picking the transport field by MIME
	// category (image→photo, video→video, audio→audio, else→document).
	SendFile(ctx context.Context, chatID string, path string, caption string, replyTo int64) (SentMessage, error)

	// EditText rewrites a sent message's text on the platform.
	EditText(ctx context.Context, chatID string, msgID int64, text string) error

	// SetReaction sets the account's emoji reaction on a message; an
	// empty emoji clears it.
	SetReaction(ctx context.Context, chatID string, msgID int64, emoji string) error

	// DeleteMessages removes messages on the platform. Each id is
	// attempted; per-id failures are collected, not short-circuited.
	DeleteMessages(ctx context.Context, chatID string, msgIDs []int64) error

	// DownloadFile fetches a platform file to dest, creating parent
	// directories as needed.
	DownloadFile(ctx context.Context, fileID string, dest string) error

	// FetchProfilePhoto downloads a user's (or, for negative ids, a
	// group's) profile photo to dest. It reports success and never
	// propagates platform errors.
	FetchProfilePhoto(ctx context.Context, chatID string, dest string) bool

	// Group administration. These error on private chats.
	BanMember(ctx context.Context, chatID string, userID int64) error
	UnbanMember(ctx context.Context, chatID string, userID int64) error
	PinMessage(ctx context.Context, chatID string, msgID int64) error
	UnpinMessage(ctx context.Context, chatID string, msgID int64) error
	LeaveChat(ctx context.Context, chatID string) error
	MemberCount(ctx context.Context, chatID string) (int, error)
	Admins(ctx context.Context, chatID string) ([]ChatMember, error)

	// Run starts the inbound long-poll loop and blocks until ctx is
	// cancelled. One malformed update or failing handler never stops the
	// loop; transport-level failures back off and retry indefinitely.
	Run(ctx context.Context, handlers Handlers) error
}
