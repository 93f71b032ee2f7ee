package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/telebridge/telebridge/internal/platform"
)

// FullClient implements platform.Client on top of go-telegram-bot-api.
type FullClient struct {
	bot         *tgbotapi.BotAPI
	logger      *slog.Logger
	pollTimeout int
	http        *http.Client
}

// NewFullClient connects to the Bot API and validates the token.
func NewFullClient(log *slog.Logger, token string, pollTimeout int) (*FullClient, error) {
	if log == nil {
		log = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	return &FullClient{
		bot:         bot,
		logger:      log.With(slog.String("backend", "full")),
		pollTimeout: pollTimeout,
		http:        &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Self returns the connected bot account.
func (c *FullClient) Self(ctx context.Context) (platform.BotInfo, error) {
	me := c.bot.Self
	return platform.BotInfo{ID: me.ID, Name: me.FirstName, Username: me.UserName}, nil
}

// SendText sends a plain text message.
func (c *FullClient) SendText(ctx context.Context, chatID string, text string, replyTo int64) (platform.SentMessage, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return platform.SentMessage{}, err
	}
	msg := tgbotapi.NewMessage(id, text)
	if replyTo > 0 {
		msg.ReplyToMessageID = int(replyTo)
	}
	sent, err := c.bot.Send(msg)
	if err != nil {
		return platform.SentMessage{}, err
	}
	return platform.SentMessage{ID: int64(sent.MessageID)}, nil
}

// SendFile uploads a local file, choosing the transport field by MIME category.
func (c *FullClient) SendFile(ctx context.Context, chatID string, path string, caption string, replyTo int64) (platform.SentMessage, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return platform.SentMessage{}, err
	}
	file := tgbotapi.FilePath(path)
	mimeType := mime.TypeByExtension(filepath.Ext(path))

	var sent tgbotapi.Message
	switch mediaKindForMime(mimeType) {
	case platform.MediaPhoto:
		photo := tgbotapi.NewPhoto(id, file)
		photo.Caption = caption
		if replyTo > 0 {
			photo.ReplyToMessageID = int(replyTo)
		}
		sent, err = c.bot.Send(photo)
	case platform.MediaVideo:
		video := tgbotapi.NewVideo(id, file)
		video.Caption = caption
		if replyTo > 0 {
			video.ReplyToMessageID = int(replyTo)
		}
		sent, err = c.bot.Send(video)
	case platform.MediaAudio:
		audio := tgbotapi.NewAudio(id, file)
		audio.Caption = caption
		if replyTo > 0 {
			audio.ReplyToMessageID = int(replyTo)
		}
		sent, err = c.bot.Send(audio)
	default:
		document := tgbotapi.NewDocument(id, file)
		document.Caption = caption
		if replyTo > 0 {
			document.ReplyToMessageID = int(replyTo)
		}
		sent, err = c.bot.Send(document)
	}
	if err != nil {
		return platform.SentMessage{}, err
	}
	return platform.SentMessage{ID: int64(sent.MessageID)}, nil
}

// EditText rewrites a sent message's text.
func (c *FullClient) EditText(ctx context.Context, chatID string, msgID int64, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(id, int(msgID), text)
	_, err = c.bot.Send(edit)
	return err
}

// SetReaction sets or clears the bot's emoji reaction via setMessageReaction.
// The library predates the method, so it goes through MakeRequest.
func (c *FullClient) SetReaction(ctx context.Context, chatID string, msgID int64, emoji string) error {
	params := tgbotapi.Params{}
	params.AddNonEmpty("chat_id", chatID)
	params.AddNonEmpty("message_id", strconv.FormatInt(msgID, 10))
	reaction := "[]"
	if emoji != "" {
		reaction = fmt.Sprintf(`[{"type":"emoji","emoji":"%s"}]`, emoji)
	}
	params["reaction"] = reaction
	_, err := c.bot.MakeRequest("setMessageReaction", params)
	return err
}

// DeleteMessages attempts every id and aggregates per-id failures.
func (c *FullClient) DeleteMessages(ctx context.Context, chatID string, msgIDs []int64) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	var errs []error
	for _, msgID := range msgIDs {
		if _, err := c.bot.Request(tgbotapi.NewDeleteMessage(id, int(msgID))); err != nil {
			errs = append(errs, fmt.Errorf("delete %d: %w", msgID, err))
		}
	}
	return errors.Join(errs...)
}

// DownloadFile resolves the file's direct URL and streams it to dest.
func (c *FullClient) DownloadFile(ctx context.Context, fileID string, dest string) error {
	url, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return fmt.Errorf("resolve file url: %w", err)
	}
	return downloadURL(ctx, c.http, url, dest)
}

// FetchProfilePhoto downloads a profile photo; negative ids are groups.
func (c *FullClient) FetchProfilePhoto(ctx context.Context, chatID string, dest string) bool {
	id, err := parseChatID(chatID)
	if err != nil {
		return false
	}
	fileID := ""
	if id < 0 {
		chat, err := c.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}})
		if err != nil || chat.Photo == nil {
			return false
		}
		fileID = chat.Photo.SmallFileID
	} else {
		photos, err := c.bot.GetUserProfilePhotos(tgbotapi.UserProfilePhotosConfig{UserID: id, Limit: 1})
		if err != nil || len(photos.Photos) == 0 || len(photos.Photos[0]) == 0 {
			return false
		}
		sizes := photos.Photos[0]
		fileID = sizes[len(sizes)-1].FileID
	}
	if fileID == "" {
		return false
	}
	if err := c.DownloadFile(ctx, fileID, dest); err != nil {
		c.logger.Warn("profile photo download failed", slog.String("chat_id", chatID), slog.Any("error", err))
		return false
	}
	return true
}

// BanMember bans a user from a group chat.
func (c *FullClient) BanMember(ctx context.Context, chatID string, userID int64) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	_, err = c.bot.Request(tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: id, UserID: userID},
	})
	return err
}

// UnbanMember lifts a ban if one is in place.
func (c *FullClient) UnbanMember(ctx context.Context, chatID string, userID int64) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	_, err = c.bot.Request(tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: id, UserID: userID},
		OnlyIfBanned:     true,
	})
	return err
}

// PinMessage pins without notifying members.
func (c *FullClient) PinMessage(ctx context.Context, chatID string, msgID int64) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	_, err = c.bot.Request(tgbotapi.PinChatMessageConfig{
		ChatID:              id,
		MessageID:           int(msgID),
		DisableNotification: true,
	})
	return err
}

// UnpinMessage unpins a specific message.
func (c *FullClient) UnpinMessage(ctx context.Context, chatID string, msgID int64) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	_, err = c.bot.Request(tgbotapi.UnpinChatMessageConfig{
		ChatID:    id,
		MessageID: int(msgID),
	})
	return err
}

// LeaveChat leaves a group.
func (c *FullClient) LeaveChat(ctx context.Context, chatID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	_, err = c.bot.Request(tgbotapi.LeaveChatConfig{ChatID: id})
	return err
}

// MemberCount returns the group's member count.
func (c *FullClient) MemberCount(ctx context.Context, chatID string) (int, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return 0, err
	}
	return c.bot.GetChatMembersCount(tgbotapi.ChatMemberCountConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: id},
	})
}

// Admins returns the group's administrator list.
func (c *FullClient) Admins(ctx context.Context, chatID string) ([]platform.ChatMember, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return nil, err
	}
	members, err := c.bot.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: id},
	})
	if err != nil {
		return nil, err
	}
	out := make([]platform.ChatMember, 0, len(members))
	for _, m := range members {
		member := platform.ChatMember{Status: m.Status, Title: m.CustomTitle}
		if m.User != nil {
			member.User = toUser(m.User)
		}
		out = append(out, member)
	}
	return out, nil
}

// Run long-polls updates until ctx is cancelled. Handler failures are
// logged per update; the loop itself only ends on cancellation.
func (c *FullClient) Run(ctx context.Context, handlers platform.Handlers) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = c.pollTimeout
	updates := c.bot.GetUpdatesChan(updateConfig)

	c.logger.Info("long-poll started", slog.String("username", c.bot.Self.UserName))
	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			// Drain so the library's polling goroutine can exit; an
			// in-flight getUpdates session otherwise conflicts with the
			// next connection using the same token.
			for range updates {
			}
			return nil
		case update, ok := <-updates:
			if !ok {
				c.logger.Info("updates channel closed")
				return nil
			}
			c.dispatch(update, handlers)
		}
	}
}

func (c *FullClient) dispatch(update tgbotapi.Update, handlers platform.Handlers) {
	if update.Message != nil && handlers.OnMessage != nil {
		if err := handlers.OnMessage(c.normalize(update.Message)); err != nil {
			c.logger.Error("handle message failed", slog.Any("error", err))
		}
	}
	if update.EditedMessage != nil && handlers.OnEdited != nil {
		if err := handlers.OnEdited(c.normalize(update.EditedMessage)); err != nil {
			c.logger.Error("handle edited message failed", slog.Any("error", err))
		}
	}
}

// normalize converts a library message into the canonical event shape.
func (c *FullClient) normalize(msg *tgbotapi.Message) platform.MessageEvent {
	ev := platform.MessageEvent{
		ID:        int64(msg.MessageID),
		Text:      msg.Text,
		Source:    "full",
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if ev.Text == "" {
		ev.Text = msg.Caption
	}
	if msg.Chat != nil {
		ev.Chat = platform.Chat{
			ID:        strconv.FormatInt(msg.Chat.ID, 10),
			Kind:      chatKindFromType(msg.Chat.Type),
			Title:     msg.Chat.Title,
			FirstName: msg.Chat.FirstName,
			LastName:  msg.Chat.LastName,
			Username:  msg.Chat.UserName,
		}
	}
	if msg.From != nil {
		sender := toUser(msg.From)
		ev.Sender = &sender
	}
	if msg.ReplyToMessage != nil {
		ev.ReplyTo = int64(msg.ReplyToMessage.MessageID)
	}
	if msg.ForwardFrom != nil {
		fwd := toUser(msg.ForwardFrom)
		ev.Forward = &fwd
	}
	ev.Media = collectMedia(msg)
	return ev
}

// collectMedia picks the message's attachment (Telegram messages carry at
// most one) and maps it to a canonical kind plus stored filename.
func collectMedia(msg *tgbotapi.Message) *platform.Media {
	id := int64(msg.MessageID)
	switch {
	case len(msg.Photo) > 0:
		best := pickPhoto(msg.Photo)
		return newMedia(id, platform.MediaPhoto, best.FileID, "")
	case msg.Sticker != nil:
		kind := platform.MediaSticker
		if msg.Sticker.IsAnimated {
			kind = platform.MediaAnimatedSticker
		}
		return newMedia(id, kind, msg.Sticker.FileID, "")
	case msg.VideoNote != nil:
		return newMedia(id, platform.MediaVideoNote, msg.VideoNote.FileID, "")
	case msg.Voice != nil:
		return newMedia(id, platform.MediaVoice, msg.Voice.FileID, "")
	case msg.Video != nil:
		return newMedia(id, platform.MediaVideo, msg.Video.FileID, "")
	case msg.Audio != nil:
		return newMedia(id, platform.MediaAudio, msg.Audio.FileID, "")
	case msg.Animation != nil:
		return newMedia(id, platform.MediaVideo, msg.Animation.FileID, "")
	case msg.Document != nil:
		kind := documentKind(msg.Document.MimeType)
		return newMedia(id, kind, msg.Document.FileID, msg.Document.FileName)
	}
	return nil
}

func documentKind(mimeType string) platform.MediaKind {
	switch {
	case len(mimeType) >= 5 && mimeType[:5] == "video":
		return platform.MediaVideo
	case len(mimeType) >= 5 && mimeType[:5] == "audio":
		return platform.MediaAudio
	case len(mimeType) >= 5 && mimeType[:5] == "image":
		return platform.MediaPhoto
	default:
		return platform.MediaDocument
	}
}

func newMedia(msgID int64, kind platform.MediaKind, fileID, originalName string) *platform.Media {
	return &platform.Media{
		Kind:     kind,
		FileID:   fileID,
		Filename: platform.MediaFilename(msgID, kind, originalName),
	}
}

func pickPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

func toUser(u *tgbotapi.User) platform.User {
	return platform.User{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.UserName,
		IsBot:     u.IsBot,
	}
}

func downloadURL(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return err
	}
	return out.Close()
}
