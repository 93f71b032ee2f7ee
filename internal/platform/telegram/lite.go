package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/telebridge/telebridge/internal/platform"
)

// liteBackoff is the pause after a failed getUpdates round.
const liteBackoff = 3 * time.Second

// LiteClient speaks the Bot API directly over HTTP with no library in
// between. Unlike the full backend it subscribes to message_reaction
// updates, which the library's update type predates.
type LiteClient struct {
	token       string
	apiBase     string
	fileBase    string
	logger      *slog.Logger
	pollTimeout int
	http        *http.Client
}

// NewLiteClient builds a lite backend. The token is validated lazily on
// the first API call.
func NewLiteClient(log *slog.Logger, token string, pollTimeout int) *LiteClient {
	if log == nil {
		log = slog.Default()
	}
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	return &LiteClient{
		token:       token,
		apiBase:     "https://api.telegram.org/bot" + token,
		fileBase:    "https://api.telegram.org/file/bot" + token,
		logger:      log.With(slog.String("backend", "lite")),
		pollTimeout: pollTimeout,
		http: &http.Client{
			// Longer than the long-poll timeout so getUpdates can sit
			// idle for the full window.
			Timeout: time.Duration(pollTimeout+30) * time.Second,
		},
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// call performs a Bot API method with form-encoded parameters and
// decodes the result payload into out when out is non-nil.
func (c *LiteClient) call(ctx context.Context, method string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, bytes.NewBufferString(params.Encode()))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(method, resp.Body, out)
}

// callUpload performs a Bot API method with one file attached as a
// multipart field.
func (c *LiteClient) callUpload(ctx context.Context, method, field, path string, params url.Values, out any) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key := range params {
		if err := writer.WriteField(key, params.Get(key)); err != nil {
			return err
		}
	}
	part, err := writer.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, &body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(method, resp.Body, out)
}

func decodeAPIResponse(method string, body io.Reader, out any) error {
	var apiResp apiResponse
	if err := json.NewDecoder(body).Decode(&apiResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !apiResp.OK {
		return fmt.Errorf("%s failed: %s (code %d)", method, apiResp.Description, apiResp.ErrorCode)
	}
	if out != nil {
		if err := json.Unmarshal(apiResp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// Wire types, trimmed to the fields the bridge reads.

type liteUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type liteChat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type liteFileRef struct {
	FileID string `json:"file_id"`
}

type litePhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int    `json:"file_size"`
}

type liteSticker struct {
	FileID     string `json:"file_id"`
	IsAnimated bool   `json:"is_animated"`
	IsVideo    bool   `json:"is_video"`
}

type liteDocument struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
}

type liteMessage struct {
	MessageID      int64           `json:"message_id"`
	From           *liteUser       `json:"from"`
	Chat           liteChat        `json:"chat"`
	Date           int64           `json:"date"`
	Text           string          `json:"text"`
	Caption        string          `json:"caption"`
	ReplyToMessage *liteMessage    `json:"reply_to_message"`
	ForwardFrom    *liteUser       `json:"forward_from"`
	Photo          []litePhotoSize `json:"photo"`
	Sticker        *liteSticker    `json:"sticker"`
	Video          *liteFileRef    `json:"video"`
	VideoNote      *liteFileRef    `json:"video_note"`
	Voice          *liteFileRef    `json:"voice"`
	Audio          *liteFileRef    `json:"audio"`
	Animation      *liteFileRef    `json:"animation"`
	Document       *liteDocument   `json:"document"`
}

type liteReactionType struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji"`
}

type liteReactionUpdate struct {
	Chat        liteChat           `json:"chat"`
	MessageID   int64              `json:"message_id"`
	User        *liteUser          `json:"user"`
	NewReaction []liteReactionType `json:"new_reaction"`
}

type liteUpdate struct {
	UpdateID        int64               `json:"update_id"`
	Message         *liteMessage        `json:"message"`
	EditedMessage   *liteMessage        `json:"edited_message"`
	MessageReaction *liteReactionUpdate `json:"message_reaction"`
}

type liteFile struct {
	FilePath string `json:"file_path"`
}

type liteChatFull struct {
	Photo *struct {
		SmallFileID string `json:"small_file_id"`
	} `json:"photo"`
}

type liteChatMember struct {
	User        liteUser `json:"user"`
	Status      string   `json:"status"`
	CustomTitle string   `json:"custom_title"`
}

// Self returns the connected bot account.
func (c *LiteClient) Self(ctx context.Context) (platform.BotInfo, error) {
	var me liteUser
	if err := c.call(ctx, "getMe", url.Values{}, &me); err != nil {
		return platform.BotInfo{}, err
	}
	return platform.BotInfo{ID: me.ID, Name: me.FirstName, Username: me.Username}, nil
}

// SendText sends a plain text message.
func (c *LiteClient) SendText(ctx context.Context, chatID string, text string, replyTo int64) (platform.SentMessage, error) {
	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("text", text)
	if replyTo > 0 {
		params.Set("reply_to_message_id", strconv.FormatInt(replyTo, 10))
	}
	var sent liteMessage
	if err := c.call(ctx, "sendMessage", params, &sent); err != nil {
		return platform.SentMessage{}, err
	}
	return platform.SentMessage{ID: sent.MessageID}, nil
}

// SendFile uploads a local file, choosing method and field by MIME
// category.
func (c *LiteClient) SendFile(ctx context.Context, chatID string, path string, caption string, replyTo int64) (platform.SentMessage, error) {
	params := url.Values{}
	params.Set("chat_id", chatID)
	if caption != "" {
		params.Set("caption", caption)
	}
	if replyTo > 0 {
		params.Set("reply_to_message_id", strconv.FormatInt(replyTo, 10))
	}
	method, field := "sendDocument", "document"
	switch mediaKindForMime(mime.TypeByExtension(filepath.Ext(path))) {
	case platform.MediaPhoto:
		method, field = "sendPhoto", "photo"
	case platform.MediaVideo:
		method, field = "sendVideo", "video"
	case platform.MediaAudio:
		method, field = "sendAudio", "audio"
	}
	var sent liteMessage
	if err := c.callUpload(ctx, method, field, path, params, &sent); err != nil {
		return platform.SentMessage{}, err
	}
	return platform.SentMessage{ID: sent.MessageID}, nil
}

// EditText rewrites a sent message's text.
func (c *LiteClient) EditText(ctx context.Context, chatID string, msgID int64, text string) error {
	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("message_id", strconv.FormatInt(msgID, 10))
	params.Set("text", text)
	return c.call(ctx, "editMessageText", params, nil)
}

// SetReaction sets or clears the bot's emoji reaction.
func (c *LiteClient) SetReaction(ctx context.Context, chatID string, msgID int64, emoji string) error {
	reaction := []liteReactionType{}
	if emoji != "" {
		reaction = append(reaction, liteReactionType{Type: "emoji", Emoji: emoji})
	}
	encoded, err := json.Marshal(reaction)
	if err != nil {
		return err
	}
	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("message_id", strconv.FormatInt(msgID, 10))
	params.Set("reaction", string(encoded))
	return c.call(ctx, "setMessageReaction", params, nil)
}

// DeleteMessages attempts every id and aggregates per-id failures.
func (c *LiteClient) DeleteMessages(ctx context.Context, chatID string, msgIDs []int64) error {
	var errs []error
	for _, msgID := range msgIDs {
		params := url.Values{}
		params.Set("chat_id", chatID)
		params.Set("message_id", strconv.FormatInt(msgID, 10))
		if err := c.call(ctx, "deleteMessage", params, nil); err != nil {
			errs = append(errs, fmt.Errorf("delete %d: %w", msgID, err))
		}
	}
	return errors.Join(errs...)
}

// DownloadFile resolves the file path via getFile and streams the bytes
// to dest.
func (c *LiteClient) DownloadFile(ctx context.Context, fileID string, dest string) error {
	params := url.Values{}
	params.Set("file_id", fileID)
	var file liteFile
	if err := c.call(ctx, "getFile", params, &file); err != nil {
		return err
	}
	if file.FilePath == "" {
		return fmt.Errorf("getFile returned no path for %s", fileID)
	}
	return downloadURL(ctx, c.http, c.fileBase+"/"+file.FilePath, dest)
}

// FetchProfilePhoto downloads a profile photo; negative ids are groups.
func (c *LiteClient) FetchProfilePhoto(ctx context.Context, chatID string, dest string) bool {
	id, err := parseChatID(chatID)
	if err != nil {
		return false
	}
	fileID := ""
	if id < 0 {
		params := url.Values{}
		params.Set("chat_id", chatID)
		var chat liteChatFull
		if err := c.call(ctx, "getChat", params, &chat); err != nil || chat.Photo == nil {
			return false
		}
		fileID = chat.Photo.SmallFileID
	} else {
		params := url.Values{}
		params.Set("user_id", chatID)
		params.Set("limit", "1")
		var photos struct {
			Photos [][]litePhotoSize `json:"photos"`
		}
		if err := c.call(ctx, "getUserProfilePhotos", params, &photos); err != nil {
			return false
		}
		if len(photos.Photos) == 0 || len(photos.Photos[0]) == 0 {
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
func (c *LiteClient) BanMember(ctx context.Context, chatID string, userID int64) error {
	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("user_id", strconv.FormatInt(userID, 10))
	return c.call(ctx, "banChatMember", params, nil)
}

// UnbanMember lifts a ban if one is in place.
func (c *LiteClient) UnbanMember(ctx context.Context, chatID string, userID int64) error {
	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Set("only_if_banned", "true")
	return c.call(ctx, "unbanChatMember", params, nil)
}

// PinMessage pins without notifying members.
func (c *LiteClient) PinMessage(ctx context.Context, chatID string, msgID int64) error {
	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("message_id", strconv.FormatInt(msgID, 10))
	params.Set("disable_notification", "true")
	return c.call(ctx, "pinChatMessage", params, nil)
}

// UnpinMessage unpins a specific message.
func (c *LiteClient) UnpinMessage(ctx context.Context, chatID string, msgID int64) error {
	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("message_id", strconv.FormatInt(msgID, 10))
	return c.call(ctx, "unpinChatMessage", params, nil)
}

// LeaveChat leaves a group.
func (c *LiteClient) LeaveChat(ctx context.Context, chatID string) error {
	params := url.Values{}
	params.Set("chat_id", chatID)
	return c.call(ctx, "leaveChat", params, nil)
}

// MemberCount returns the group's member count.
func (c *LiteClient) MemberCount(ctx context.Context, chatID string) (int, error) {
	params := url.Values{}
	params.Set("chat_id", chatID)
	var count int
	if err := c.call(ctx, "getChatMemberCount", params, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// Admins returns the group's administrator list.
func (c *LiteClient) Admins(ctx context.Context, chatID string) ([]platform.ChatMember, error) {
	params := url.Values{}
	params.Set("chat_id", chatID)
	var members []liteChatMember
	if err := c.call(ctx, "getChatAdministrators", params, &members); err != nil {
		return nil, err
	}
	out := make([]platform.ChatMember, 0, len(members))
	for _, m := range members {
		out = append(out, platform.ChatMember{
			User:   liteToUser(m.User),
			Status: m.Status,
			Title:  m.CustomTitle,
		})
	}
	return out, nil
}

// Run long-polls getUpdates until ctx is cancelled. The offset advances
// past every update that was fetched, even ones whose handler failed.
func (c *LiteClient) Run(ctx context.Context, handlers platform.Handlers) error {
	allowed, _ := json.Marshal([]string{"message", "edited_message", "message_reaction"})
	offset := int64(0)

	c.logger.Info("long-poll started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		params := url.Values{}
		params.Set("timeout", strconv.Itoa(c.pollTimeout))
		params.Set("allowed_updates", string(allowed))
		if offset > 0 {
			params.Set("offset", strconv.FormatInt(offset, 10))
		}
		var updates []liteUpdate
		if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("getUpdates failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(liteBackoff):
			}
			continue
		}
		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			c.dispatch(update, handlers)
		}
	}
}

func (c *LiteClient) dispatch(update liteUpdate, handlers platform.Handlers) {
	switch {
	case update.Message != nil && handlers.OnMessage != nil:
		if err := handlers.OnMessage(c.normalize(update.Message)); err != nil {
			c.logger.Error("handle message failed", slog.Any("error", err))
		}
	case update.EditedMessage != nil && handlers.OnEdited != nil:
		if err := handlers.OnEdited(c.normalize(update.EditedMessage)); err != nil {
			c.logger.Error("handle edited message failed", slog.Any("error", err))
		}
	case update.MessageReaction != nil && handlers.OnReaction != nil:
		if err := handlers.OnReaction(normalizeReaction(update.MessageReaction)); err != nil {
			c.logger.Error("handle reaction failed", slog.Any("error", err))
		}
	}
}

func (c *LiteClient) normalize(msg *liteMessage) platform.MessageEvent {
	ev := platform.MessageEvent{
		ID:        msg.MessageID,
		Text:      msg.Text,
		Source:    "lite",
		Timestamp: time.Unix(msg.Date, 0),
		Chat: platform.Chat{
			ID:        strconv.FormatInt(msg.Chat.ID, 10),
			Kind:      chatKindFromType(msg.Chat.Type),
			Title:     msg.Chat.Title,
			FirstName: msg.Chat.FirstName,
			LastName:  msg.Chat.LastName,
			Username:  msg.Chat.Username,
		},
	}
	if ev.Text == "" {
		ev.Text = msg.Caption
	}
	if msg.From != nil {
		sender := liteToUser(*msg.From)
		ev.Sender = &sender
	}
	if msg.ReplyToMessage != nil {
		ev.ReplyTo = msg.ReplyToMessage.MessageID
	}
	if msg.ForwardFrom != nil {
		fwd := liteToUser(*msg.ForwardFrom)
		ev.Forward = &fwd
	}
	ev.Media = collectLiteMedia(msg)
	return ev
}

func normalizeReaction(update *liteReactionUpdate) platform.ReactionEvent {
	ev := platform.ReactionEvent{
		ChatID:    strconv.FormatInt(update.Chat.ID, 10),
		MessageID: update.MessageID,
	}
	if update.User != nil {
		reactor := liteToUser(*update.User)
		ev.Reactor = &reactor
	}
	// The bridge tracks one reaction per reactor; an empty new_reaction
	// list means removal.
	for _, r := range update.NewReaction {
		if r.Type == "emoji" && r.Emoji != "" {
			ev.Emoji = r.Emoji
			break
		}
	}
	return ev
}

func collectLiteMedia(msg *liteMessage) *platform.Media {
	id := msg.MessageID
	switch {
	case len(msg.Photo) > 0:
		best := msg.Photo[0]
		for _, item := range msg.Photo[1:] {
			if item.FileSize > best.FileSize || item.Width*item.Height > best.Width*best.Height {
				best = item
			}
		}
		return newMedia(id, platform.MediaPhoto, best.FileID, "")
	case msg.Sticker != nil:
		kind := platform.MediaSticker
		if msg.Sticker.IsAnimated {
			kind = platform.MediaAnimatedSticker
		} else if msg.Sticker.IsVideo {
			kind = platform.MediaVideoSticker
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
		return newMedia(id, documentKind(msg.Document.MimeType), msg.Document.FileID, msg.Document.FileName)
	}
	return nil
}

func liteToUser(u liteUser) platform.User {
	return platform.User{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		IsBot:     u.IsBot,
	}
}
