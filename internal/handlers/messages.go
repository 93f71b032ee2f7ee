package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telebridge/telebridge/internal/directory"
	"github.com/telebridge/telebridge/internal/hub"
	"github.com/telebridge/telebridge/internal/platform"
	"github.com/telebridge/telebridge/internal/store"
)

// MessagesHandler serves message history and every outbound operation:
// send, upload, delete, forward, react, edit.
type MessagesHandler struct {
	store     *store.Store
	directory *directory.Directory
	client    platform.Client
	hub       *hub.Hub
	pageSize  int
	logger    *slog.Logger
}

func NewMessagesHandler(log *slog.Logger, st *store.Store, dir *directory.Directory,
	client platform.Client, h *hub.Hub, pageSize int) *MessagesHandler {
	if log == nil {
		log = slog.Default()
	}
	if pageSize <= 0 {
		pageSize = 30
	}
	return &MessagesHandler{
		store:     st,
		directory: dir,
		client:    client,
		hub:       h,
		pageSize:  pageSize,
		logger:    log.With(slog.String("handler", "messages")),
	}
}

func (h *MessagesHandler) Register(e *echo.Echo) {
	e.GET("/api/messages/:chat_id", h.ListMessages)
	e.POST("/api/send", h.Send)
	e.POST("/api/upload", h.Upload)
	e.DELETE("/api/messages", h.Delete)
	e.POST("/api/forward", h.Forward)
	e.POST("/api/react", h.React)
	e.POST("/api/unreact", h.Unreact)
	e.POST("/api/edit-message", h.Edit)
	e.GET("/api/edit-history/:chat_id/:msg_id", h.EditHistory)
}

type messagesPage struct {
	Messages []store.Message `json:"messages"`
	Total    int             `json:"total"`
	Offset   int             `json:"offset"`
	Limit    int             `json:"limit"`
	HasMore  bool            `json:"has_more"`
}

// ListMessages pages backward from the newest message.
func (h *MessagesHandler) ListMessages(c echo.Context) error {
	id := c.Param("chat_id")
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = h.pageSize
	}
	if offset < 0 {
		offset = 0
	}

	msgs, total, err := h.store.GetMessages(c.Request().Context(), id, offset, limit)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return c.JSON(http.StatusOK, messagesPage{
		Messages: msgs,
		Total:    total,
		Offset:   offset,
		Limit:    limit,
		HasMore:  offset+limit < total,
	})
}

type sendRequest struct {
	UserID  chatID `json:"user_id"`
	Text    string `json:"text"`
	ReplyTo int64  `json:"reply_to"`
}

// Send delivers a text message via the platform, persists it as an
// outbound record, and broadcasts it.
func (h *MessagesHandler) Send(c echo.Context) error {
	ctx := c.Request().Context()
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	sent, err := h.client.SendText(ctx, req.UserID.String(), req.Text, req.ReplyTo)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	msg := store.Message{
		MsgID:     sent.ID,
		ChatID:    req.UserID.String(),
		Direction: store.DirectionOut,
		Text:      req.Text,
		Timestamp: time.Now(),
		ReplyTo:   req.ReplyTo,
		Source:    "bot",
	}
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	h.hub.Broadcast(hub.MessageSentEvent(msg.ChatID, msg))
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "message": msg})
}

// Upload sends a file from a multipart form, keeps a copy under the
// chat's media folder, persists and broadcasts.
func (h *MessagesHandler) Upload(c echo.Context) error {
	ctx := c.Request().Context()
	id := chatID(c.FormValue("user_id"))
	if id == "" {
		return errorMessage(c, http.StatusBadRequest, "missing data")
	}
	caption := c.FormValue("caption")
	var replyTo int64
	if v := c.FormValue("reply_to"); v != "" {
		replyTo, _ = strconv.ParseInt(v, 10, 64)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return errorMessage(c, http.StatusBadRequest, "missing data")
	}

	staged, cleanup, err := stageUpload(fileHeader.Filename, func(dst io.Writer) error {
		src, err := fileHeader.Open()
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(dst, src)
		return err
	})
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	defer cleanup()

	sent, err := h.client.SendFile(ctx, id.String(), staged, caption, replyTo)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	ext := filepath.Ext(fileHeader.Filename)
	mediaFile := fmt.Sprintf("%d%s", sent.ID, ext)
	if dir, ok := h.directory.MediaDir(id.String()); ok {
		if err := copyFile(staged, filepath.Join(dir, mediaFile)); err != nil {
			h.logger.Warn("keep media copy failed", slog.String("chat_id", id.String()), slog.Any("error", err))
		}
	}

	msg := store.Message{
		MsgID:     sent.ID,
		ChatID:    id.String(),
		Direction: store.DirectionOut,
		Text:      caption,
		Timestamp: time.Now(),
		MediaType: uploadKind(fileHeader.Filename),
		MediaFile: mediaFile,
		ReplyTo:   replyTo,
		Source:    "bot",
	}
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	h.hub.Broadcast(hub.MessageSentEvent(msg.ChatID, msg))
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "message": msg})
}

type deleteRequest struct {
	UserID      chatID  `json:"user_id"`
	MsgIDs      []int64 `json:"msg_ids"`
	ForEveryone *bool   `json:"for_everyone"`
}

// Delete removes messages locally and, unless for_everyone is false,
// on the platform too. A platform failure aborts before local state is
// touched.
func (h *MessagesHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	var req deleteRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	forEveryone := req.ForEveryone == nil || *req.ForEveryone

	if forEveryone {
		if err := h.client.DeleteMessages(ctx, req.UserID.String(), req.MsgIDs); err != nil {
			return errorMessage(c, http.StatusBadRequest, fmt.Sprintf("failed to delete on platform: %v", err))
		}
	}
	if err := h.store.DeleteMessages(ctx, req.UserID.String(), req.MsgIDs); err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	h.hub.Broadcast(hub.MessagesDeletedEvent(req.UserID.String(), req.MsgIDs, forEveryone))
	return okResponse(c)
}

type forwardRequest struct {
	FromUserID chatID   `json:"from_user_id"`
	ToUserIDs  []chatID `json:"to_user_ids"`
	MsgIDs     []int64  `json:"msg_ids"`
}

type forwardResult struct {
	To     string `json:"to"`
	MsgID  int64  `json:"msg_id,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Forward re-sends stored messages to other chats with a provenance
// label, one result per target per message.
func (h *MessagesHandler) Forward(c echo.Context) error {
	ctx := c.Request().Context()
	var req forwardRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	fromID := req.FromUserID.String()
	all, err := h.store.GetAllMessages(ctx, fromID)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	wanted := map[int64]bool{}
	for _, id := range req.MsgIDs {
		wanted[id] = true
	}
	var toForward []store.Message
	for _, m := range all {
		if wanted[m.MsgID] {
			toForward = append(toForward, m)
		}
	}

	label := "Unknown"
	var fromUsername string
	if from := h.directory.Get(fromID); from != nil {
		fromUsername = from.Username
		if from.Username != "" {
			label = "@" + from.Username
		} else if name := from.DisplayName(); name != "" {
			label = name
		}
	}
	mediaDir, hasMedia := h.directory.MediaDir(fromID)

	var results []forwardResult
	for _, target := range req.ToUserIDs {
		for _, m := range toForward {
			text := fmt.Sprintf("↗️ Forwarded from %s\n\n%s", label, m.Text)

			var sent platform.SentMessage
			var sendErr error
			mediaPath := ""
			if m.MediaFile != "" && hasMedia {
				p := filepath.Join(mediaDir, m.MediaFile)
				if _, err := os.Stat(p); err == nil {
					mediaPath = p
				}
			}
			if mediaPath != "" {
				sent, sendErr = h.client.SendFile(ctx, target.String(), mediaPath, text, 0)
			} else {
				sent, sendErr = h.client.SendText(ctx, target.String(), text, 0)
			}
			if sendErr != nil {
				results = append(results, forwardResult{To: target.String(), Status: "error", Error: sendErr.Error()})
				continue
			}

			out := store.Message{
				MsgID:                 sent.ID,
				ChatID:                target.String(),
				Direction:             store.DirectionOut,
				Text:                  text,
				Timestamp:             time.Now(),
				MediaType:             m.MediaType,
				ForwardedFrom:         label,
				ForwardedFromUsername: fromUsername,
				Source:                "bot",
			}
			if err := h.store.SaveMessage(ctx, out); err != nil {
				return errorResponse(c, http.StatusInternalServerError, err)
			}
			h.hub.Broadcast(hub.MessageSentEvent(out.ChatID, out))
			results = append(results, forwardResult{To: target.String(), MsgID: sent.ID, Status: "ok"})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "results": results})
}

type reactRequest struct {
	UserID chatID `json:"user_id"`
	MsgID  int64  `json:"msg_id"`
	Emoji  string `json:"emoji"`
}

// React toggles the operator's own reaction, mirroring it to the
// platform first so local state never claims a reaction Telegram
// rejected.
func (h *MessagesHandler) React(c echo.Context) error {
	ctx := c.Request().Context()
	var req reactRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	id := req.UserID.String()

	msg, err := h.store.GetMessage(ctx, id, req.MsgID)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	if msg == nil {
		return errorMessage(c, http.StatusBadRequest, "message not found")
	}

	var reactions map[string]string
	if msg.Reactions[store.ReactorMe] == req.Emoji {
		if err := h.client.SetReaction(ctx, id, req.MsgID, ""); err != nil {
			return errorResponse(c, http.StatusBadRequest, err)
		}
		reactions, err = h.store.RemoveReaction(ctx, id, req.MsgID, store.ReactorMe)
	} else {
		if err := h.client.SetReaction(ctx, id, req.MsgID, req.Emoji); err != nil {
			return errorResponse(c, http.StatusBadRequest, err)
		}
		reactions, err = h.store.AddReaction(ctx, id, req.MsgID, req.Emoji, store.ReactorMe, "")
	}
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	h.hub.Broadcast(hub.ReactionUpdateEvent(id, req.MsgID, reactions))
	return okResponse(c)
}

// Unreact clears the operator's reaction unconditionally.
func (h *MessagesHandler) Unreact(c echo.Context) error {
	ctx := c.Request().Context()
	var req reactRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	id := req.UserID.String()

	msg, err := h.store.GetMessage(ctx, id, req.MsgID)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	if msg == nil {
		return errorMessage(c, http.StatusBadRequest, "message not found")
	}

	if err := h.client.SetReaction(ctx, id, req.MsgID, ""); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	reactions, err := h.store.RemoveReaction(ctx, id, req.MsgID, store.ReactorMe)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	h.hub.Broadcast(hub.ReactionUpdateEvent(id, req.MsgID, reactions))
	return okResponse(c)
}

type editRequest struct {
	UserID chatID `json:"user_id"`
	MsgID  int64  `json:"msg_id"`
	Text   string `json:"text"`
}

// Edit rewrites a sent message's text, keeping the old text in its
// history. The platform edit is best effort.
func (h *MessagesHandler) Edit(c echo.Context) error {
	ctx := c.Request().Context()
	var req editRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	id := req.UserID.String()

	msg, err := h.store.EditMessage(ctx, id, req.MsgID, req.Text)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	if msg == nil {
		return errorMessage(c, http.StatusBadRequest, "message not found")
	}

	if err := h.client.EditText(ctx, id, req.MsgID, req.Text); err != nil {
		h.logger.Warn("platform edit failed",
			slog.String("chat_id", id), slog.Int64("msg_id", req.MsgID), slog.Any("error", err))
	}

	h.hub.Broadcast(hub.MessageEditedEvent(id, req.MsgID, msg))
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "message": msg})
}

// EditHistory returns a message's prior text snapshots.
func (h *MessagesHandler) EditHistory(c echo.Context) error {
	msgID, err := strconv.ParseInt(c.Param("msg_id"), 10, 64)
	if err != nil {
		return errorMessage(c, http.StatusBadRequest, "msg_id must be numeric")
	}
	msg, err := h.store.GetMessage(c.Request().Context(), c.Param("chat_id"), msgID)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	history := []store.EditEntry{}
	if msg != nil && msg.EditHistory != nil {
		history = msg.EditHistory
	}
	return c.JSON(http.StatusOK, map[string]any{"edit_history": history})
}

// stageUpload writes the incoming file into a fresh private temp
// directory keeping its original name, so the platform upload carries
// the right filename.
func stageUpload(filename string, write func(io.Writer) error) (string, func(), error) {
	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "upload"
	}
	dir := filepath.Join(os.TempDir(), "telebridge-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	path := filepath.Join(dir, base)
	f, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// uploadKind categorizes an uploaded file by its extension's MIME type.
func uploadKind(filename string) string {
	mimeType := mime.TypeByExtension(filepath.Ext(filename))
	switch {
	case strings.HasPrefix(mimeType, "image") && !strings.HasSuffix(mimeType, "gif"):
		return "photo"
	case strings.HasPrefix(mimeType, "video"):
		return "video"
	case strings.HasPrefix(mimeType, "audio"):
		return "audio"
	default:
		return "document"
	}
}
