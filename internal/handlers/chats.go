package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/telebridge/telebridge/internal/directory"
	"github.com/telebridge/telebridge/internal/policy"
	"github.com/telebridge/telebridge/internal/store"
)

// ChatsHandler serves the chat list and per-chat directory operations.
type ChatsHandler struct {
	directory *directory.Directory
	store     *store.Store
	policy    *policy.Policy
	logger    *slog.Logger
}

func NewChatsHandler(log *slog.Logger, dir *directory.Directory, st *store.Store, pol *policy.Policy) *ChatsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChatsHandler{
		directory: dir,
		store:     st,
		policy:    pol,
		logger:    log.With(slog.String("handler", "chats")),
	}
}

func (h *ChatsHandler) Register(e *echo.Echo) {
	e.GET("/api/users", h.ListChats)
	e.POST("/api/clear-unread", h.ClearUnread)
	e.POST("/api/block", h.Block)
	e.POST("/api/unblock", h.Unblock)
	e.DELETE("/api/users/:chat_id", h.DeleteChat)
}

type chatSummary struct {
	directory.Chat
	LastMessage *store.Message `json:"last_message"`
	IsBanned    bool           `json:"is_banned"`
}

// ListChats returns every known chat, newest activity first, each with
// its most recent message and ban status.
func (h *ChatsHandler) ListChats(c echo.Context) error {
	ctx := c.Request().Context()
	chats := h.directory.List()
	out := make([]chatSummary, 0, len(chats))
	for _, chat := range chats {
		summary := chatSummary{Chat: chat}
		msgs, _, err := h.store.GetMessages(ctx, chat.ChatID, 0, 1)
		if err != nil {
			return errorResponse(c, http.StatusInternalServerError, err)
		}
		if len(msgs) > 0 {
			summary.LastMessage = &msgs[0]
		}
		if id, err := chatID(chat.ChatID).Int64(); err == nil {
			summary.IsBanned = h.policy.IsBanned(id)
		}
		out = append(out, summary)
	}
	return c.JSON(http.StatusOK, out)
}

type chatRequest struct {
	UserID chatID `json:"user_id"`
}

func (h *ChatsHandler) ClearUnread(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if err := h.directory.ClearUnread(c.Request().Context(), req.UserID.String()); err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return okResponse(c)
}

func (h *ChatsHandler) Block(c echo.Context) error {
	return h.setBlocked(c, true)
}

func (h *ChatsHandler) Unblock(c echo.Context) error {
	return h.setBlocked(c, false)
}

func (h *ChatsHandler) setBlocked(c echo.Context, blocked bool) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	id, err := req.UserID.Int64()
	if err != nil {
		return errorMessage(c, http.StatusBadRequest, "user_id must be numeric")
	}
	if blocked {
		err = h.policy.Block(id)
	} else {
		err = h.policy.Unblock(id)
	}
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return okResponse(c)
}

// DeleteChat irreversibly removes a chat: message rows, metadata row,
// and the media folder.
func (h *ChatsHandler) DeleteChat(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("chat_id")
	if err := h.store.DeleteChatMessages(ctx, id); err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	if err := h.directory.DeleteChat(ctx, id); err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	h.logger.Info("chat deleted", slog.String("chat_id", id))
	return okResponse(c)
}
