package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/telebridge/telebridge/internal/platform"
	"github.com/telebridge/telebridge/internal/store"
)

// GroupsHandler passes group administration through to the platform.
type GroupsHandler struct {
	client platform.Client
	store  *store.Store
	logger *slog.Logger
}

func NewGroupsHandler(log *slog.Logger, client platform.Client, st *store.Store) *GroupsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &GroupsHandler{
		client: client,
		store:  st,
		logger: log.With(slog.String("handler", "groups")),
	}
}

func (h *GroupsHandler) Register(e *echo.Echo) {
	e.POST("/api/ban", h.Ban)
	e.POST("/api/unban", h.Unban)
	e.POST("/api/pin", h.Pin)
	e.POST("/api/unpin", h.Unpin)
	e.POST("/api/leave", h.Leave)
	e.GET("/api/group-info/:chat_id", h.GroupInfo)
}

type memberRequest struct {
	ChatID chatID `json:"chat_id"`
	UserID chatID `json:"user_id"`
}

type pinRequest struct {
	ChatID chatID `json:"chat_id"`
	MsgID  int64  `json:"msg_id"`
}

func (h *GroupsHandler) Ban(c echo.Context) error {
	return h.memberAction(c, h.client.BanMember)
}

func (h *GroupsHandler) Unban(c echo.Context) error {
	return h.memberAction(c, h.client.UnbanMember)
}

func (h *GroupsHandler) memberAction(c echo.Context, action func(ctx context.Context, chatID string, userID int64) error) error {
	var req memberRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	userID, err := req.UserID.Int64()
	if err != nil {
		return errorMessage(c, http.StatusBadRequest, "user_id must be numeric")
	}
	if err := action(c.Request().Context(), req.ChatID.String(), userID); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	return okResponse(c)
}

func (h *GroupsHandler) Pin(c echo.Context) error {
	return h.pinAction(c, h.client.PinMessage)
}

func (h *GroupsHandler) Unpin(c echo.Context) error {
	return h.pinAction(c, h.client.UnpinMessage)
}

func (h *GroupsHandler) pinAction(c echo.Context, action func(ctx context.Context, chatID string, msgID int64) error) error {
	var req pinRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if err := action(c.Request().Context(), req.ChatID.String(), req.MsgID); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	return okResponse(c)
}

func (h *GroupsHandler) Leave(c echo.Context) error {
	var req memberRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if err := h.client.LeaveChat(c.Request().Context(), req.ChatID.String()); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	return okResponse(c)
}

type activeMember struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GroupInfo combines platform data (member count, admins) with members
// seen in locally stored history. Platform failures degrade to local
// data only.
func (h *GroupsHandler) GroupInfo(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("chat_id")

	active := map[string]string{}
	msgs, err := h.store.GetAllMessages(ctx, id)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	for _, m := range msgs {
		if m.SenderID == 0 {
			continue
		}
		key := strconv.FormatInt(m.SenderID, 10)
		name := m.SenderName
		if name == "" {
			name = "User " + key
		}
		active[key] = name
	}
	members := make([]activeMember, 0, len(active))
	for key, name := range active {
		members = append(members, activeMember{ID: key, Name: name})
	}

	count := 0
	var admins []platform.ChatMember
	if n, err := h.client.MemberCount(ctx, id); err == nil {
		count = n
	} else {
		h.logger.Warn("member count failed", slog.String("chat_id", id), slog.Any("error", err))
	}
	if list, err := h.client.Admins(ctx, id); err == nil {
		admins = list
	} else {
		h.logger.Warn("admin list failed", slog.String("chat_id", id), slog.Any("error", err))
	}
	if admins == nil {
		admins = []platform.ChatMember{}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":         "ok",
		"member_count":   count,
		"admins":         admins,
		"active_members": members,
	})
}
