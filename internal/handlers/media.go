package handlers

import (
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/telebridge/telebridge/internal/directory"
	"github.com/telebridge/telebridge/internal/platform"
)

func init() {
	// Telegram media extensions the platform mime table may not know.
	_ = mime.AddExtensionType(".webp", "image/webp")
	_ = mime.AddExtensionType(".webm", "video/webm")
	_ = mime.AddExtensionType(".tgs", "application/x-tgsticker")
}

// MediaHandler serves stored media files, cached avatars, and the bot's
// own identity.
type MediaHandler struct {
	directory *directory.Directory
	client    platform.Client
	avatarDir string
	logger    *slog.Logger

	mu      sync.Mutex
	botInfo *platform.BotInfo
}

func NewMediaHandler(log *slog.Logger, dir *directory.Directory, client platform.Client, dataRoot string) *MediaHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MediaHandler{
		directory: dir,
		client:    client,
		avatarDir: filepath.Join(dataRoot, "avatars"),
		logger:    log.With(slog.String("handler", "media")),
	}
}

func (h *MediaHandler) Register(e *echo.Echo) {
	e.GET("/api/media/:chat_id/:filename", h.Media)
	e.GET("/api/avatar/:chat_id", h.Avatar)
	e.GET("/api/bot-info", h.BotInfo)
}

// Media streams a stored media file with a best-guess content type.
func (h *MediaHandler) Media(c echo.Context) error {
	id := c.Param("chat_id")
	filename := c.Param("filename")
	if filename != filepath.Base(filename) {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	dir, ok := h.directory.MediaDir(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); err != nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Response().Header().Set(echo.HeaderContentType, contentType)
	return c.File(path)
}

// Avatar serves the chat's profile photo, downloading it into the
// avatar cache on first request.
func (h *MediaHandler) Avatar(c echo.Context) error {
	id := c.Param("chat_id")
	cached := filepath.Join(h.avatarDir, id+".jpg")

	if _, err := os.Stat(cached); err != nil {
		if err := os.MkdirAll(h.avatarDir, 0o755); err != nil {
			return errorResponse(c, http.StatusInternalServerError, err)
		}
		if !h.client.FetchProfilePhoto(c.Request().Context(), id, cached) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
	}
	return c.File(cached)
}

// BotInfo returns the connected account's identity, fetched once and
// cached for the process lifetime.
func (h *MediaHandler) BotInfo(c echo.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.botInfo == nil {
		info, err := h.client.Self(c.Request().Context())
		if err != nil {
			return errorResponse(c, http.StatusInternalServerError, err)
		}
		h.botInfo = &info
	}
	return c.JSON(http.StatusOK, h.botInfo)
}
