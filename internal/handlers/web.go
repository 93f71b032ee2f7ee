package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
)

// WebHandler serves the chat UI's index page and static assets.
type WebHandler struct {
	webDir string
}

func NewWebHandler(webDir string) *WebHandler {
	return &WebHandler{webDir: webDir}
}

func (h *WebHandler) Register(e *echo.Echo) {
	e.GET("/", h.Index)
	e.GET("/static/*", h.Static)
}

func (h *WebHandler) Index(c echo.Context) error {
	return c.File(filepath.Join(h.webDir, "index.html"))
}

func (h *WebHandler) Static(c echo.Context) error {
	rel := c.Param("*")
	path := filepath.Join(h.webDir, filepath.Clean("/"+rel))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	return c.File(path)
}
