package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/telebridge/telebridge/internal/hub"
)

// WSHandler upgrades UI connections and registers them with the hub.
type WSHandler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWSHandler(log *slog.Logger, h *hub.Hub) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			// Loopback-bound local tool; origin checks are skipped.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.With(slog.String("handler", "ws")),
	}
}

func (h *WSHandler) Register(e *echo.Echo) {
	e.GET("/ws", h.Subscribe)
}

// Subscribe holds the connection open for pushes. The read loop exists
// only to observe the close; the server never consumes client frames.
func (h *WSHandler) Subscribe(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	h.hub.Add(conn)
	defer func() {
		h.hub.Remove(conn)
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}
