// Package server wires the REST and WebSocket surface onto an echo
// instance and owns its lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/telebridge/telebridge/internal/config"
	"github.com/telebridge/telebridge/internal/handlers"
)

// Handler is anything that can attach routes.
type Handler interface {
	Register(e *echo.Echo)
}

type Server struct {
	echo *echo.Echo
	addr string
}

func NewServer(cfg config.ServerConfig, log *slog.Logger,
	chatsHandler *handlers.ChatsHandler,
	messagesHandler *handlers.MessagesHandler,
	groupsHandler *handlers.GroupsHandler,
	mediaHandler *handlers.MediaHandler,
	wsHandler *handlers.WSHandler,
	webHandler *handlers.WebHandler) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = config.DefaultHTTPAddr
	}
	if log == nil {
		log = slog.Default()
	}
	requestLog := log.With(slog.String("service", "http"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxUploadMiB)))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.Any("error", v.Error))
				requestLog.Error("request", attrs...)
				return nil
			}
			requestLog.Debug("request", attrs...)
			return nil
		},
	}))

	for _, h := range []Handler{chatsHandler, messagesHandler, groupsHandler, mediaHandler, wsHandler, webHandler} {
		if h != nil {
			h.Register(e)
		}
	}

	return &Server{echo: e, addr: addr}
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

// Shutdown drains in-flight requests with a short grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}
