package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/telebridge/telebridge/internal/config"
	"github.com/telebridge/telebridge/internal/directory"
	"github.com/telebridge/telebridge/internal/handlers"
	"github.com/telebridge/telebridge/internal/hub"
	"github.com/telebridge/telebridge/internal/logger"
	"github.com/telebridge/telebridge/internal/pipeline"
	"github.com/telebridge/telebridge/internal/platform"
	"github.com/telebridge/telebridge/internal/platform/telegram"
	"github.com/telebridge/telebridge/internal/policy"
	"github.com/telebridge/telebridge/internal/server"
	"github.com/telebridge/telebridge/internal/store"
)

func runServe(cfgPath string) {
	fx.New(
		fx.Provide(
			func() (config.Config, error) { return provideConfig(cfgPath) },
			provideLogger,
			provideDBConn,
			provideDirectory,
			provideStore,
			providePolicy,
			provideClient,
			hub.New,
			providePipeline,
			provideChatsHandler,
			provideMessagesHandler,
			provideGroupsHandler,
			provideMediaHandler,
			handlers.NewWSHandler,
			provideWebHandler,
			provideServer,
		),
		fx.Invoke(
			startPoller,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if cfg.Telegram.BotToken == "" {
		return config.Config{}, errors.New("telegram.bot_token is not configured")
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*sql.DB, error) {
	if err := os.MkdirAll(cfg.Data.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}
	db, err := store.OpenDB(filepath.Join(cfg.Data.Root, "telebridge.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return db.Close() }})
	return db, nil
}

func provideDirectory(db *sql.DB, cfg config.Config, log *slog.Logger) (*directory.Directory, error) {
	return directory.New(db, cfg.Data.Root, log)
}

func provideStore(db *sql.DB, dir *directory.Directory, log *slog.Logger) *store.Store {
	return store.New(db, dir, log)
}

func providePolicy(cfg config.Config, log *slog.Logger) (*policy.Policy, error) {
	return policy.Load(cfg.Policy.Path, log)
}

func provideClient(cfg config.Config, log *slog.Logger) (platform.Client, error) {
	return telegram.New(cfg.Telegram, log)
}

func providePipeline(cfg config.Config, client platform.Client, st *store.Store,
	dir *directory.Directory, pol *policy.Policy, h *hub.Hub, log *slog.Logger) *pipeline.Pipeline {
	return pipeline.New(cfg.AutoReply, client, st, dir, pol, h, log)
}

func provideChatsHandler(log *slog.Logger, dir *directory.Directory, st *store.Store, pol *policy.Policy) *handlers.ChatsHandler {
	return handlers.NewChatsHandler(log, dir, st, pol)
}

func provideMessagesHandler(log *slog.Logger, st *store.Store, dir *directory.Directory,
	client platform.Client, h *hub.Hub, cfg config.Config) *handlers.MessagesHandler {
	return handlers.NewMessagesHandler(log, st, dir, client, h, cfg.Server.PageSize)
}

func provideGroupsHandler(log *slog.Logger, client platform.Client, st *store.Store) *handlers.GroupsHandler {
	return handlers.NewGroupsHandler(log, client, st)
}

func provideMediaHandler(log *slog.Logger, dir *directory.Directory, client platform.Client, cfg config.Config) *handlers.MediaHandler {
	return handlers.NewMediaHandler(log, dir, client, cfg.Data.Root)
}

func provideWebHandler(cfg config.Config) *handlers.WebHandler {
	return handlers.NewWebHandler(cfg.Server.WebDir)
}

func provideServer(cfg config.Config, log *slog.Logger,
	chatsHandler *handlers.ChatsHandler,
	messagesHandler *handlers.MessagesHandler,
	groupsHandler *handlers.GroupsHandler,
	mediaHandler *handlers.MediaHandler,
	wsHandler *handlers.WSHandler,
	webHandler *handlers.WebHandler) *server.Server {
	return server.NewServer(cfg.Server, log,
		chatsHandler, messagesHandler, groupsHandler, mediaHandler, wsHandler, webHandler)
}

func startPoller(lc fx.Lifecycle, log *slog.Logger, client platform.Client,
	pipe *pipeline.Pipeline, shutdowner fx.Shutdowner) {
	var cancel context.CancelFunc
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				if err := client.Run(ctx, pipe.Handlers(ctx)); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("poller stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("http server starting", slog.String("addr", srv.Addr()))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
