// Package telegram provides the two Telegram backends behind the
// platform.Client interface: a full client built on go-telegram-bot-api
// and a lite client that speaks the Bot API directly over HTTP.
package telegram

import (
	"fmt"
	"log/slog"
	"mime"
	"strconv"
	"strings"

	"github.com/telebridge/telebridge/internal/config"
	"github.com/telebridge/telebridge/internal/platform"
)

func init() {
	// Kinds the stdlib table misses on some systems.
	_ = mime.AddExtensionType(".webp", "image/webp")
	_ = mime.AddExtensionType(".webm", "video/webm")
	_ = mime.AddExtensionType(".tgs", "application/x-tgsticker")
}

// New builds the configured backend.
func New(cfg config.TelegramConfig, log *slog.Logger) (platform.Client, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "full":
		return NewFullClient(log, token, cfg.PollTimeout)
	case "lite":
		return NewLiteClient(log, token, cfg.PollTimeout), nil
	default:
		return nil, fmt.Errorf("unknown telegram backend %q", cfg.Backend)
	}
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("chat id must be numeric: %q", chatID)
	}
	return id, nil
}

// mediaKindForMime maps a MIME type onto the outbound transport category.
func mediaKindForMime(mimeType string) platform.MediaKind {
	switch {
	case strings.HasPrefix(mimeType, "image") && !strings.HasSuffix(mimeType, "gif"):
		return platform.MediaPhoto
	case strings.HasPrefix(mimeType, "video"):
		return platform.MediaVideo
	case strings.HasPrefix(mimeType, "audio"):
		return platform.MediaAudio
	default:
		return platform.MediaDocument
	}
}

func chatKindFromType(chatType string) platform.ChatKind {
	switch chatType {
	case "group":
		return platform.ChatGroup
	case "supergroup":
		return platform.ChatSupergroup
	default:
		return platform.ChatPrivate
	}
}
