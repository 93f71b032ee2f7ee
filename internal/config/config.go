package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = "127.0.0.1:8080"
	DefaultDataRoot     = "data"
	DefaultWebDir       = "web"
	DefaultBackend      = "full"
	DefaultPageSize     = 30
	DefaultAutoReply    = "will reply very soon if not afk (or not ignoring)"
	DefaultCooldown     = 2 * time.Hour
	DefaultPollTimeout  = 30
	DefaultMaxUploadMiB = 50
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Data      DataConfig      `toml:"data"`
	Policy    PolicyConfig    `toml:"policy"`
	AutoReply AutoReplyConfig `toml:"auto_reply"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr         string `toml:"addr"`
	WebDir       string `toml:"web_dir"`
	MaxUploadMiB int    `toml:"max_upload_mib"`
	PageSize     int    `toml:"page_size"`
}

// TelegramConfig selects the platform backend. "full" uses the
// go-telegram-bot-api client; "lite" uses the built-in minimal Bot API
// poller that needs nothing beyond the token.
type TelegramConfig struct {
	BotToken    string `toml:"bot_token"`
	Backend     string `toml:"backend"`
	PollTimeout int    `toml:"poll_timeout_seconds"`
}

type DataConfig struct {
	Root string `toml:"root"`
}

// PolicyConfig points at the mutable allow/deny list file. The file is
// separate from the main config because /api/block writes it back.
type PolicyConfig struct {
	Path string `toml:"path"`
}

type AutoReplyConfig struct {
	Message  string `toml:"message"`
	Cooldown string `toml:"cooldown"`
}

// CooldownDuration parses the configured cooldown, falling back to the
// 2h default on absence or parse failure.
func (c AutoReplyConfig) CooldownDuration() time.Duration {
	if c.Cooldown == "" {
		return DefaultCooldown
	}
	d, err := time.ParseDuration(c.Cooldown)
	if err != nil || d <= 0 {
		return DefaultCooldown
	}
	return d
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:         DefaultHTTPAddr,
			WebDir:       DefaultWebDir,
			MaxUploadMiB: DefaultMaxUploadMiB,
			PageSize:     DefaultPageSize,
		},
		Telegram: TelegramConfig{
			Backend:     DefaultBackend,
			PollTimeout: DefaultPollTimeout,
		},
		Data: DataConfig{
			Root: DefaultDataRoot,
		},
		AutoReply: AutoReplyConfig{
			Message: DefaultAutoReply,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			cfg.applyDerived()
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyDerived()
	return cfg, nil
}

func (c *Config) applyDerived() {
	if c.Policy.Path == "" {
		c.Policy.Path = filepath.Join(c.Data.Root, "policy.toml")
	}
	if c.Telegram.PollTimeout <= 0 {
		c.Telegram.PollTimeout = DefaultPollTimeout
	}
	if c.Server.PageSize <= 0 {
		c.Server.PageSize = DefaultPageSize
	}
	if c.Server.MaxUploadMiB <= 0 {
		c.Server.MaxUploadMiB = DefaultMaxUploadMiB
	}
}
