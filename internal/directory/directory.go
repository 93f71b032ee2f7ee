// Package directory maintains chat metadata: display names, unread
// counters, interaction timestamps and the on-disk folder each chat's
// media lives in. It keeps an in-memory cache mirrored to the chats
// table on every mutation.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/telebridge/telebridge/internal/platform"
)

// Chat is one directory entry, shaped as the web UI consumes it.
type Chat struct {
	ChatID          string            `json:"chat_id"`
	Kind            platform.ChatKind `json:"kind"`
	Title           string            `json:"title,omitempty"`
	FirstName       string            `json:"first_name,omitempty"`
	LastName        string            `json:"last_name,omitempty"`
	Username        string            `json:"username,omitempty"`
	FullName        string            `json:"full_name"`
	FolderName      string            `json:"folder_name"`
	UnreadCount     int               `json:"unread_count"`
	LastSeen        time.Time         `json:"last_seen"`
	LastInteraction time.Time         `json:"last_interaction,omitzero"`
}

// DisplayName is the name shown in chat lists: group title when set,
// otherwise the person's full name, otherwise the username.
func (c *Chat) DisplayName() string {
	if c.Title != "" {
		return c.Title
	}
	if c.FullName != "" {
		return c.FullName
	}
	return c.Username
}

// Directory is the chat metadata service. The cache is write-through:
// every mutation updates the row first, then the map.
type Directory struct {
	db       *sql.DB
	chatsDir string
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Chat
}

// New loads all known chats into memory and ensures the chats root
// directory exists under dataRoot.
func New(db *sql.DB, dataRoot string, log *slog.Logger) (*Directory, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &Directory{
		db:       db,
		chatsDir: filepath.Join(dataRoot, "chats"),
		logger:   log.With(slog.String("service", "directory")),
		cache:    map[string]*Chat{},
	}
	if err := os.MkdirAll(d.chatsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chats dir: %w", err)
	}
	if err := d.loadAll(context.Background()); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Directory) loadAll(ctx context.Context) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT chat_id, kind, title, first_name, last_name, username,
			full_name, folder_name, unread_count, last_seen, last_interaction
		FROM chats
	`)
	if err != nil {
		return fmt.Errorf("load chats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			c                   Chat
			kind                string
			lastSeen, lastTouch string
		)
		if err := rows.Scan(&c.ChatID, &kind, &c.Title, &c.FirstName, &c.LastName,
			&c.Username, &c.FullName, &c.FolderName, &c.UnreadCount,
			&lastSeen, &lastTouch); err != nil {
			return err
		}
		c.Kind = platform.ChatKind(kind)
		c.LastSeen = parseTime(lastSeen)
		c.LastInteraction = parseTime(lastTouch)
		d.cache[c.ChatID] = &c
	}
	return rows.Err()
}

// UpdateChat upserts metadata from a platform chat object, recomputes
// the display name, refreshes last-seen, and ensures the chat's folder
// (with media subfolder) exists. Folders are named by chat id; content
// under a legacy name-based folder is migrated on first sight.
func (d *Directory) UpdateChat(ctx context.Context, chat platform.Chat) (*Chat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, known := d.cache[chat.ID]
	if !known {
		entry = &Chat{ChatID: chat.ID}
	}
	entry.Kind = chat.Kind
	entry.Title = chat.Title
	entry.FirstName = chat.FirstName
	entry.LastName = chat.LastName
	entry.Username = chat.Username
	entry.FullName = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	entry.LastSeen = time.Now()

	if err := d.ensureFolder(entry); err != nil {
		return nil, err
	}
	if err := d.persist(ctx, entry); err != nil {
		return nil, err
	}
	d.cache[chat.ID] = entry
	copied := *entry
	return &copied, nil
}

// ensureFolder creates the chat's folder tree and migrates any legacy
// "{name}$${id}" folder the earlier layout produced.
func (d *Directory) ensureFolder(entry *Chat) error {
	if entry.FolderName == "" {
		entry.FolderName = entry.ChatID
	}
	dir := filepath.Join(d.chatsDir, entry.FolderName)

	if entry.FolderName != entry.ChatID {
		target := filepath.Join(d.chatsDir, entry.ChatID)
		if _, err := os.Stat(dir); err == nil {
			if err := os.Rename(dir, target); err != nil {
				return fmt.Errorf("migrate chat folder %s: %w", entry.FolderName, err)
			}
			d.logger.Info("migrated chat folder",
				slog.String("from", entry.FolderName), slog.String("chat_id", entry.ChatID))
		}
		entry.FolderName = entry.ChatID
		dir = target
	}

	if err := os.MkdirAll(filepath.Join(dir, "media"), 0o755); err != nil {
		return fmt.Errorf("create chat folder: %w", err)
	}
	return nil
}

func (d *Directory) persist(ctx context.Context, entry *Chat) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO chats (chat_id, kind, title, first_name, last_name, username,
			full_name, folder_name, unread_count, last_seen, last_interaction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			kind = excluded.kind,
			title = excluded.title,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			username = excluded.username,
			full_name = excluded.full_name,
			folder_name = excluded.folder_name,
			unread_count = excluded.unread_count,
			last_seen = excluded.last_seen,
			last_interaction = excluded.last_interaction
	`, entry.ChatID, string(entry.Kind), entry.Title, entry.FirstName, entry.LastName,
		entry.Username, entry.FullName, entry.FolderName, entry.UnreadCount,
		formatTime(entry.LastSeen), formatTime(entry.LastInteraction))
	if err != nil {
		return fmt.Errorf("persist chat %s: %w", entry.ChatID, err)
	}
	return nil
}

// Get returns a copy of the entry, or nil when the chat is unknown.
func (d *Directory) Get(chatID string) *Chat {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.cache[chatID]
	if !ok {
		return nil
	}
	copied := *entry
	return &copied
}

// List returns all entries sorted by last-seen, newest first.
func (d *Directory) List() []Chat {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Chat, 0, len(d.cache))
	for _, entry := range d.cache {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// MediaDir resolves the chat's media folder. Satisfies the store's
// resolver interface.
func (d *Directory) MediaDir(chatID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.cache[chatID]
	if !ok {
		return "", false
	}
	return filepath.Join(d.chatsDir, entry.FolderName, "media"), true
}

// TouchInteraction records the moment of the last exchange with the
// chat. Read only by the auto-reply cooldown gate.
func (d *Directory) TouchInteraction(ctx context.Context, chatID string) error {
	return d.mutate(ctx, chatID, func(entry *Chat) {
		entry.LastInteraction = time.Now()
	})
}

// LastInteraction returns the recorded interaction time and whether the
// chat is known at all.
func (d *Directory) LastInteraction(chatID string) (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.cache[chatID]
	if !ok {
		return time.Time{}, false
	}
	return entry.LastInteraction, true
}

// IncrementUnread bumps the chat's unread counter.
func (d *Directory) IncrementUnread(ctx context.Context, chatID string) error {
	return d.mutate(ctx, chatID, func(entry *Chat) {
		entry.UnreadCount++
	})
}

// ClearUnread resets the chat's unread counter.
func (d *Directory) ClearUnread(ctx context.Context, chatID string) error {
	return d.mutate(ctx, chatID, func(entry *Chat) {
		entry.UnreadCount = 0
	})
}

func (d *Directory) mutate(ctx context.Context, chatID string, fn func(*Chat)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.cache[chatID]
	if !ok {
		return nil
	}
	fn(entry)
	return d.persist(ctx, entry)
}

// DeleteChat removes the metadata row and the chat's folder tree.
// Message rows are the store's concern; callers delete those first.
func (d *Directory) DeleteChat(ctx context.Context, chatID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.cache[chatID]
	if ok && entry.FolderName != "" {
		if err := os.RemoveAll(filepath.Join(d.chatsDir, entry.FolderName)); err != nil {
			return fmt.Errorf("remove chat folder: %w", err)
		}
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete chat %s: %w", chatID, err)
	}
	delete(d.cache, chatID)
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
