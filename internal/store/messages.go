package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const messageColumns = `msg_id, chat_id, direction, text, ts, media_type, media_file,
	reply_to, forwarded_from, forwarded_from_username, source, sender_id, sender_name,
	reactions, reactor_names, edited, edit_history`

// SaveMessage inserts or fully replaces the record keyed by
// (msg_id, chat_id). Replays of the same platform event land on the
// conflict branch instead of producing duplicate rows.
func (s *Store) SaveMessage(ctx context.Context, msg Message) error {
	reactions, err := encodeJSON(msg.Reactions)
	if err != nil {
		return err
	}
	reactorNames, err := encodeJSON(msg.ReactorNames)
	if err != nil {
		return err
	}
	history, err := encodeJSON(msg.EditHistory)
	if err != nil {
		return err
	}
	stmt := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (msg_id, chat_id) DO UPDATE SET
			direction = excluded.direction,
			text = excluded.text,
			ts = excluded.ts,
			media_type = excluded.media_type,
			media_file = excluded.media_file,
			reply_to = excluded.reply_to,
			forwarded_from = excluded.forwarded_from,
			forwarded_from_username = excluded.forwarded_from_username,
			source = excluded.source,
			sender_id = excluded.sender_id,
			sender_name = excluded.sender_name,
			reactions = excluded.reactions,
			reactor_names = excluded.reactor_names,
			edited = excluded.edited,
			edit_history = excluded.edit_history
	`
	_, err = s.db.ExecContext(ctx, stmt,
		msg.MsgID, msg.ChatID, msg.Direction, msg.Text, msg.Timestamp.Unix(),
		msg.MediaType, msg.MediaFile, msg.ReplyTo,
		msg.ForwardedFrom, msg.ForwardedFromUsername, msg.Source,
		msg.SenderID, msg.SenderName,
		reactions, reactorNames, boolToInt(msg.Edited), history,
	)
	if err != nil {
		return fmt.Errorf("save message %d: %w", msg.MsgID, err)
	}
	return nil
}

// GetMessages returns a window of the chat's history counted backward
// from the newest message, in ascending order, plus the chat's total.
// offset 0 is the newest page.
func (s *Store) GetMessages(ctx context.Context, chatID string, offset, limit int) ([]Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ?
		ORDER BY ts DESC, msg_id DESC
		LIMIT ? OFFSET ?
	`, chatID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	reverse(msgs)
	return msgs, total, nil
}

// GetAllMessages returns the chat's full history in ascending order.
func (s *Store) GetAllMessages(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ?
		ORDER BY ts ASC, msg_id ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetMessage returns the record or nil when no such message exists.
func (s *Store) GetMessage(ctx context.Context, chatID string, msgID int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ? AND msg_id = ?
	`, chatID, msgID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ChatIDForMessage resolves which chat a bare message id belongs to.
// Used when a deletion event arrives without chat context. Ambiguity
// (the same chat-scoped id in several chats) resolves to the newest.
func (s *Store) ChatIDForMessage(ctx context.Context, msgID int64) (string, error) {
	var chatID string
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id FROM messages WHERE msg_id = ? ORDER BY ts DESC LIMIT 1
	`, msgID).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reverse lookup %d: %w", msgID, err)
	}
	return chatID, nil
}

// DeleteMessages removes records and their media files. Media cleanup
// is best effort; a missing file is not an error.
func (s *Store) DeleteMessages(ctx context.Context, chatID string, msgIDs []int64) error {
	if len(msgIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(msgIDs)), ", ")
	args := make([]any, 0, len(msgIDs)+1)
	args = append(args, chatID)
	for _, id := range msgIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT media_file FROM messages WHERE chat_id = ? AND msg_id IN (`+placeholders+`) AND media_file != ''`,
		args...)
	if err != nil {
		return fmt.Errorf("list media for delete: %w", err)
	}
	var mediaFiles []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return err
		}
		mediaFiles = append(mediaFiles, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE chat_id = ? AND msg_id IN (`+placeholders+`)`,
		args...); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	s.removeMediaFiles(chatID, mediaFiles)
	return nil
}

// DeleteChatMessages removes a chat's entire history. Media files are
// not removed one by one; the caller deletes the chat folder wholesale.
func (s *Store) DeleteChatMessages(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}
	return nil
}

// AddReaction applies toggle semantics: setting the emoji the reactor
// already has removes it instead. It returns the resulting reaction map;
// a missing message is a no-op returning nil.
func (s *Store) AddReaction(ctx context.Context, chatID string, msgID int64, emoji, reactorKey, reactorName string) (map[string]string, error) {
	msg, err := s.GetMessage(ctx, chatID, msgID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}

	if msg.Reactions == nil {
		msg.Reactions = map[string]string{}
	}
	if msg.ReactorNames == nil {
		msg.ReactorNames = map[string]string{}
	}
	if msg.Reactions[reactorKey] == emoji {
		delete(msg.Reactions, reactorKey)
		delete(msg.ReactorNames, reactorKey)
	} else {
		msg.Reactions[reactorKey] = emoji
		if reactorName != "" {
			msg.ReactorNames[reactorKey] = reactorName
		}
	}
	normalizeReactionMaps(msg)

	if err := s.SaveMessage(ctx, *msg); err != nil {
		return nil, err
	}
	return msg.Reactions, nil
}

// RemoveReaction unconditionally removes the reactor's reaction and
// returns the resulting reaction map.
func (s *Store) RemoveReaction(ctx context.Context, chatID string, msgID int64, reactorKey string) (map[string]string, error) {
	msg, err := s.GetMessage(ctx, chatID, msgID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}
	delete(msg.Reactions, reactorKey)
	delete(msg.ReactorNames, reactorKey)
	normalizeReactionMaps(msg)

	if err := s.SaveMessage(ctx, *msg); err != nil {
		return nil, err
	}
	return msg.Reactions, nil
}

// EditMessage replaces the text and appends the prior text to the edit
// history. Editing a missing message is a no-op returning nil; editing
// with identical text still records a snapshot, matching platform
// behavior.
func (s *Store) EditMessage(ctx context.Context, chatID string, msgID int64, newText string) (*Message, error) {
	msg, err := s.GetMessage(ctx, chatID, msgID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}
	msg.EditHistory = append(msg.EditHistory, EditEntry{Text: msg.Text, EditedAt: time.Now()})
	msg.Text = newText
	msg.Edited = true
	if err := s.SaveMessage(ctx, *msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) removeMediaFiles(chatID string, files []string) {
	if len(files) == 0 || s.media == nil {
		return
	}
	dir, ok := s.media.MediaDir(chatID)
	if !ok {
		return
	}
	for _, f := range files {
		// Stored names are generated, but guard traversal anyway.
		if f != filepath.Base(f) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, f)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove media file failed", slog.String("file", f), slog.Any("error", err))
		}
	}
}

// An empty reaction map is stored as NULL, not "{}", so untouched
// records serialize without the field.
func normalizeReactionMaps(msg *Message) {
	if len(msg.Reactions) == 0 {
		msg.Reactions = nil
		msg.ReactorNames = nil
	}
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		msg          Message
		ts           int64
		edited       int
		reactions    sql.NullString
		reactorNames sql.NullString
		history      sql.NullString
	)
	err := row.Scan(
		&msg.MsgID, &msg.ChatID, &msg.Direction, &msg.Text, &ts,
		&msg.MediaType, &msg.MediaFile, &msg.ReplyTo,
		&msg.ForwardedFrom, &msg.ForwardedFromUsername, &msg.Source,
		&msg.SenderID, &msg.SenderName,
		&reactions, &reactorNames, &edited, &history,
	)
	if err != nil {
		return Message{}, err
	}
	msg.Timestamp = time.Unix(ts, 0)
	msg.Edited = edited != 0
	if err := decodeJSON(reactions, &msg.Reactions); err != nil {
		return Message{}, err
	}
	if err := decodeJSON(reactorNames, &msg.ReactorNames); err != nil {
		return Message{}, err
	}
	if err := decodeJSON(history, &msg.EditHistory); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// encodeJSON serializes v, mapping empty containers to NULL.
func encodeJSON(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case map[string]string:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case []EditEntry:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode json column: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeJSON(col sql.NullString, out any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), out); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
