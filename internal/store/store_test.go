package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fixedMediaDir struct {
	dir string
}

func (f fixedMediaDir) MediaDir(chatID string) (string, bool) {
	return f.dir, f.dir != ""
}

func newTestStore(t *testing.T, mediaDir string) *Store {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, fixedMediaDir{dir: mediaDir}, slog.Default())
}

func testMessage(msgID int64, chatID string, ts time.Time) Message {
	return Message{
		MsgID:     msgID,
		ChatID:    chatID,
		Direction: DirectionIn,
		Text:      "hello",
		Timestamp: ts,
		Source:    "lite",
	}
}

func TestSaveMessageUpsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, "")
	now := time.Now()

	msg := testMessage(1, "100", now)
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("save: %v", err)
	}
	msg.Text = "hello again"
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("replay save: %v", err)
	}

	msgs, total, err := s.GetMessages(ctx, "100", 0, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if total != 1 || len(msgs) != 1 {
		t.Fatalf("total = %d, len = %d, want 1/1", total, len(msgs))
	}
	if msgs[0].Text != "hello again" {
		t.Errorf("text = %q, want replayed text", msgs[0].Text)
	}
}

func TestSameMsgIDDifferentChats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, "")
	now := time.Now()

	if err := s.SaveMessage(ctx, testMessage(1, "100", now)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveMessage(ctx, testMessage(1, "200", now)); err != nil {
		t.Fatal(err)
	}

	for _, chatID := range []string{"100", "200"} {
		_, total, err := s.GetMessages(ctx, chatID, 0, 10)
		if err != nil {
			t.Fatal(err)
		}
		if total != 1 {
			t.Errorf("chat %s total = %d, want 1", chatID, total)
		}
	}
}

func TestGetMessagesPagination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, "")
	base := time.Now().Add(-time.Hour)

	for i := int64(1); i <= 50; i++ {
		msg := testMessage(i, "100", base.Add(time.Duration(i)*time.Second))
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	// Newest page.
	msgs, total, err := s.GetMessages(ctx, "100", 0, 30)
	if err != nil {
		t.Fatal(err)
	}
	if total != 50 {
		t.Errorf("total = %d, want 50", total)
	}
	if len(msgs) != 30 {
		t.Fatalf("page len = %d, want 30", len(msgs))
	}
	if msgs[0].MsgID != 21 || msgs[29].MsgID != 50 {
		t.Errorf("page spans %d..%d, want 21..50", msgs[0].MsgID, msgs[29].MsgID)
	}

	// Older page, shorter than limit.
	msgs, _, err = s.GetMessages(ctx, "100", 30, 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 20 {
		t.Fatalf("page len = %d, want 20", len(msgs))
	}
	if msgs[0].MsgID != 1 || msgs[19].MsgID != 20 {
		t.Errorf("page spans %d..%d, want 1..20", msgs[0].MsgID, msgs[19].MsgID)
	}
}

func TestAddReactionToggle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, "")

	if err := s.SaveMessage(ctx, testMessage(1, "100", time.Now())); err != nil {
		t.Fatal(err)
	}

	reactions, err := s.AddReaction(ctx, "100", 1, "👍", ReactorMe, "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if reactions[ReactorMe] != "👍" {
		t.Errorf("reactions = %v, want me → 👍", reactions)
	}

	// Same emoji again toggles off and clears the map entirely.
	reactions, err = s.AddReaction(ctx, "100", 1, "👍", ReactorMe, "")
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if reactions != nil {
		t.Errorf("reactions = %v, want nil after toggle", reactions)
	}
	msg, err := s.GetMessage(ctx, "100", 1)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Reactions != nil {
		t.Errorf("stored reactions = %v, want cleared", msg.Reactions)
	}

	// Different emoji replaces rather than toggles.
	if _, err := s.AddReaction(ctx, "100", 1, "👍", "12", "Ada"); err != nil {
		t.Fatal(err)
	}
	reactions, err = s.AddReaction(ctx, "100", 1, "❤️", "12", "Ada")
	if err != nil {
		t.Fatal(err)
	}
	if reactions["12"] != "❤️" {
		t.Errorf("reactions = %v, want 12 → ❤️", reactions)
	}
	msg, err = s.GetMessage(ctx, "100", 1)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ReactorNames["12"] != "Ada" {
		t.Errorf("reactor names = %v, want 12 → Ada", msg.ReactorNames)
	}
}

func TestRemoveReaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, "")

	if err := s.SaveMessage(ctx, testMessage(1, "100", time.Now())); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddReaction(ctx, "100", 1, "👍", ReactorMe, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddReaction(ctx, "100", 1, "❤️", "12", "Ada"); err != nil {
		t.Fatal(err)
	}

	reactions, err := s.RemoveReaction(ctx, "100", 1, ReactorMe)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reactions[ReactorMe]; ok {
		t.Errorf("reactions = %v, me not removed", reactions)
	}
	if reactions["12"] != "❤️" {
		t.Errorf("reactions = %v, other reactor lost", reactions)
	}
}

func TestEditMessageHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, "")

	msg := testMessage(1, "100", time.Now())
	msg.Text = "first"
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	if _, err := s.EditMessage(ctx, "100", 1, "second"); err != nil {
		t.Fatal(err)
	}
	edited, err := s.EditMessage(ctx, "100", 1, "third")
	if err != nil {
		t.Fatal(err)
	}

	if edited.Text != "third" || !edited.Edited {
		t.Errorf("text = %q edited = %v", edited.Text, edited.Edited)
	}
	if len(edited.EditHistory) != 2 {
		t.Fatalf("history len = %d, want 2", len(edited.EditHistory))
	}
	if edited.EditHistory[0].Text != "first" || edited.EditHistory[1].Text != "second" {
		t.Errorf("history order wrong: %+v", edited.EditHistory)
	}

	missing, err := s.EditMessage(ctx, "100", 999, "x")
	if err != nil {
		t.Fatalf("EditMessage on missing: %v", err)
	}
	if missing != nil {
		t.Errorf("editing a missing message returned %+v, want nil", missing)
	}
}

func TestDeleteMessagesRemovesMedia(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mediaDir := t.TempDir()
	s := newTestStore(t, mediaDir)

	mediaFile := "1.jpg"
	if err := os.WriteFile(filepath.Join(mediaDir, mediaFile), []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}

	msg := testMessage(1, "100", time.Now())
	msg.MediaType = "photo"
	msg.MediaFile = mediaFile
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveMessage(ctx, testMessage(2, "100", time.Now())); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteMessages(ctx, "100", []int64{1}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := os.Stat(filepath.Join(mediaDir, mediaFile)); !os.IsNotExist(err) {
		t.Error("media file not removed with its message")
	}
	_, total, err := s.GetMessages(ctx, "100", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestChatIDForMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, "")

	if err := s.SaveMessage(ctx, testMessage(7, "100", time.Now().Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveMessage(ctx, testMessage(7, "200", time.Now())); err != nil {
		t.Fatal(err)
	}

	chatID, err := s.ChatIDForMessage(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if chatID != "200" {
		t.Errorf("chat id = %q, want newest (200)", chatID)
	}

	chatID, err = s.ChatIDForMessage(ctx, 999)
	if err != nil {
		t.Fatal(err)
	}
	if chatID != "" {
		t.Errorf("chat id = %q, want empty for unknown message", chatID)
	}
}
