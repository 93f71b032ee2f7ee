package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/telebridge/telebridge/internal/directory"
	"github.com/telebridge/telebridge/internal/hub"
	"github.com/telebridge/telebridge/internal/platform"
	"github.com/telebridge/telebridge/internal/policy"
	"github.com/telebridge/telebridge/internal/store"
)

type fakeClient struct {
	sendErr     error
	deleteErr   error
	reactionErr error

	sentTexts []string
	reactions []string
	deleted   []int64
	nextMsgID int64
}

func (f *fakeClient) Self(ctx context.Context) (platform.BotInfo, error) {
	return platform.BotInfo{ID: 1, Name: "Bridge", Username: "bridge_bot"}, nil
}

func (f *fakeClient) SendText(ctx context.Context, chatID string, text string, replyTo int64) (platform.SentMessage, error) {
	if f.sendErr != nil {
		return platform.SentMessage{}, f.sendErr
	}
	f.nextMsgID++
	f.sentTexts = append(f.sentTexts, text)
	return platform.SentMessage{ID: f.nextMsgID}, nil
}

func (f *fakeClient) SendFile(ctx context.Context, chatID string, path string, caption string, replyTo int64) (platform.SentMessage, error) {
	if f.sendErr != nil {
		return platform.SentMessage{}, f.sendErr
	}
	f.nextMsgID++
	return platform.SentMessage{ID: f.nextMsgID}, nil
}

func (f *fakeClient) EditText(ctx context.Context, chatID string, msgID int64, text string) error {
	return nil
}

func (f *fakeClient) SetReaction(ctx context.Context, chatID string, msgID int64, emoji string) error {
	if f.reactionErr != nil {
		return f.reactionErr
	}
	f.reactions = append(f.reactions, emoji)
	return nil
}

func (f *fakeClient) DeleteMessages(ctx context.Context, chatID string, msgIDs []int64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, msgIDs...)
	return nil
}

func (f *fakeClient) DownloadFile(ctx context.Context, fileID string, dest string) error {
	return os.WriteFile(dest, []byte("media"), 0o644)
}

func (f *fakeClient) FetchProfilePhoto(ctx context.Context, chatID string, dest string) bool {
	return false
}

func (f *fakeClient) BanMember(ctx context.Context, chatID string, userID int64) error   { return nil }
func (f *fakeClient) UnbanMember(ctx context.Context, chatID string, userID int64) error { return nil }
func (f *fakeClient) PinMessage(ctx context.Context, chatID string, msgID int64) error   { return nil }
func (f *fakeClient) UnpinMessage(ctx context.Context, chatID string, msgID int64) error { return nil }
func (f *fakeClient) LeaveChat(ctx context.Context, chatID string) error                 { return nil }
func (f *fakeClient) MemberCount(ctx context.Context, chatID string) (int, error)        { return 3, nil }
func (f *fakeClient) Admins(ctx context.Context, chatID string) ([]platform.ChatMember, error) {
	return []platform.ChatMember{}, nil
}
func (f *fakeClient) Run(ctx context.Context, handlers platform.Handlers) error { return nil }

type fixture struct {
	echo      *echo.Echo
	client    *fakeClient
	store     *store.Store
	directory *directory.Directory
	policy    *policy.Policy
	hub       *hub.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	db, err := store.OpenDB(filepath.Join(root, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dir, err := directory.New(db, root, slog.Default())
	require.NoError(t, err)
	st := store.New(db, dir, slog.Default())
	pol, err := policy.Load(filepath.Join(root, "policy.toml"), slog.Default())
	require.NoError(t, err)

	client := &fakeClient{nextMsgID: 100}
	h := hub.New(slog.Default())

	e := echo.New()
	NewChatsHandler(slog.Default(), dir, st, pol).Register(e)
	NewMessagesHandler(slog.Default(), st, dir, client, h, 30).Register(e)
	NewGroupsHandler(slog.Default(), client, st).Register(e)
	NewMediaHandler(slog.Default(), dir, client, root).Register(e)

	return &fixture{echo: e, client: client, store: st, directory: dir, policy: pol, hub: h}
}

func (f *fixture) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedChat(t *testing.T, chatID string) {
	t.Helper()
	_, err := f.directory.UpdateChat(context.Background(), platform.Chat{
		ID: chatID, Kind: platform.ChatPrivate, FirstName: "Ada", LastName: "Lovelace", Username: "ada",
	})
	require.NoError(t, err)
}

func (f *fixture) seedMessages(t *testing.T, chatID string, count int) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	for i := 1; i <= count; i++ {
		require.NoError(t, f.store.SaveMessage(context.Background(), store.Message{
			MsgID:     int64(i),
			ChatID:    chatID,
			Direction: store.DirectionIn,
			Text:      "msg",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Source:    "lite",
		}))
	}
}

func TestListMessagesPagination(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedChat(t, "100")
	f.seedMessages(t, "100", 50)

	rec := f.request(t, http.MethodGet, "/api/messages/100?offset=0&limit=30", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Messages []store.Message `json:"messages"`
		Total    int             `json:"total"`
		HasMore  bool            `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 50, page.Total)
	require.Len(t, page.Messages, 30)
	require.True(t, page.HasMore)
	require.Equal(t, int64(21), page.Messages[0].MsgID)

	rec = f.request(t, http.MethodGet, "/api/messages/100?offset=30&limit=30", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Messages, 20)
	require.False(t, page.HasMore)
}

func TestSendPersistsAndBroadcasts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedChat(t, "100")

	rec := f.request(t, http.MethodPost, "/api/send", `{"user_id": "100", "text": "hi there"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status  string        `json:"status"`
		Message store.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, store.DirectionOut, resp.Message.Direction)

	stored, err := f.store.GetMessage(context.Background(), "100", resp.Message.MsgID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "hi there", stored.Text)
}

func TestSendAdapterFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.client.sendErr = echo.NewHTTPError(http.StatusBadGateway, "flood wait")

	rec := f.request(t, http.MethodPost, "/api/send", `{"user_id": 100, "text": "hi"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "error", resp["status"])
	require.NotEmpty(t, resp["error"])
}

func TestDeleteForEveryoneFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedChat(t, "100")
	f.seedMessages(t, "100", 1)
	f.client.deleteErr = echo.NewHTTPError(http.StatusBadRequest, "too old")

	rec := f.request(t, http.MethodDelete, "/api/messages", `{"user_id": "100", "msg_ids": [1]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// The local record survives a refused platform delete.
	msg, err := f.store.GetMessage(context.Background(), "100", 1)
	require.NoError(t, err)
	require.NotNil(t, msg)
}

func TestDeleteLocalOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedChat(t, "100")
	f.seedMessages(t, "100", 1)
	f.client.deleteErr = echo.NewHTTPError(http.StatusBadRequest, "too old")

	// for_everyone=false skips the platform entirely.
	rec := f.request(t, http.MethodDelete, "/api/messages", `{"user_id": "100", "msg_ids": [1], "for_everyone": false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	msg, err := f.store.GetMessage(context.Background(), "100", 1)
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestReactToggle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedChat(t, "100")
	f.seedMessages(t, "100", 1)

	rec := f.request(t, http.MethodPost, "/api/react", `{"user_id": "100", "msg_id": 1, "emoji": "👍"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	msg, err := f.store.GetMessage(context.Background(), "100", 1)
	require.NoError(t, err)
	require.Equal(t, "👍", msg.Reactions[store.ReactorMe])

	// Same emoji toggles the reaction off, clearing it on the platform.
	rec = f.request(t, http.MethodPost, "/api/react", `{"user_id": "100", "msg_id": 1, "emoji": "👍"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	msg, err = f.store.GetMessage(context.Background(), "100", 1)
	require.NoError(t, err)
	require.Nil(t, msg.Reactions)
	require.Equal(t, []string{"👍", ""}, f.client.reactions)
}

func TestReactUnknownMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/api/react", `{"user_id": "100", "msg_id": 9, "emoji": "👍"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEditAndHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedChat(t, "100")
	f.seedMessages(t, "100", 1)

	rec := f.request(t, http.MethodPost, "/api/edit-message", `{"user_id": "100", "msg_id": 1, "text": "edited"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/edit-history/100/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		EditHistory []store.EditEntry `json:"edit_history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.EditHistory, 1)
	require.Equal(t, "msg", resp.EditHistory[0].Text)
}

func TestForward(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedChat(t, "100")
	f.seedChat(t, "200")
	f.seedMessages(t, "100", 2)

	rec := f.request(t, http.MethodPost, "/api/forward",
		`{"from_user_id": "100", "to_user_ids": ["200"], "msg_ids": [1, 2]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status  string          `json:"status"`
		Results []forwardResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		require.Equal(t, "ok", r.Status)
		require.Equal(t, "200", r.To)
	}
	require.Contains(t, f.client.sentTexts[0], "Forwarded from @ada")

	all, err := f.store.GetAllMessages(context.Background(), "200")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestListChats(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedChat(t, "100")
	f.seedMessages(t, "100", 3)
	require.NoError(t, f.policy.Block(100))

	rec := f.request(t, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var chats []chatSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chats))
	require.Len(t, chats, 1)
	require.Equal(t, "Ada Lovelace", chats[0].FullName)
	require.True(t, chats[0].IsBanned)
	require.NotNil(t, chats[0].LastMessage)
	require.Equal(t, int64(3), chats[0].LastMessage.MsgID)
}

func TestBlockUnblock(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/api/block", `{"user_id": 42}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.policy.IsBanned(42))

	rec = f.request(t, http.MethodPost, "/api/unblock", `{"user_id": "42"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, f.policy.IsBanned(42))
}

func TestClearUnread(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedChat(t, "100")
	require.NoError(t, f.directory.IncrementUnread(context.Background(), "100"))

	rec := f.request(t, http.MethodPost, "/api/clear-unread", `{"user_id": "100"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, f.directory.Get("100").UnreadCount)
}

func TestDeleteChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedChat(t, "100")
	f.seedMessages(t, "100", 2)

	rec := f.request(t, http.MethodDelete, "/api/users/100", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, f.directory.Get("100"))

	_, total, err := f.store.GetMessages(context.Background(), "100", 0, 10)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestMediaNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedChat(t, "100")

	rec := f.request(t, http.MethodGet, "/api/media/100/nope.jpg", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/media/999/file.jpg", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMediaServesFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seedChat(t, "100")
	dir, ok := f.directory.MediaDir("100")
	require.True(t, ok)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.jpg"), []byte("img-bytes"), 0o644))

	rec := f.request(t, http.MethodGet, "/api/media/100/1.jpg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "img-bytes", rec.Body.String())
	require.Contains(t, rec.Header().Get(echo.HeaderContentType), "image/jpeg")
}

func TestBotInfoCached(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.request(t, http.MethodGet, "/api/bot-info", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info platform.BotInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, "bridge_bot", info.Username)
}

func TestGroupInfo(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.NoError(t, f.store.SaveMessage(context.Background(), store.Message{
		MsgID: 1, ChatID: "-500", Direction: store.DirectionIn,
		Text: "hi", Timestamp: time.Now(), SenderID: 12, SenderName: "Ada",
	}))

	rec := f.request(t, http.MethodGet, "/api/group-info/-500", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		MemberCount   int            `json:"member_count"`
		ActiveMembers []activeMember `json:"active_members"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.MemberCount)
	require.Len(t, resp.ActiveMembers, 1)
	require.Equal(t, "Ada", resp.ActiveMembers[0].Name)
}
