// Package pipeline turns normalized platform events into durable state
// changes and UI pushes: persist the record, maintain the chat
// directory, apply sender policy, send the auto-reply, broadcast.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/telebridge/telebridge/internal/config"
	"github.com/telebridge/telebridge/internal/directory"
	"github.com/telebridge/telebridge/internal/hub"
	"github.com/telebridge/telebridge/internal/platform"
	"github.com/telebridge/telebridge/internal/policy"
	"github.com/telebridge/telebridge/internal/store"
)

// Pipeline owns the inbound event path. Outbound operations go through
// the HTTP handlers, which share the same store and hub.
type Pipeline struct {
	client    platform.Client
	store     *store.Store
	directory *directory.Directory
	policy    *policy.Policy
	hub       *hub.Hub
	logger    *slog.Logger

	autoReply string
	cooldown  time.Duration
}

// New builds the pipeline from the auto-reply config and its
// collaborators.
func New(cfg config.AutoReplyConfig, client platform.Client, st *store.Store,
	dir *directory.Directory, pol *policy.Policy, h *hub.Hub, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		client:    client,
		store:     st,
		directory: dir,
		policy:    pol,
		hub:       h,
		logger:    log.With(slog.String("service", "pipeline")),
		autoReply: cfg.Message,
		cooldown:  cfg.CooldownDuration(),
	}
}

// Handlers binds the pipeline to a backend's callback surface. The
// context is the ingestion loop's; it cancels in-flight downloads and
// writes on shutdown.
func (p *Pipeline) Handlers(ctx context.Context) platform.Handlers {
	return platform.Handlers{
		OnMessage:  func(ev platform.MessageEvent) error { return p.HandleMessage(ctx, ev) },
		OnEdited:   func(ev platform.MessageEvent) error { return p.HandleEdited(ctx, ev) },
		OnReaction: func(ev platform.ReactionEvent) error { return p.HandleReaction(ctx, ev) },
		OnDeleted:  func(ev platform.DeleteEvent) error { return p.HandleDeleted(ctx, ev) },
	}
}

// HandleMessage ingests one new inbound message. Policy rejections drop
// silently; media failures degrade to a textless record; storage
// failures propagate.
func (p *Pipeline) HandleMessage(ctx context.Context, ev platform.MessageEvent) error {
	if ev.Sender == nil || ev.Sender.IsBot {
		return nil
	}
	if !p.policy.Allowed(ev.Sender.ID, ev.Chat.Kind) {
		p.logger.Debug("sender rejected by policy",
			slog.Int64("sender_id", ev.Sender.ID), slog.String("chat_id", ev.Chat.ID))
		return nil
	}

	// The auto-reply decision reads the interaction time recorded by the
	// previous exchange, so it must happen before this one is recorded.
	sendReply := p.shouldAutoReply(ev.Chat)

	entry, err := p.directory.UpdateChat(ctx, ev.Chat)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	if err := p.directory.TouchInteraction(ctx, ev.Chat.ID); err != nil {
		return err
	}

	msg := p.buildRecord(ev)
	p.downloadMedia(ctx, ev, &msg)

	if err := p.store.SaveMessage(ctx, msg); err != nil {
		return err
	}
	if err := p.directory.IncrementUnread(ctx, ev.Chat.ID); err != nil {
		return err
	}

	if sendReply {
		if _, err := p.client.SendText(ctx, ev.Chat.ID, p.autoReply, 0); err != nil {
			p.logger.Warn("auto-reply failed", slog.String("chat_id", ev.Chat.ID), slog.Any("error", err))
		}
	}

	p.hub.Broadcast(hub.NewMessageEvent(ev.Chat.ID, msg, entry))
	return nil
}

// HandleEdited applies a platform-side edit. An edit for a message the
// bridge never saw is stored as a fresh record instead of erroring.
func (p *Pipeline) HandleEdited(ctx context.Context, ev platform.MessageEvent) error {
	if ev.Sender != nil && !p.policy.Allowed(ev.Sender.ID, ev.Chat.Kind) {
		return nil
	}
	existing, err := p.store.GetMessage(ctx, ev.Chat.ID, ev.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		msg := p.buildRecord(ev)
		msg.Edited = true
		if err := p.store.SaveMessage(ctx, msg); err != nil {
			return err
		}
		p.hub.Broadcast(hub.MessageEditedEvent(ev.Chat.ID, ev.ID, msg))
		return nil
	}

	edited, err := p.store.EditMessage(ctx, ev.Chat.ID, ev.ID, ev.Text)
	if err != nil {
		return err
	}
	p.hub.Broadcast(hub.MessageEditedEvent(ev.Chat.ID, ev.ID, edited))
	return nil
}

// HandleReaction applies a reaction change. A reaction on a message the
// bridge never stored is dropped.
func (p *Pipeline) HandleReaction(ctx context.Context, ev platform.ReactionEvent) error {
	if ev.Reactor == nil {
		return nil
	}
	existing, err := p.store.GetMessage(ctx, ev.ChatID, ev.MessageID)
	if err != nil {
		return err
	}
	if existing == nil {
		p.logger.Debug("reaction on unknown message",
			slog.String("chat_id", ev.ChatID), slog.Int64("msg_id", ev.MessageID))
		return nil
	}

	reactorKey := strconv.FormatInt(ev.Reactor.ID, 10)
	if reactorKey == store.ReactorMe {
		// The operator's slot is written only through the REST API.
		return nil
	}
	var reactions map[string]string
	if ev.Emoji == "" {
		reactions, err = p.store.RemoveReaction(ctx, ev.ChatID, ev.MessageID, reactorKey)
	} else {
		name := ev.Reactor.FullName()
		if name == "" {
			name = ev.Reactor.Username
		}
		reactions, err = p.store.AddReaction(ctx, ev.ChatID, ev.MessageID, ev.Emoji, reactorKey, name)
	}
	if err != nil {
		return err
	}
	p.hub.Broadcast(hub.ReactionUpdateEvent(ev.ChatID, ev.MessageID, reactions))
	return nil
}

// HandleDeleted removes locally stored records for a platform-side
// deletion. When the event carries no chat id, each message id is
// resolved through the reverse index.
func (p *Pipeline) HandleDeleted(ctx context.Context, ev platform.DeleteEvent) error {
	byChat := map[string][]int64{}
	if ev.ChatID != "" {
		byChat[ev.ChatID] = ev.MessageIDs
	} else {
		for _, msgID := range ev.MessageIDs {
			chatID, err := p.store.ChatIDForMessage(ctx, msgID)
			if err != nil {
				return err
			}
			if chatID == "" {
				continue
			}
			byChat[chatID] = append(byChat[chatID], msgID)
		}
	}
	for chatID, ids := range byChat {
		if err := p.store.DeleteMessages(ctx, chatID, ids); err != nil {
			return err
		}
		p.hub.Broadcast(hub.MessagesDeletedEvent(chatID, ids, true))
	}
	return nil
}

// shouldAutoReply gates the automatic reply: private chats only, first
// contact or past the cooldown window.
func (p *Pipeline) shouldAutoReply(chat platform.Chat) bool {
	if p.autoReply == "" || chat.Kind.IsGroup() {
		return false
	}
	last, known := p.directory.LastInteraction(chat.ID)
	if !known || last.IsZero() {
		return true
	}
	return time.Since(last) > p.cooldown
}

func (p *Pipeline) buildRecord(ev platform.MessageEvent) store.Message {
	msg := store.Message{
		MsgID:     ev.ID,
		ChatID:    ev.Chat.ID,
		Direction: store.DirectionIn,
		Text:      ev.Text,
		Timestamp: ev.Timestamp,
		ReplyTo:   ev.ReplyTo,
		Source:    ev.Source,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if ev.Sender != nil {
		msg.SenderID = ev.Sender.ID
		msg.SenderName = ev.Sender.FullName()
	}
	if ev.Forward != nil {
		msg.ForwardedFrom = ev.Forward.FullName()
		msg.ForwardedFromUsername = ev.Forward.Username
	}
	return msg
}

// downloadMedia fetches the attachment into the chat's media folder and
// fills the record's media fields. Any failure leaves the record
// media-less.
func (p *Pipeline) downloadMedia(ctx context.Context, ev platform.MessageEvent, msg *store.Message) {
	if ev.Media == nil {
		return
	}
	dir, ok := p.directory.MediaDir(ev.Chat.ID)
	if !ok {
		p.logger.Warn("no media dir for chat", slog.String("chat_id", ev.Chat.ID))
		return
	}
	dest := filepath.Join(dir, ev.Media.Filename)
	if err := p.client.DownloadFile(ctx, ev.Media.FileID, dest); err != nil {
		p.logger.Warn("media download failed",
			slog.String("chat_id", ev.Chat.ID), slog.Int64("msg_id", ev.ID), slog.Any("error", err))
		return
	}
	msg.MediaType = string(ev.Media.Kind)
	msg.MediaFile = ev.Media.Filename
}
