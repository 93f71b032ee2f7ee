// Package hub fans state-change events out to connected web UI
// subscribers over WebSocket.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is the write side of a subscriber connection. gorilla's *Conn
// satisfies it; tests substitute their own.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Hub is the subscriber set. Add, Remove and Broadcast may be called
// concurrently from the ingestion loop and the HTTP handlers.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[Conn]struct{}
}

// New builds an empty hub.
func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		logger: log.With(slog.String("service", "hub")),
		conns:  map[Conn]struct{}{},
	}
}

// Add registers a subscriber.
func (h *Hub) Add(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

// Remove drops a subscriber without closing it; the caller owns the
// connection's lifecycle on its own read loop.
func (h *Hub) Remove(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast serializes the event once and writes it to every
// subscriber. Subscribers whose write fails are closed and pruned;
// one dead connection never blocks delivery to the rest.
func (h *Hub) Broadcast(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event failed", slog.String("type", event.Type), slog.Any("error", err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	var dead []Conn
	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		_ = conn.Close()
		delete(h.conns, conn)
	}
	if len(dead) > 0 {
		h.logger.Debug("pruned dead subscribers", slog.Int("count", len(dead)))
	}
}
