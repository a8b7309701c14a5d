package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the feed is read-only and carries no secrets
	},
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsEvent is the envelope for every message pushed to subscribers.
type wsEvent struct {
	Type string  `json:"type"`
	Job  JobView `json:"job"`
}

// subscriber is one WebSocket connection listening for job events.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans job events out to WebSocket subscribers. Registration,
// unregistration, and broadcast all flow through channels serviced by Run,
// so the subscriber set has a single owner goroutine.
type Hub struct {
	log *slog.Logger

	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan []byte
	done       chan struct{}

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:         log,
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		broadcast:   make(chan []byte, 256),
		done:        make(chan struct{}),
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Run services the hub channels until the context is cancelled, then closes
// every subscriber connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for sub := range h.subscribers {
				close(sub.send)
				delete(h.subscribers, sub)
			}
			h.mu.Unlock()
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = struct{}{}
			h.mu.Unlock()
			h.log.Debug("websocket subscriber connected", "subscribers", h.subscriberCount())

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.send)
			}
			h.mu.Unlock()
			h.log.Debug("websocket subscriber disconnected", "subscribers", h.subscriberCount())

		case message := <-h.broadcast:
			h.mu.RLock()
			for sub := range h.subscribers {
				select {
				case sub.send <- message:
				default:
					// Slow consumer; drop the event rather than stall the hub.
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) subscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// NotifyJob implements jobNotifier by broadcasting the finished job to all
// subscribers.
func (h *Hub) NotifyJob(view JobView) {
	payload, err := json.Marshal(wsEvent{Type: "job", Job: view})
	if err != nil {
		h.log.Error("failed to encode job event", "error", err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.log.Warn("websocket broadcast queue full, dropping event", "job", view.ID)
	}
}

// HandleWebSocket upgrades the connection and attaches it to the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, 64),
	}
	select {
	case h.register <- sub:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writeLoop(sub)
	go h.readLoop(sub)
}

// writeLoop pushes queued events and periodic pings to one subscriber.
func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.send:
			if !ok {
				sub.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(wsWriteWait))
				return
			}
			sub.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames and unregisters on close. The feed is
// one-way; reading is only needed to notice disconnects and answer pings.
func (h *Hub) readLoop(sub *subscriber) {
	defer func() {
		select {
		case h.unregister <- sub:
		case <-h.done:
		}
		sub.conn.Close()
	}()

	sub.conn.SetReadLimit(512)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}
