// Package statusbus fans out engine.Notify events to any locally connected
// UI over WebSocket. It is a local-only broadcaster, not a message queue:
// a client that isn't connected when an event fires simply misses it.
package statusbus

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// sendBuffer bounds how many unacknowledged messages queue per client before
// the hub starts dropping rather than blocking broadcast on a slow reader.
const sendBuffer = 32

// Message is one status event broadcast to every connected client.
type Message struct {
	Event  string    `json:"event"`
	Detail string    `json:"detail"`
	Time   time.Time `json:"time"`
}

// Hub tracks connected WebSocket clients and broadcasts Messages to all of
// them. Call Run in its own goroutine before Handler starts accepting
// connections.
type Hub struct {
	logger *slog.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan Message

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// New creates a Hub. Call Run to start its dispatch loop.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		logger:     logger,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Message, 64),
		clients:    make(map[*client]struct{}),
	}
}

// Run dispatches registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = nil
			h.mu.Unlock()

			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("statusbus: client send buffer full, dropping message", slog.String("client", c.id))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues msg for delivery to every connected client. Never blocks:
// a full dispatch queue drops the message rather than stalling the caller.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("statusbus: broadcast queue full, dropping message", slog.String("event", msg.Event))
	}
}

// Notify adapts Hub.Broadcast to engine.Notify's signature, stamping the
// event time at call time since time.Now belongs to the caller's clock.
func (h *Hub) Notify(event, detail string) {
	h.Broadcast(Message{Event: event, Detail: detail, Time: time.Now()})
}

// Handler upgrades an HTTP request to a WebSocket connection and registers
// the resulting client with the hub. Mount it at whatever path the local UI
// expects to dial.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			h.logger.Warn("statusbus: accepting websocket connection failed", slog.Any("error", err))
			return
		}

		c := newClient(conn)

		select {
		case h.register <- c:
		case <-r.Context().Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}

		c.writeLoop(r.Context())

		select {
		case h.unregister <- c:
		default:
			// hub's Run loop already exited and drained clients on shutdown
		}
	})
}

var nextClientID atomic.Uint64

type client struct {
	id   string
	conn *websocket.Conn
	send chan Message
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:   fmt.Sprintf("client-%d", nextClientID.Add(1)),
		conn: conn,
		send: make(chan Message, sendBuffer),
	}
}

// writeLoop relays queued messages to the socket until send is closed (by
// the hub, on unregister or shutdown) or the connection breaks. Blocks the
// calling goroutine for the connection's lifetime.
func (c *client) writeLoop(ctx context.Context) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			if err := wsjson.Write(ctx, c.conn, msg); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
