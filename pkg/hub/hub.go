// Package hub fans dashboard events out to websocket clients.
//
// Clients subscribe to one topic when they connect. Published payloads are
// wrapped as {"type": topic, "payload": ...} and queued per client; a client
// whose queue is full is dropped rather than slowing down the publisher.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Topics used by the dashboard.
const (
	TopicFeed   = "feed"
	TopicAlerts = "alerts"
)

const (
	sendBuffer      = 256
	broadcastBuffer = 64
)

// Message is the envelope written to clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Recorder receives hub instrumentation. A nil Recorder disables it.
type Recorder interface {
	SetClients(topic string, n int)
}

type envelope struct {
	topic string
	data  []byte
}

// Hub maintains the set of active clients per topic and broadcasts
// messages to them. Run must be running for clients to be served.
type Hub struct {
	logger   *slog.Logger
	recorder Recorder
	upgrader websocket.Upgrader

	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
	done       chan struct{}
	closeOnce  sync.Once

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

// New returns a hub. A nil logger uses slog.Default.
func New(logger *slog.Logger, recorder Recorder) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger,
		recorder: recorder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, broadcastBuffer),
		done:       make(chan struct{}),
		clients:    make(map[string]map[*Client]struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is canceled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[c.topic]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.topic] = set
			}
			set[c] = struct{}{}
			n := len(set)
			h.mu.Unlock()
			h.setClients(c.topic, n)
			h.logger.Debug("websocket client registered", "topic", c.topic, "remote", c.conn.RemoteAddr().String())

		case c := <-h.unregister:
			h.remove(c)

		case env := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for c := range h.clients[env.topic] {
				select {
				case c.send <- env.data:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.logger.Warn("websocket client send buffer full, removing", "topic", c.topic, "remote", c.conn.RemoteAddr().String())
				h.remove(c)
			}
		}
	}
}

// remove runs on the Run goroutine only.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	set := h.clients[c.topic]
	if _, ok := set[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, c)
	close(c.send)
	n := len(set)
	h.mu.Unlock()

	h.setClients(c.topic, n)
	h.logger.Debug("websocket client unregistered", "topic", c.topic)
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, topic)
		h.setClients(topic, 0)
	}
}

func (h *Hub) setClients(topic string, n int) {
	if h.recorder != nil {
		h.recorder.SetClients(topic, n)
	}
}

// Publish queues payload for every client of topic. It never blocks: when
// the hub is stopped or its queue is full the message is dropped.
func (h *Hub) Publish(topic string, payload any) {
	data, err := json.Marshal(Message{Type: topic, Payload: payload})
	if err != nil {
		h.logger.Error("failed to marshal websocket message", "topic", topic, "error", err)
		return
	}

	select {
	case <-h.done:
	case h.broadcast <- envelope{topic: topic, data: data}:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping message", "topic", topic)
	}
}

// Count returns the number of clients subscribed to topic.
func (h *Hub) Count(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// ServeWS upgrades the request and subscribes the connection to topic.
// A non-nil initial payload is sent before any broadcast.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, topic string, initial any) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, topic: topic, send: make(chan []byte, sendBuffer)}
	if initial != nil {
		data, err := json.Marshal(Message{Type: topic, Payload: initial})
		if err == nil {
			c.send <- data
		}
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
