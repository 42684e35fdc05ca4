package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/coinpick/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	// sendBufferSize is the per-client outgoing queue.
	sendBufferSize = 256
)

// allEvents subscribes a client to every event type.
const allEvents = "*"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The game UI is served from a different origin during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed event types
	mu   sync.RWMutex
}

// subscribeMsg is the JSON frame a client sends to pick event types, e.g.
// {"action":"subscribe","events":["price_tick","countdown_tick"]}.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Events []string `json:"events"`
}

// Hub fans session events out to connected WebSocket clients. Events arrive
// either directly through HandleEvent or, when a SignalBus is configured,
// from the coinpick:events channel so every process sees the same stream.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	channel    string
	status     func() any
	mu         sync.RWMutex
	logger     *slog.Logger
}

type broadcastMsg struct {
	eventType string
	data      []byte
}

// Config wires the hub's optional inputs.
type Config struct {
	// Bus and Channel enable relaying from Redis Pub/Sub.
	Bus     domain.SignalBus
	Channel string
	// Status returns the value sent to a client right after it connects.
	Status func() any
}

// NewHub creates a Hub. Call Run before serving HandleWS.
func NewHub(logger *slog.Logger, cfg Config) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        cfg.Bus,
		channel:    cfg.Channel,
		status:     cfg.Status,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// HandleEvent queues ev for broadcast. It never blocks; events are dropped
// when the hub is saturated.
func (h *Hub) HandleEvent(ctx context.Context, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.ErrorContext(ctx, "marshal event", slog.String("error", err.Error()))
		return
	}
	h.enqueue(string(ev.Type), data)
}

func (h *Hub) enqueue(eventType string, data []byte) {
	select {
	case h.broadcast <- broadcastMsg{eventType: eventType, data: data}:
	default:
		h.logger.Warn("dropping event, hub saturated", slog.String("type", eventType))
	}
}

// Run is the hub's event loop. It exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil && h.channel != "" {
		go h.relay(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", h.clientCount()))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.eventType) {
					select {
					case c.send <- msg.data:
					default:
						h.logger.Warn("dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// relay forwards events published on the bus channel into the hub.
func (h *Hub) relay(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("channel", h.channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("relaying bus events", slog.String("channel", h.channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("bus subscription closed", slog.String("channel", h.channel))
				return
			}
			var head struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &head); err != nil {
				continue
			}
			h.enqueue(head.Type, data)
		}
	}
}

// HandleWS upgrades the request and registers the client, subscribed to all
// event types.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{allEvents: true},
	}

	h.register <- c
	c.sendInitialStatus()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump handles subscription frames until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription applies a subscribe or unsubscribe frame. The first
// explicit subscribe replaces the default catch-all.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		if c.subs[allEvents] && len(msg.Events) > 0 {
			delete(c.subs, allEvents)
		}
		for _, ev := range msg.Events {
			c.subs[ev] = true
		}
	case "unsubscribe":
		for _, ev := range msg.Events {
			delete(c.subs, ev)
		}
	}
}

// sendInitialStatus pushes the current round so a fresh client can render
// without waiting for the next event.
func (c *client) sendInitialStatus() {
	var payload any
	if c.hub.status != nil {
		payload = c.hub.status()
	}
	msg, err := json.Marshal(map[string]any{
		"type":    "session_status",
		"ts":      time.Now().UTC(),
		"payload": payload,
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) isSubscribed(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[allEvents] || c.subs[eventType]
}

// writePump sends queued events as text frames and keeps the connection
// alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ domain.EventSink = (*Hub)(nil)
