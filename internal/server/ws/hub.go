// Package ws streams attestation events from the signal bus to websocket
// clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// DefaultChannels are the bus channels relayed to clients.
var DefaultChannels = []string{"attestation.built", "attestation.skipped"}

// Envelope wraps every frame sent to clients.
type Envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Config carries metadata reported to clients when they connect.
type Config struct {
	Mode           string
	DefaultChainID uint64
	StartedAt      time.Time
	// Channels overrides DefaultChannels when non-empty.
	Channels []string
	// AllowedOrigins restricts the websocket handshake; empty allows all.
	AllowedOrigins []string
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	subs map[string]bool
}

// controlMsg is what clients send to change their subscriptions:
// {"action":"subscribe","channels":["attestation.built"]}.
type controlMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Hub fans bus messages out to the connected clients subscribed to them.
type Hub struct {
	bus      domain.SignalBus
	logger   *slog.Logger
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]bool

	broadcast  chan Envelope
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

// NewHub creates a Hub. bus may be nil, in which case only the connect status
// frame is ever sent.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = DefaultChannels
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))

	h := &Hub{
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		cfg:        cfg,
		clients:    make(map[*client]bool),
		broadcast:  make(chan Envelope, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run relays bus messages until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	if h.bus != nil {
		for _, ch := range h.cfg.Channels {
			go h.relay(ctx, ch)
		}
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
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("clients", n))

		case env := <-h.broadcast:
			frame, err := json.Marshal(env)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(env.Channel) {
					continue
				}
				select {
				case c.send <- frame:
				default:
					h.logger.Warn("dropping message for slow client", slog.String("channel", env.Channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish relays a message to subscribed clients without going through the
// bus. It is used in offline mode.
func (h *Hub) Publish(channel string, data []byte) {
	select {
	case h.broadcast <- Envelope{Channel: channel, Data: data}:
	case <-h.done:
	}
}

func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("subscribe failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				return
			}
			if !json.Valid(data) {
				h.logger.Warn("dropping non-JSON bus message", slog.String("channel", channel))
				continue
			}
			select {
			case h.broadcast <- Envelope{Channel: channel, Data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// HandleWS upgrades the connection and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(h.cfg.Channels)),
	}
	for _, ch := range h.cfg.Channels {
		c.subs[ch] = true
	}

	// Queued before registration: once Run owns c it may close c.send at
	// any time, and the status frame must precede every broadcast.
	c.sendStatus()

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) sendStatus() {
	status, err := json.Marshal(map[string]any{
		"mode":             c.hub.cfg.Mode,
		"default_chain_id": c.hub.cfg.DefaultChainID,
		"uptime_seconds":   int64(time.Since(c.hub.cfg.StartedAt).Seconds()),
		"channels":         c.hub.cfg.Channels,
	})
	if err != nil {
		return
	}
	frame, err := json.Marshal(Envelope{Channel: "status", Data: status})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg controlMsg
		if json.Unmarshal(message, &msg) == nil {
			c.apply(msg)
		}
	}
}

func (c *client) apply(msg controlMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// isSubscribed matches exact names and trailing-"*" prefixes.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// LocalBus returns a domain.SignalBus that publishes straight to this hub's
// clients. Subscribe is not supported.
func (h *Hub) LocalBus() domain.SignalBus {
	return localBus{h: h}
}

type localBus struct {
	h *Hub
}

func (b localBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.h.Publish(channel, payload)
	return nil
}

func (b localBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("ws: local bus cannot subscribe")
}
