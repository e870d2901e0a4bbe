package stream

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"stationmon/internal/hub"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Options configures WebSocket timing.
// Params: keepalive and write deadlines (zero uses defaults) and logger.
// Returns: handler settings.
type Options struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	Buffer     int
	Logger     *slog.Logger
}

// Handler upgrades HTTP requests and streams hub events to each client.
// Params: hub source and upgrader settings.
// Returns: http.Handler for the stream endpoint.
type Handler struct {
	events   *hub.Hub
	upgrader websocket.Upgrader
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHandler creates stream handler bound to hub.
func NewHandler(events *hub.Hub, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = writeWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = pongWait
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = (opts.PongWait * 9) / 10
	}
	return &Handler{
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		opts:    opts,
		logger:  opts.Logger,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades connection and registers one hub subscriber for it.
func (h *Handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	conn, err := h.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("stream upgrade failed", "remote", request.RemoteAddr, "error", err.Error())
		return
	}

	c := &client{
		conn:   conn,
		sub:    h.events.SubscribeBuffer(h.opts.Buffer),
		opts:   h.opts,
		logger: h.logger,
		done:   make(chan struct{}),
	}
	if !h.register(c) {
		c.sub.Close()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.opts.WriteWait))
		_ = conn.Close()
		return
	}
	h.logger.Info("stream client connected", "remote", conn.RemoteAddr().String(), "subscription_id", c.sub.ID)

	go c.writePump()
	go func() {
		c.readPump()
		h.unregister(c)
	}()
}

// Len returns number of connected clients.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.sub.Close()
	}
}

func (h *Handler) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Handler) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.sub.Close()
	<-c.done
	h.logger.Info("stream client disconnected",
		"remote", c.conn.RemoteAddr().String(),
		"subscription_id", c.sub.ID,
		"dropped", c.sub.Dropped(),
	)
}

// client pairs one connection with one hub subscription.
type client struct {
	conn   *websocket.Conn
	sub    *hub.Subscription
	opts   Options
	logger *slog.Logger
	done   chan struct{}
}

// readPump consumes control frames until the peer goes away.
// Client messages are ignored; the stream is server push only.
func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("stream read failed", "subscription_id", c.sub.ID, "error", err.Error())
			}
			return
		}
	}
}

// writePump forwards hub events and pings; it owns all connection writes.
func (c *client) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.done)
	}()
	for {
		select {
		case event, ok := <-c.sub.Events():
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Warn("stream write failed", "subscription_id", c.sub.ID, "seq", event.Seq, "error", err.Error())
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
