// Package events streams graph change events to websocket clients.
package events

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/memgraph/internal/graph"
	"github.com/p-blackswan/memgraph/internal/metrics"
)

// Config controls per-client buffering and keepalive.
type Config struct {
	SendBuffer   int           // queued messages per client, default 64
	WriteTimeout time.Duration // default 10s
	PingInterval time.Duration // default 30s
}

func (c *Config) defaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
}

// Message is the wire form of one change event.
type Message struct {
	Seq             uint64    `json:"seq"`
	Kind            string    `json:"kind"`
	NodeIDs         []string  `json:"node_ids,omitempty"`
	RelationshipIDs []string  `json:"relationship_ids,omitempty"`
	At              time.Time `json:"at"`
}

// Source is satisfied by the graph engine.
type Source interface {
	Subscribe(fn func(graph.Event)) (unsubscribe func())
}

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	kinds map[string]bool // empty means all
	once  sync.Once
}

func (c *client) remote() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

func (c *client) wants(kind string) bool {
	return len(c.kinds) == 0 || c.kinds[kind]
}

// Hub fans events out to connected clients. A client whose buffer is full
// is disconnected rather than allowed to stall the publisher.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub with no clients.
func NewHub(cfg Config, logger zerolog.Logger) *Hub {
	cfg.defaults()
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger.With().Str("component", "event_hub").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// SetMetrics enables the stream_clients gauge.
func (h *Hub) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// Attach subscribes the hub to src and returns the disposer.
func (h *Hub) Attach(src Source) func() {
	return src.Subscribe(h.Publish)
}

// Publish queues ev for every interested client. It never blocks.
func (h *Hub) Publish(ev graph.Event) {
	data, err := json.Marshal(Message{
		Seq:             ev.Seq,
		Kind:            string(ev.Kind),
		NodeIDs:         ev.NodeIDs,
		RelationshipIDs: ev.RelationshipIDs,
		At:              ev.At,
	})
	if err != nil {
		h.logger.Error().Err(err).Uint64("seq", ev.Seq).Msg("encoding event")
		return
	}

	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		if !c.wants(string(ev.Kind)) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn().Str("remote", c.remote()).Msg("dropping slow stream client")
		h.remove(c)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. ?kind=node_added,node_removed restricts the stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.cfg.SendBuffer), kinds: parseKinds(r.URL.Query().Get("kind"))}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.StreamClientConnected(1)
	}
	h.logger.Info().Str("remote", c.remote()).Msg("stream client connected")

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards inbound frames; it exists to process control frames
// and to notice the peer closing.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(2 * h.cfg.PingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * h.cfg.PingInterval))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		h.remove(c)
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// remove unregisters c and closes its queue once. The write loop sends a
// close frame and the connection is torn down when both loops exit.
func (h *Hub) remove(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.send)
		if h.metrics != nil {
			h.metrics.StreamClientConnected(-1)
		}
		if c.conn != nil {
			// Give the writer a moment to flush the close frame.
			time.AfterFunc(100*time.Millisecond, func() { c.conn.Close() })
		}
	})
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.Unlock()
	for _, c := range all {
		h.remove(c)
	}
}

func parseKinds(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	kinds := make(map[string]bool)
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[k] = true
		}
	}
	return kinds
}
