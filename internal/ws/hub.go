// Package ws streams newly ingested transactions to WebSocket subscribers.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chainscope/txgate/internal/observability"
	"github.com/chainscope/txgate/internal/storage"
)

const (
	// writeWait bounds a single write to a subscriber.
	writeWait = 10 * time.Second

	// pongWait is how long a subscriber may stay silent before the
	// connection is considered dead. Pings go out at a fraction of it.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is the per-subscriber outbound queue. A subscriber that
	// falls this far behind is disconnected rather than allowed to stall
	// the broadcast.
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin is validated by CORS middleware
	},
}

// Filter narrows the stream a subscriber receives. Zero values match all.
type Filter struct {
	// Account matches transactions where From or To equals the account.
	Account string

	// ProgramID matches the invoked program.
	ProgramID string
}

func (f Filter) matches(tx *storage.Transaction) bool {
	if f.Account != "" && tx.From != f.Account && tx.To != f.Account {
		return false
	}
	if f.ProgramID != "" && tx.ProgramID != f.ProgramID {
		return false
	}
	return true
}

// client is one connected subscriber.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	filter Filter
}

// Hub fans newly ingested transactions out to connected subscribers.
type Hub struct {
	logger observability.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHub creates a hub. Call Close on shutdown to disconnect subscribers.
func NewHub(logger observability.Logger) *Hub {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
		stopCh:  make(chan struct{}),
	}
}

// Broadcast delivers a transaction to every subscriber whose filter matches.
// Subscribers with a full queue are dropped.
func (h *Hub) Broadcast(tx *storage.Transaction) {
	payload, err := json.Marshal(tx)
	if err != nil {
		h.logger.Error("marshal broadcast transaction", observability.Error(err))
		return
	}

	h.mu.RLock()
	var stalled []*client
	for c := range h.clients {
		if !c.filter.matches(tx) {
			continue
		}
		select {
		case c.send <- payload:
			wsMessagesSentTotal.Inc()
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		h.logger.Warn("disconnecting stalled websocket subscriber")
		h.remove(c)
	}
}

// Subscribers returns the current number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all subscribers and rejects new ones.
func (h *Hub) Close() error {
	h.stopOnce.Do(func() { close(h.stopCh) })

	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	return nil
}

// ServeHTTP upgrades the request and registers the connection as a
// subscriber. Filters come from the account and program_id query parameters.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.stopCh:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", observability.Error(err))
		return
	}

	query := r.URL.Query()
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		filter: Filter{
			Account:   query.Get("account"),
			ProgramID: query.Get("program_id"),
		},
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	wsConnectionsGauge.Set(float64(h.Subscribers()))

	go c.writeLoop()
	go c.readLoop()
}

// remove drops a client and closes its queue.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	wsConnectionsGauge.Set(float64(h.Subscribers()))
}

// readLoop drains the connection so pings and close frames are processed.
// Subscribers are read-only; any payload they send is discarded.
func (c *client) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
