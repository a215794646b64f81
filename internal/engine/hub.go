package engine

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"trading-formulas/internal/metrics"
	"trading-formulas/internal/model"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans resolved results out to WebSocket clients. A new client first
// receives the latest result of every channel.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	latest  map[string][]byte // channel -> last envelope
	seq     int64
	prom    *metrics.Metrics
}

// NewHub returns an empty hub.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		latest:  make(map[string][]byte),
		prom:    m,
	}
}

// Run closes every client when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	for c := range h.clients {
		c.conn.Close()
	}
	h.mu.Unlock()
}

// Broadcast sends r to every client whose filter matches.
func (h *Hub) Broadcast(r *model.Result) {
	channel := r.PubSubChannel()
	quoted, err := json.Marshal(channel)
	if err != nil {
		log.Printf("[engine] ws channel %q: %v", channel, err)
		return
	}
	data := r.JSON()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	buf := make([]byte, 0, len(quoted)+len(data)+64)
	buf = append(buf, `{"channel":`...)
	buf = append(buf, quoted...)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	h.latest[channel] = buf
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(r) {
			continue
		}
		select {
		case c.send <- buf:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request. The optional block and stream query
// parameters restrict what the client receives.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[engine] ws upgrade error: %v", err)
		return
	}
	c := &client{
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h,
		block:  r.URL.Query().Get("block"),
		stream: r.URL.Query().Get("stream"),
	}

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	for _, env := range h.latest {
		if c.matchesEnvelope(env) {
			select {
			case c.send <- env:
			default:
			}
		}
	}
	h.mu.Unlock()
	if h.prom != nil {
		h.prom.WSClients.Set(float64(count))
	}
	log.Printf("[engine] ws client connected (%d total)", count)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if h.prom != nil {
		h.prom.WSClients.Set(float64(count))
	}
}

// client is a single WebSocket peer.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	block  string
	stream string
}

func (c *client) matches(r *model.Result) bool {
	return (c.block == "" || c.block == r.Block) && (c.stream == "" || c.stream == r.Stream)
}

func (c *client) matchesEnvelope(env []byte) bool {
	if c.block == "" && c.stream == "" {
		return true
	}
	var e struct{ Data model.Result }
	if err := json.Unmarshal(env, &e); err != nil {
		return false
	}
	return c.matches(&e.Data)
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and detects disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		log.Println("[engine] ws client disconnected")
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
