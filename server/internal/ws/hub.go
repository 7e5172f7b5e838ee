package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/spikeqc/server/internal/api"
	"github.com/obsidianstack/spikeqc/server/internal/store"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	// pingPeriod must stay below pongWait.
	pingPeriod  = (pongWait * 9) / 10
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	// Origins are restricted at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string               `json:"event"`
	Data  api.SnapshotResponse `json:"data"`
}

// Hub streams the quality snapshot to connected WebSocket clients every
// interval. A client that connects with ?session=<id> only receives that
// session and its alerts.
type Hub struct {
	store    *store.Store
	alerts   api.Alerts
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	session string
}

// New creates a Hub reading from st and al. al may be nil.
func New(st *store.Store, al api.Alerts, interval time.Duration) *Hub {
	return &Hub{
		store:    st,
		alerts:   al,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run broadcasts every interval until ctx is cancelled, then closes all
// connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			h.broadcast()
		}
	}
}

// ServeHTTP upgrades the request, sends the current snapshot at once and
// then keeps the client registered until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // upgrader already wrote the response
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, sendBufSize),
		session: r.URL.Query().Get("session"),
	}
	if data, err := encode(filter(api.BuildSnapshot(h.store, h.alerts), c.session)); err == nil {
		c.send <- data
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast() {
	h.mu.RLock()
	sessions := make(map[string]bool)
	for c := range h.clients {
		sessions[c.session] = true
	}
	h.mu.RUnlock()
	if len(sessions) == 0 {
		return
	}

	snap := api.BuildSnapshot(h.store, h.alerts)
	encoded := make(map[string][]byte, len(sessions))
	for session := range sessions {
		data, err := encode(filter(snap, session))
		if err != nil {
			slog.Error("ws: encode snapshot", "session", session, "err", err)
			return
		}
		encoded[session] = data
	}

	// Sends happen under the read lock so unregister cannot close a channel
	// mid-send.
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		data, ok := encoded[c.session]
		if !ok {
			continue // joined after encoding; already has its first snapshot
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.unregister(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// filter narrows snap to one session. An empty session keeps everything.
func filter(snap api.SnapshotResponse, session string) api.SnapshotResponse {
	if session == "" {
		return snap
	}
	out := snap
	out.Sessions = out.Sessions[:0:0]
	for _, s := range snap.Sessions {
		if s.SessionID == session {
			out.Sessions = append(out.Sessions, s)
		}
	}
	out.Alerts = out.Alerts[:0:0]
	for _, a := range snap.Alerts {
		if a.SessionID == session {
			out.Alerts = append(out.Alerts, a)
		}
	}
	return out
}

func encode(snap api.SnapshotResponse) ([]byte, error) {
	return json.Marshal(Message{Event: "snapshot", Data: snap})
}

// writePump forwards queued messages and sends pings. One goroutine per
// client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames until the peer goes away.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
