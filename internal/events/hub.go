// Package events broadcasts sync events to local UI clients over WebSocket.
package events

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/crafttrack/internal/logging"
	syncpkg "github.com/kimhsiao/crafttrack/internal/sync"
	"github.com/kimhsiao/crafttrack/internal/uuid"
)

// Event types
const (
	EventSyncStarted   = "sync.started"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
	EventSyncSkipped   = "sync.skipped"
	EventConnectivity  = "connectivity.changed"
)

const (
	sendBuffer = 64
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// localOrigin accepts non-browser clients and pages served from loopback.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Envelope wraps every message sent to clients.
type Envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

type message struct {
	typ     string
	payload []byte
}

// client is one WebSocket connection.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu            sync.Mutex
	subscriptions map[string]bool
}

// wants reports whether the client receives typ. A client without
// subscriptions receives everything.
func (c *client) wants(typ string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[typ]
}

// Hub maintains client connections and broadcasts messages. It implements
// sync.SyncEventHandler.
type Hub struct {
	clients    map[string]*client
	broadcast  chan message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	closeOnce  sync.Once

	mu    sync.RWMutex
	count int
}

// NewHub creates a Hub and starts its loop.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[string]*client),
		broadcast:  make(chan message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

// run owns the client map.
func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.setCount(0)
			return

		case c := <-h.register:
			h.clients[c.id] = c
			h.setCount(len(h.clients))
			logging.Debug("WebSocket client connected", map[string]interface{}{"client": c.id, "total": len(h.clients)})

		case c := <-h.unregister:
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.setCount(len(h.clients))
			logging.Debug("WebSocket client disconnected", map[string]interface{}{"client": c.id, "total": len(h.clients)})

		case m := <-h.broadcast:
			for id, c := range h.clients {
				if !c.wants(m.typ) {
					continue
				}
				select {
				case c.send <- m.payload:
				default:
					// Slow client; drop it.
					close(c.send)
					delete(h.clients, id)
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Broadcast sends a message to every subscribed client. It never blocks;
// messages are dropped when the hub is saturated or closed.
func (h *Hub) Broadcast(messageType string, data map[string]interface{}) {
	payload, err := json.Marshal(Envelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		logging.Warn("Failed to marshal WebSocket message", map[string]interface{}{"error": err.Error()})
		return
	}
	select {
	case <-h.done:
	case h.broadcast <- message{typ: messageType, payload: payload}:
	default:
		logging.Warn("WebSocket broadcast queue full, dropping message", map[string]interface{}{"type": messageType})
	}
}

// OnSyncEvent forwards a sync pass event to clients.
func (h *Hub) OnSyncEvent(event syncpkg.SyncEvent) {
	data := map[string]interface{}{}
	if event.Message != "" {
		data["message"] = event.Message
	}
	if r := event.Result; r != nil {
		data["pushed"] = r.TotalPushed()
		data["pulled"] = r.TotalPulled()
		data["deleted"] = r.Deleted
		data["deferred"] = r.Deferred
		data["errors"] = len(r.Errors)
		data["duration_ms"] = r.Duration.Milliseconds()
	}

	switch event.Type {
	case syncpkg.SyncEventStarted:
		h.Broadcast(EventSyncStarted, data)
	case syncpkg.SyncEventCompleted:
		h.Broadcast(EventSyncCompleted, data)
	case syncpkg.SyncEventFailed:
		h.Broadcast(EventSyncFailed, data)
	case syncpkg.SyncEventSkipped:
		h.Broadcast(EventSyncSkipped, data)
	}
}

// BroadcastConnectivity notifies clients of an online/offline transition.
func (h *Hub) BroadcastConnectivity(online bool) {
	h.Broadcast(EventConnectivity, map[string]interface{}{"online": online})
}

// ServeHTTP upgrades the request and attaches a client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := &client{
		id:            uuid.New(),
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		hub:           h,
		subscriptions: make(map[string]bool),
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

// readPump handles client control messages.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("WebSocket read error", map[string]interface{}{"client": c.id, "error": err.Error()})
			}
			return
		}

		var msg struct {
			Action string   `json:"action"`
			Events []string `json:"events"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				c.subscriptions[e] = true
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "subscribe_ack", "subscribed": msg.Events})
		case "unsubscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				delete(c.subscriptions, e)
			}
			c.mu.Unlock()
		case "ping":
			c.reply(map[string]interface{}{"action": "pong"})
		}
	}
}

// reply queues a direct response. It is dropped if the client is slow.
func (c *client) reply(body map[string]interface{}) {
	body["timestamp"] = time.Now().UnixMilli()
	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	defer func() {
		// send may have been closed by the hub
		_ = recover()
	}()
	select {
	case c.send <- payload:
	default:
	}
}

// writePump writes queued messages and keeps the connection alive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
