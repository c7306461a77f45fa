package hub

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

type Event struct {
	Type     string      `json:"type"` // build.step, build.log, build.completed, build.failed
	BuildID  string      `json:"buildId,omitempty"`
	ActionID string      `json:"actionId,omitempty"`
	Payload  interface{} `json:"payload"`
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]bool
}

// wants reports whether the client subscribed to the message. Clients
// without topics get everything, as do events that name no build.
func (c *client) wants(m message) bool {
	if len(c.topics) == 0 || (m.buildID == "" && m.actionID == "") {
		return true
	}
	return c.topics[m.buildID] || c.topics[m.actionID]
}

type message struct {
	data     []byte
	buildID  string
	actionID string
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan message
	register   chan *client
	unregister chan *client
	upgrader   websocket.Upgrader
	logger     hclog.Logger
}

func New(allowedOrigins []string, logger hclog.Logger) *Hub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger.Named("hub"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true // CLI, curl
				}
				if allowed[origin] {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				host := u.Hostname()
				return host == "localhost" || host == "127.0.0.1" || host == "::1"
			},
		},
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(msg) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues an event for every connected client. Events are dropped
// when the queue is full so callers on the build path never block.
func (h *Hub) Broadcast(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("marshal event", "error", err)
		return
	}
	select {
	case h.broadcast <- message{data: data, buildID: evt.BuildID, actionID: evt.ActionID}:
	default:
		h.logger.Warn("broadcast queue full, dropping event", "type", evt.Type)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleConnect upgrades the request. Repeated ?topic= parameters restrict
// the connection to events of those build or action ids.
func (h *Hub) HandleConnect(w http.ResponseWriter, r *http.Request) {
	topics := make(map[string]bool)
	for _, t := range r.URL.Query()["topic"] {
		if t != "" {
			topics[t] = true
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64), topics: topics}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
