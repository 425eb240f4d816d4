package admin

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seroze/fixengine/internal/session"
	"github.com/seroze/fixengine/logging"
)

// Event is one session lifecycle notification pushed to connected operator
// dashboards over the admin WebSocket feed.
type Event struct {
	Type      string    `json:"type"`
	Session   string    `json:"session"`
	State     string    `json:"state,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Direction string    `json:"direction,omitempty"`
	LatencyMs int64     `json:"latency_ms,omitempty"`
	Discarded int       `json:"discarded,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out session Events to every connected operator dashboard client,
// so a dashboard sees state changes, gaps, and resends as they happen
// instead of polling the list/health routes.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
}

// NewHub returns a Hub with no connected clients. Run must be called for it
// to actually dispatch events.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// Run services the register/unregister/broadcast channels until ctx's
// caller stops calling it (it never returns on its own; run it in its own
// goroutine for the lifetime of the process).
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
		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// slow client; drop it rather than block the hub
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast JSON-encodes event and pushes it to every connected client.
// Non-blocking: a full buffer drops the event rather than stalling the
// caller (a session's own goroutine, in the common case).
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		logging.Warn("admin ws hub broadcast buffer full, dropping event", logging.String("event_type", event.Type))
	}
}

// HooksFor returns a session.Hooks that turns a session's lifecycle events
// into Events broadcast to dashboard clients, labeled with sessionName.
// Combine with other Hooks sources (metrics, error tracking) via
// session.MergeHooks.
func (h *Hub) HooksFor(sessionName string) session.Hooks {
	return session.Hooks{
		OnSequenceGap: func() {
			h.Broadcast(Event{Type: "sequence_gap", Session: sessionName, Timestamp: time.Now()})
		},
		OnResendRequest: func(direction string) {
			h.Broadcast(Event{Type: "resend_request", Session: sessionName, Direction: direction, Timestamp: time.Now()})
		},
		OnHeartbeatLatency: func(d time.Duration) {
			h.Broadcast(Event{Type: "heartbeat_latency", Session: sessionName, LatencyMs: d.Milliseconds(), Timestamp: time.Now()})
		},
		OnStateChange: func(st session.State) {
			h.Broadcast(Event{Type: "state_change", Session: sessionName, State: st.String(), Timestamp: time.Now()})
		},
		OnResync: func(discarded int) {
			h.Broadcast(Event{Type: "resync", Session: sessionName, Discarded: discarded, Timestamp: time.Now()})
		},
		OnTerminal: func(reason session.TerminalReason) {
			h.Broadcast(Event{Type: "terminal", Session: sessionName, Reason: string(reason), Timestamp: time.Now()})
		},
	}
}

// Fire implements logging.Hook: error-level log entries are pushed to
// dashboard clients too, so an operator watching the feed sees the same
// alerts the error tracker raises, not just session lifecycle events.
func (h *Hub) Fire(entry *logging.LogEntry) error {
	h.Broadcast(Event{
		Type:      "log_alert",
		Session:   entry.SessionID,
		State:     entry.Message,
		Reason:    entry.Error,
		Timestamp: entry.Timestamp,
	})
	return nil
}

// Levels implements logging.Hook: only errors and above reach the feed.
func (h *Hub) Levels() []logging.LogLevel {
	return []logging.LogLevel{logging.ERROR, logging.FATAL}
}

// ServeWS upgrades an authenticated request to a WebSocket connection and
// registers it with the hub. The bearer token is accepted either as the
// usual Authorization header or as a "token" query parameter, since the
// browser WebSocket API cannot set request headers during the handshake.
func (h *Hub) ServeWS(ti *TokenIssuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			if hdr, ok := bearerToken(r.Header.Get("Authorization")); ok {
				token = hdr
			}
		}
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := ti.validate(token); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error("admin ws upgrade failed", err)
			return
		}

		c := &wsClient{conn: conn, send: make(chan []byte, 32)}
		h.register <- c

		go c.writePump()
		go c.readPump(h)
	}
}

func (c *wsClient) writePump() {
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
	_ = c.conn.Close()
}

// readPump drains and discards client frames; this feed is push-only, but
// the read loop must run so gorilla/websocket processes control frames
// (ping/pong/close) and notices when the peer disconnects.
func (c *wsClient) readPump(h *Hub) {
	defer func() { h.unregister <- c }()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):], true
	}
	return "", false
}
