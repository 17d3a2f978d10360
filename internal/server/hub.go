package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/machinat/sociably-sub013/internal/domain"
)

const writeWait = 5 * time.Second

// WebSocket Upgrader (Gorilla)
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // Allow all origins for dev
}

// Hub holds the WebSocket connections waiting for the outcome of a request.
// Each connection receives exactly one notification and is then closed.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[*websocket.Conn]struct{}
	logger  *slog.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*websocket.Conn]struct{}),
		logger:  logger,
	}
}

// Register adds conn as a listener for requestID.
func (h *Hub) Register(requestID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[requestID]
	if !ok {
		conns = make(map[*websocket.Conn]struct{})
		h.clients[requestID] = conns
	}
	conns[conn] = struct{}{}
}

// Unregister removes conn if it is still waiting.
func (h *Hub) Unregister(requestID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.clients[requestID]
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.clients, requestID)
	}
}

// Listeners returns the number of connections waiting for requestID.
func (h *Hub) Listeners(requestID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[requestID])
}

// Deliver writes n to every connection waiting for its request and closes
// them. The hub lock is held while writing so a connection is never written
// concurrently.
func (h *Hub) Deliver(n domain.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.clients[n.RequestID]
	delete(h.clients, n.RequestID)

	for conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(n); err != nil {
			h.logger.Error("Failed to write to websocket", "requestID", n.RequestID, "error", err)
		} else {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "settled"))
		}
		_ = conn.Close()
	}
}
