// Package statushub pushes sync status to the point-of-sale UI.
package statushub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"retailsync/internal/scheduler"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Hub broadcasts status snapshots to connected WebSocket clients.
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	last   []byte
	lastMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	logger *log.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(os.Stderr, "[StatusHub] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Publish sends status to every client. Clients that cannot keep up are
// dropped.
func (h *Hub) Publish(ctx context.Context, status scheduler.Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}

	h.lastMu.Lock()
	h.last = data
	h.lastMu.Unlock()

	h.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.clientsMu.RUnlock()

	for _, conn := range clients {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := conn.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Printf("Failed to send to client: %v", err)
			h.removeClient(conn)
		}
	}
	return nil
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects. The latest status is sent on connect.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Printf("Client connected (total: %d)", count)

	h.lastMu.RLock()
	last := h.last
	h.lastMu.RUnlock()
	if last != nil {
		ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
		_ = conn.Write(ctx, websocket.MessageText, last)
		cancel()
	}

	// Clients only listen; reading surfaces the disconnect.
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.cancel()
	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "agent shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()
	return nil
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		count := len(h.clients)
		h.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Printf("Client disconnected (total: %d)", count)
		return
	}
	h.clientsMu.Unlock()
}

var _ scheduler.Publisher = (*Hub)(nil)
