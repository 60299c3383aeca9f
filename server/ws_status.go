package server

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"VizFM/logger"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusMessage is pushed to every connected client on each status change.
type StatusMessage struct {
	Status   string `json:"status"` // UI binding text: Recording…, Converting: N%, Export MP4
	State    string `json:"state"`
	JobID    string `json:"jobId,omitempty"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// StatusHub fans status messages out to WebSocket subscribers.
type StatusHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	last    *StatusMessage
}

// NewStatusHub creates an empty hub.
func NewStatusHub() *StatusHub {
	return &StatusHub{clients: make(map[*websocket.Conn]bool)}
}

// Broadcast sends the message to all clients, dropping any that fail.
func (h *StatusHub) Broadcast(msg StatusMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &msg
	for conn := range h.clients {
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// Handler upgrades the request and subscribes the connection until it closes.
func (h *StatusHub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	// replay the latest status so a fresh client starts in sync
	if h.last != nil {
		conn.WriteJSON(*h.last)
	}
	h.mu.Unlock()

	// reads only detect disconnects, clients never send payloads
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
