package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DetectionHub manages WebSocket connections for an analyzer's live preview,
// generalised from the teacher's per-camera DetectionHub (camera_id keys,
// face/detection/frame broadcasts) to per-analyzer keys carrying intrusion
// detections only.
type DetectionHub struct {
	// clients maps analyzer_id -> set of connections
	clients map[string]map[*websocket.Conn]bool
	mu      sync.RWMutex
	logger  *log.Logger
}

// NewDetectionHub creates a new detection hub.
func NewDetectionHub(logger *log.Logger) *DetectionHub {
	return &DetectionHub{
		clients: make(map[string]map[*websocket.Conn]bool),
		logger:  logger,
	}
}

// Register adds a connection for a specific analyzer.
func (h *DetectionHub) Register(analyzerID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[analyzerID] == nil {
		h.clients[analyzerID] = make(map[*websocket.Conn]bool)
	}
	h.clients[analyzerID][conn] = true
	h.logger.Printf("client registered for analyzer %s (total: %d)", analyzerID, len(h.clients[analyzerID]))
}

// Unregister removes a connection for a specific analyzer.
func (h *DetectionHub) Unregister(analyzerID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[analyzerID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, analyzerID)
		}
		h.logger.Printf("client unregistered for analyzer %s", analyzerID)
	}
}

// HasClients returns true if there are any clients connected for an analyzer.
func (h *DetectionHub) HasClients(analyzerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns, ok := h.clients[analyzerID]
	return ok && len(conns) > 0
}

// BroadcastToAnalyzer sends a message to all clients subscribed to an analyzer.
func (h *DetectionHub) BroadcastToAnalyzer(analyzerID string, message []byte) {
	h.mu.RLock()
	conns := h.clients[analyzerID]
	h.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	for conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Printf("write error for analyzer %s: %v", analyzerID, err)
			h.Unregister(analyzerID, conn)
			conn.Close()
		}
	}
}

// BroadcastDetection sends an annotated-frame detection message to an
// analyzer's subscribers.
func (h *DetectionHub) BroadcastDetection(analyzerID string, msg *DetectionMessage) {
	if !h.HasClients(analyzerID) {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("marshal detection message: %v", err)
		return
	}
	h.BroadcastToAnalyzer(analyzerID, data)
}

// ClientCount returns the total number of connected clients.
func (h *DetectionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}
