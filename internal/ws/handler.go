package ws

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 256 * 1024, // 256KB for base64 encoded JPEG frames
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections for an analyzer's live preview.
type Handler struct {
	hub    *DetectionHub
	logger *log.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *DetectionHub, logger *log.Logger) *Handler {
	return &Handler{hub: hub, logger: logger}
}

// ServeHTTP handles WebSocket upgrade requests.
// Expected URL format: /ws/analyzer/{analyzer_id}
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/ws/analyzer/")
	analyzerID := strings.TrimSuffix(path, "/")

	if analyzerID == "" {
		http.Error(w, "analyzer_id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade error: %v", err)
		return
	}

	h.logger.Printf("new connection for analyzer %s from %s", analyzerID, r.RemoteAddr)

	h.hub.Register(analyzerID, conn)
	go h.readPump(analyzerID, conn)
}

// readPump reads messages from the WebSocket connection, keeping it alive
// and detecting client disconnection.
func (h *Handler) readPump(analyzerID string, conn *websocket.Conn) {
	defer func() {
		h.hub.Unregister(analyzerID, conn)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for range ticker.C {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Printf("read error for analyzer %s: %v", analyzerID, err)
			}
			break
		}
	}
}
