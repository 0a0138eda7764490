// Package handlers provides HTTP request handlers for the farmscan API.
// This file implements the WebSocket endpoint that streams the progress of
// one scan task until it completes or is deleted.
package handlers

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/farmscan/internal/scanning"
	"github.com/anstrom/farmscan/internal/workers"
)

const (
	// WebSocket configuration constants.
	writeWait       = 10 * time.Second                                   // Time allowed to write a message to the peer
	pongWait        = 60 * time.Second                                   // Time to read next pong message from peer
	pingPeriodRatio = 0.9                                                // Ratio of pongWait for pingPeriod
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // Send pings to peer (must be < pongWait)
	maxMessageSize  = 512                                                // Maximum message size allowed from peer

	// DefaultProgressInterval is used when no interval is configured.
	DefaultProgressInterval = time.Second
)

// Message types sent to progress subscribers.
const (
	MessageScanProgress  = "scan_progress"
	MessageScanCompleted = "scan_completed"
	MessageScanDeleted   = "scan_deleted"
)

// WebSocketHandler streams task snapshots to WebSocket clients.
type WebSocketHandler struct {
	engine   scanning.Engine
	logger   *slog.Logger
	interval time.Duration
	upgrader websocket.Upgrader

	mutex     sync.Mutex
	clients   map[*websocket.Conn]string
	shutdown  chan struct{}
	closeOnce sync.Once
}

// WebSocketMessage represents a WebSocket message structure.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// NewWebSocketHandler creates a new WebSocket handler that pushes a snapshot
// every interval.
func NewWebSocketHandler(engine scanning.Engine, logger *slog.Logger, interval time.Duration) *WebSocketHandler {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &WebSocketHandler{
		engine:   engine,
		logger:   logger.With("handler", "websocket"),
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// CORS policy is enforced by the router
				return true
			},
		},
		clients:  make(map[*websocket.Conn]string),
		shutdown: make(chan struct{}),
	}
}

// ScanProgress handles GET /api/v1/scans/{id}/ws. Unknown tasks are
// rejected with 404 before the upgrade.
func (h *WebSocketHandler) ScanProgress(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestIDFromContext(r.Context())

	id, err := extractIDFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	snap, err := h.engine.GetScan(id)
	if err != nil {
		writeEngineError(w, r, h.logger, "get scan", err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}

	if !h.register(conn, id) {
		h.writeClose(conn, websocket.CloseGoingAway, "server shutting down", requestID)
		_ = conn.Close()
		return
	}
	defer h.unregister(conn, requestID)

	h.logger.Info("New scan WebSocket connection",
		"request_id", requestID,
		"task_id", id,
		"remote_addr", r.RemoteAddr)

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("Failed to set read deadline", "request_id", requestID, "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go h.readPump(conn, requestID, done)

	h.writePump(conn, id, snap, requestID, done)
}

// readPump drains client frames so control messages are processed. It
// closes done when the connection fails.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, requestID string, done chan<- struct{}) {
	defer close(done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket unexpected close", "request_id", requestID, "error", err)
			}
			return
		}
		// Client messages carry no meaning on this endpoint.
	}
}

// writePump sends the initial snapshot, then one per interval, until the
// task finishes or disappears, the client leaves or the handler closes.
func (h *WebSocketHandler) writePump(conn *websocket.Conn, id string, snap workers.TaskSnapshot,
	requestID string, done <-chan struct{}) {
	ticker := time.NewTicker(h.interval)
	pinger := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		pinger.Stop()
	}()

	if finished := h.sendSnapshot(conn, snap, requestID); finished {
		return
	}

	for {
		select {
		case <-done:
			return

		case <-h.shutdown:
			h.writeClose(conn, websocket.CloseGoingAway, "server shutting down", requestID)
			return

		case <-pinger.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("Ping failed, closing connection", "request_id", requestID, "error", err)
				return
			}

		case <-ticker.C:
			current, err := h.engine.GetScan(id)
			if err != nil {
				if h.writeMessage(conn, MessageScanDeleted, map[string]string{"id": id}, requestID) == nil {
					h.writeClose(conn, websocket.CloseNormalClosure, "scan deleted", requestID)
				}
				return
			}
			if finished := h.sendSnapshot(conn, current, requestID); finished {
				return
			}
		}
	}
}

// sendSnapshot writes snap and reports whether the stream is over, either
// because the task is done or the write failed.
func (h *WebSocketHandler) sendSnapshot(conn *websocket.Conn, snap workers.TaskSnapshot, requestID string) bool {
	msgType := MessageScanProgress
	if snap.Done {
		msgType = MessageScanCompleted
	}

	if err := h.writeMessage(conn, msgType, snap, requestID); err != nil {
		h.logger.Debug("Write failed, closing connection", "request_id", requestID, "error", err)
		return true
	}

	if snap.Done {
		h.writeClose(conn, websocket.CloseNormalClosure, "scan completed", requestID)
		return true
	}
	return false
}

func (h *WebSocketHandler) writeMessage(conn *websocket.Conn, msgType string, data interface{}, requestID string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(WebSocketMessage{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      data,
		RequestID: requestID,
	})
}

func (h *WebSocketHandler) writeClose(conn *websocket.Conn, code int, text, requestID string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		h.logger.Debug("Failed to send close frame", "request_id", requestID, "error", err)
	}
}

func (h *WebSocketHandler) register(conn *websocket.Conn, id string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	select {
	case <-h.shutdown:
		return false
	default:
	}
	h.clients[conn] = id
	return true
}

func (h *WebSocketHandler) unregister(conn *websocket.Conn, requestID string) {
	h.mutex.Lock()
	delete(h.clients, conn)
	h.mutex.Unlock()

	if err := conn.Close(); err != nil {
		h.logger.Debug("Error closing WebSocket connection", "request_id", requestID, "error", err)
	}
}

// GetConnectedClients returns the number of open progress streams.
func (h *WebSocketHandler) GetConnectedClients() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Close stops every stream and refuses new ones.
func (h *WebSocketHandler) Close() error {
	h.closeOnce.Do(func() { close(h.shutdown) })

	h.mutex.Lock()
	n := len(h.clients)
	h.mutex.Unlock()

	h.logger.Info("WebSocket handler closed", "streams", n)
	return nil
}
