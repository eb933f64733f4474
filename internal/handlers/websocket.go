// -----------------------------------------------------------------------
// Last Modified: Thursday, 16th April 2026 11:02:35 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/pkg/models"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WebSocketHandler fans status, log, and stats frames out to every
// connected viewer. It holds no video state of its own: a frame that
// arrives while a viewer is disconnected is simply gone, and the viewer
// resynchronizes through the pull API on reconnect.
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]uint64 // conn -> connection id
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	eventService     interfaces.EventService
	logThrottler     *rate.Limiter // Rate limiter for log frames; status frames are never throttled
	nextConnectionID uint64
	sendFailures     uint64
	serverInstanceID string // Unique ID generated on startup - clients use to detect server restart
}

func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]uint64),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")

	// Throttle log frames only. Status frames carry state the viewer
	// reconciles from, so they go out unconditionally no matter how noisy
	// the server gets; dropped log frames remain readable via /api/logs/recent.
	if config != nil {
		if interval := config.LogThrottleDuration(); interval > 0 {
			h.logThrottler = rate.NewLimiter(rate.Every(interval), 1)
			logger.Debug().
				Str("interval", interval.String()).
				Msg("Throttler initialized for log frames")
		}
	}

	if eventService != nil {
		h.SubscribeToStatusEvents()
	}

	return h
}

// HandleWebSocket upgrades the connection, sends the handshake frame, and
// parks in a read loop until the viewer goes away. Inbound payloads are
// discarded; viewers talk to the server through the REST API.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	connectionID := atomic.AddUint64(&h.nextConnectionID, 1)

	h.mu.Lock()
	h.clients[conn] = connectionID
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (id: %d, total: %d)", connectionID, clientCount)

	// Handshake is the first frame on every connection
	h.sendHandshake(conn, connectionID)

	// Handle client disconnection
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (id: %d, remaining: %d)", connectionID, remaining)
	}()

	// Read messages from client (keep connection alive)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// sendHandshake sends the connected frame to a single client. The server
// instance ID changes on every restart; viewers compare it against their
// snapshot to decide whether to discard cached state and resync.
func (h *WebSocketHandler) sendHandshake(conn *websocket.Conn, connectionID uint64) {
	msg := models.WSMessage{
		Type: models.FrameConnected,
		Payload: models.HandshakePayload{
			ServerInstanceID: h.serverInstanceID,
			ConnectionID:     connectionID,
			ServerTimestamp:  time.Now().UTC(),
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal handshake frame")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()

	if mutex != nil {
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			atomic.AddUint64(&h.sendFailures, 1)
			h.logger.Warn().Err(err).Msg("Failed to send handshake frame")
		}
	}
}

// BroadcastStatus pushes a normalized status event to all connected
// clients. Never throttled: every accepted mutation reaches every open
// connection or is counted as a send failure for that connection alone.
func (h *WebSocketHandler) BroadcastStatus(event models.StatusEvent) {
	msg := models.WSMessage{
		Type:    models.FrameStatus,
		Payload: event,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal status frame")
		return
	}

	h.broadcast(models.FrameStatus, data)
}

// BroadcastLog streams a server log line to all connected clients.
// Subject to the log throttler so a log storm cannot crowd out status
// frames; dropped lines are still available from /api/logs/recent.
func (h *WebSocketHandler) BroadcastLog(entry models.LogEntry) {
	if h.logThrottler != nil && !h.logThrottler.Allow() {
		return
	}

	msg := models.WSMessage{
		Type:    models.FrameLog,
		Payload: entry,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal log frame")
		return
	}

	h.broadcast(models.FrameLog, data)
}

// BroadcastStats sends the periodic diagnostics frame. Connection count
// and send failure tally are filled in here since the hub owns them.
func (h *WebSocketHandler) BroadcastStats(stats models.StatsPayload) {
	stats.Connections = h.ClientCount()
	stats.SendFailures = atomic.LoadUint64(&h.sendFailures)

	msg := models.WSMessage{
		Type:    models.FrameStats,
		Payload: stats,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal stats frame")
		return
	}

	h.broadcast(models.FrameStats, data)
}

// broadcast writes one pre-serialized frame to every registered client.
// The payload is marshaled exactly once by the caller; the client set is
// snapshotted under the read lock and writes happen outside it, so a slow
// or dead connection stalls only its own write, never the registry.
func (h *WebSocketHandler) broadcast(frameType string, data []byte) {
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	ids := make([]uint64, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn, id := range h.clients {
		clients = append(clients, conn)
		ids = append(ids, id)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			atomic.AddUint64(&h.sendFailures, 1)
			h.logger.Warn().
				Err(err).
				Int64("connection_id", int64(ids[i])).
				Str("frame_type", frameType).
				Msg("Failed to send frame to client")
		}
	}
}

// SubscribeToStatusEvents bridges the event bus onto the push surface.
// Status events are re-broadcast synchronously so the publisher's ordering
// guarantee carries through to the wire.
func (h *WebSocketHandler) SubscribeToStatusEvents() {
	if h.eventService == nil {
		return
	}

	h.eventService.Subscribe(interfaces.EventVideoStatus, func(ctx context.Context, event interfaces.Event) error {
		status, ok := event.Payload.(models.StatusEvent)
		if !ok {
			h.logger.Warn().Msg("Invalid status event payload type")
			return nil
		}

		h.BroadcastStatus(status)
		return nil
	})

	h.eventService.Subscribe(interfaces.EventStats, func(ctx context.Context, event interfaces.Event) error {
		stats, ok := event.Payload.(models.StatsPayload)
		if !ok {
			h.logger.Warn().Msg("Invalid stats event payload type")
			return nil
		}

		h.BroadcastStats(stats)
		return nil
	})
}

// ClientCount returns the number of currently registered connections.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendFailureCount returns the cumulative tally of failed frame writes.
func (h *WebSocketHandler) SendFailureCount() uint64 {
	return atomic.LoadUint64(&h.sendFailures)
}

// ServerInstanceID returns the ID minted for this process lifetime.
func (h *WebSocketHandler) ServerInstanceID() string {
	return h.serverInstanceID
}

// GetRecentLogsHandler returns recent server logs as JSON for viewers that
// reconnect or miss throttled log frames.
func (h *WebSocketHandler) GetRecentLogsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	// Get recent logs from memory writer
	memWriter := arbor.GetRegisteredMemoryWriter(arbor.WRITER_MEMORY)
	var logs []models.LogEntry

	if memWriter != nil {
		entries, err := memWriter.GetEntriesWithLimit(100)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to get log entries")
			WriteError(w, http.StatusInternalServerError, "Failed to retrieve logs")
			return
		}

		// Extract and sort keys for deterministic ordering
		// Map keys are timestamps like "2025-01-01T12:00:00.000Z" - sorting gives chronological order
		keys := make([]string, 0, len(entries))
		for key := range entries {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		// Parse and filter logs in sorted order (oldest first)
		for _, key := range keys {
			logLine := entries[key]
			// Skip internal handler logs
			if strings.Contains(logLine, "WebSocket client connected") ||
				strings.Contains(logLine, "WebSocket client disconnected") ||
				strings.Contains(logLine, "HTTP request") ||
				strings.Contains(logLine, "HTTP response") ||
				strings.Contains(logLine, "Publishing event") {
				continue
			}

			// Parse log line
			parts := strings.SplitN(logLine, "|", 3)
			if len(parts) != 3 {
				continue
			}

			levelStr := strings.TrimSpace(parts[0])
			dateTime := strings.TrimSpace(parts[1])
			messageWithFields := strings.TrimSpace(parts[2])

			// Parse timestamp from "Oct  2 16:27:13" format
			timeParts := strings.Fields(dateTime)
			var timestamp string
			if len(timeParts) >= 3 {
				timestamp = timeParts[len(timeParts)-1]
			} else {
				timestamp = time.Now().Format("15:04:05")
			}

			// Map level to lowercase viewer format
			level := "info"
			switch levelStr {
			case "ERR", "ERROR", "FATAL", "PANIC":
				level = "error"
			case "WRN", "WARN":
				level = "warn"
			case "INF", "INFO":
				level = "info"
			case "DBG", "DEBUG":
				level = "debug"
			}

			logs = append(logs, models.LogEntry{
				Timestamp: timestamp,
				Level:     level,
				Message:   messageWithFields,
			})
		}
	}

	// Return empty array if no logs
	if logs == nil {
		logs = []models.LogEntry{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}
