package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	plog "github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/pkg/models"
)

// WebSocketWriter drains arbor's context channel and forwards matching log
// entries to connected viewers. It runs on its own goroutine so a slow or
// disconnected viewer never blocks the logging path.
type WebSocketWriter struct {
	handler         *WebSocketHandler
	channel         chan []arbormodels.LogEvent
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	logger          arbor.ILogger
	minLevel        levels.LogLevel
	excludePatterns []string
}

// NewWebSocketWriter creates a writer that broadcasts filtered logs to
// WebSocket clients. Filtering follows the websocket config: entries below
// min_level or matching an exclude pattern are dropped before broadcast.
func NewWebSocketWriter(handler *WebSocketHandler, wsConfig *common.WebSocketConfig, logger arbor.ILogger) *WebSocketWriter {
	minLevel := levels.InfoLevel
	var excludePatterns []string
	if wsConfig != nil {
		minLevel = parseLogLevel(wsConfig.MinLevel)
		excludePatterns = wsConfig.ExcludePatterns
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketWriter{
		handler:         handler,
		channel:         make(chan []arbormodels.LogEvent, 10),
		ctx:             ctx,
		cancel:          cancel,
		logger:          logger,
		minLevel:        minLevel,
		excludePatterns: excludePatterns,
	}
}

// GetChannel returns the channel for arbor to send log batches to.
func (w *WebSocketWriter) GetChannel() chan []arbormodels.LogEvent {
	return w.channel
}

// Start launches the forwarding goroutine.
func (w *WebSocketWriter) Start() error {
	w.wg.Add(1)
	go w.consume()
	return nil
}

// Stop shuts down the forwarding goroutine and waits for it to drain.
func (w *WebSocketWriter) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return nil
}

// consume processes log batches from arbor and broadcasts the survivors.
func (w *WebSocketWriter) consume() {
	defer w.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("WebSocket log writer panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-w.channel:
			if !ok {
				return
			}
			for _, event := range batch {
				w.forward(event)
			}
		case <-w.ctx.Done():
			return
		}
	}
}

// forward filters one log event and broadcasts it as a log frame.
func (w *WebSocketWriter) forward(event arbormodels.LogEvent) {
	if !w.shouldForward(event.Level) {
		return
	}
	for _, pattern := range w.excludePatterns {
		if strings.Contains(event.Message, pattern) {
			return
		}
	}

	w.handler.BroadcastLog(models.LogEntry{
		Timestamp: event.Timestamp.Format("15:04:05"),
		Level:     mapLevel(levels.FromLogLevel(event.Level)),
		Message:   event.Message,
	})
}

// shouldForward checks if a log event clears the broadcast level threshold
func (w *WebSocketWriter) shouldForward(level plog.Level) bool {
	return levels.FromLogLevel(level) >= w.minLevel
}

// parseLogLevel converts a config log level string to an arbor level.
func parseLogLevel(level string) levels.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return levels.ErrorLevel
	case "warn", "warning":
		return levels.WarnLevel
	case "info":
		return levels.InfoLevel
	case "debug":
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

// mapLevel maps arbor log levels to the strings viewers render.
func mapLevel(level levels.LogLevel) string {
	switch level {
	case levels.ErrorLevel:
		return "error"
	case levels.WarnLevel:
		return "warn"
	case levels.InfoLevel:
		return "info"
	case levels.DebugLevel:
		return "debug"
	default:
		return "info"
	}
}
