// -----------------------------------------------------------------------
// Last Modified: Tuesday, 14th April 2026 9:21:18 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

// Package models defines the wire types shared between the specto server
// and its viewer clients: the processing status lifecycle, the normalized
// status event, and the WebSocket frame envelope.
package models

import (
	"time"
)

// ProcessingStatus represents the lifecycle of a tracked video.
//
// Transitions: pending -> processing -> {completed, failed}. A gated reset
// returns a record to pending; nothing else moves a video backwards.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

var statusSet = map[ProcessingStatus]struct{}{
	StatusPending:    {},
	StatusProcessing: {},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// AllStatuses returns the lifecycle states in display order.
func AllStatuses() []ProcessingStatus {
	return []ProcessingStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
}

// ParseStatus converts a raw producer value into a ProcessingStatus.
// The second return reports whether the value named a known status.
func ParseStatus(value string) (ProcessingStatus, bool) {
	s := ProcessingStatus(value)
	_, ok := statusSet[s]
	return s, ok
}

// IsValid reports whether the status is one of the four lifecycle states.
func (s ProcessingStatus) IsValid() bool {
	_, ok := statusSet[s]
	return ok
}

// IsTerminal reports whether the status is completed or failed.
// Terminal records are retained indefinitely by viewer caches.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StatusEvent is the normalized per-video event emitted by the ingestion
// adapter and pushed to every connected viewer. Field names follow the
// viewer push protocol; optional fields are pointers so consumers can
// distinguish "absent" from a zero value when merging.
type StatusEvent struct {
	// VideoID is the identifier exactly as the producer referenced the
	// video, so viewers that track the producer-side id still match.
	VideoID string `json:"videoId"`

	// DatabaseID is the canonical store key. Always set once the adapter
	// has resolved identity; carried on every event so consumers can build
	// alias links.
	DatabaseID string `json:"databaseId"`

	// YouTubeID is the alternate identifier, when known.
	YouTubeID string `json:"youtubeId,omitempty"`

	Status   ProcessingStatus `json:"processingStatus,omitempty"`
	Progress *int             `json:"processingProgress,omitempty"`
	Stage    *string          `json:"processingStage,omitempty"`
	Error    *string          `json:"processingError"`

	// Seq is the monotonic per-video sequence allocated on every accepted
	// store mutation. Zero means the event carries no ordering claim and
	// consumers merge it unconditionally.
	Seq uint64 `json:"seq,omitempty"`

	ServerTimestamp time.Time `json:"serverTimestamp"`
}

// HasProgress reports whether the event carried a numeric progress value.
func (e *StatusEvent) HasProgress() bool {
	return e.Progress != nil
}

// WSMessage is the envelope for all frames pushed to viewer connections.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Frame types carried in WSMessage.Type.
const (
	FrameConnected = "connected"
	FrameStatus    = "status"
	FrameLog       = "log"
	FrameStats     = "stats"
)

// HandshakePayload is the first frame sent on every new viewer connection.
// ServerInstanceID changes on restart so clients can detect a fresh server
// and resynchronize via the pull API.
type HandshakePayload struct {
	ServerInstanceID string    `json:"serverInstanceId"`
	ConnectionID     uint64    `json:"connectionId"`
	ServerTimestamp  time.Time `json:"serverTimestamp"`
}

// LogEntry is a single server log line streamed to viewers.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// StatsPayload is the periodic diagnostics frame. Best-effort and
// throttled; viewers must never depend on it for status correctness.
type StatsPayload struct {
	Connections   int              `json:"connections"`
	SendFailures  uint64           `json:"sendFailures"`
	StatusCounts  map[string]int   `json:"statusCounts,omitempty"`
	QueueDepths   map[string]int64 `json:"queueDepths,omitempty"`
	UptimeSeconds int64            `json:"uptimeSeconds"`
}
