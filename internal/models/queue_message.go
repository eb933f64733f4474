package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// QueueMessage is the envelope stored on the bus.
// Keep it simple - just enough to route and retry.
type QueueMessage struct {
	ID           string          `json:"id"`            // Message id (uuid)
	Payload      json.RawMessage `json:"payload"`       // Producer body (passed through untouched)
	EnqueuedAt   time.Time       `json:"enqueued_at"`   // Publish time
	ReceiveCount int             `json:"receive_count"` // Delivery attempts so far
}

// SubmitBatch is the payload published to the submit topic when a batch of
// selected videos is handed to the worker cluster under a parent collection.
type SubmitBatch struct {
	ParentID    string    `json:"parent_id"`
	VideoIDs    []string  `json:"video_ids"`
	SubmittedAt time.Time `json:"submitted_at"`
}
