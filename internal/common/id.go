package common

import (
	"github.com/google/uuid"
)

// NewVideoID generates a unique canonical video ID with the "vid_" prefix
// Format: vid_<uuid>
func NewVideoID() string {
	return "vid_" + uuid.New().String()
}

// NewBatchID generates a unique submission batch ID with the "batch_" prefix
// Format: batch_<uuid>
func NewBatchID() string {
	return "batch_" + uuid.New().String()
}
