// -----------------------------------------------------------------------
// Last Modified: Tuesday, 14th April 2026 10:02:44 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/ternarybob/specto/pkg/models"
)

// VideoStatus is the durable status record for one tracked video.
//
// Identity:
//   - ID is the canonical, immutable store key (vid_<uuid> when minted
//     locally, otherwise the producer-supplied database id)
//   - YouTubeID is the alternate identifier some producers use instead;
//     resolved to ID once at ingestion and carried on every event
//
// Lifecycle:
//   - created pending when a submission enqueues the video, or created by
//     the adapter on first sight of an unknown identity
//   - moved to processing by the selection controller at submission time
//   - mutated by the ingestion adapter on every accepted report
//   - moved to completed/failed by an adapter report
//   - returned to pending only via the gated reset
//
// The record is never deleted by this pipeline, only reset.
type VideoStatus struct {
	ID          string                  `json:"id" badgerhold:"key"`
	YouTubeID   string                  `json:"youtube_id,omitempty" badgerhold:"index"`
	Status      models.ProcessingStatus `json:"status" badgerhold:"index"`
	Progress    int                     `json:"progress"`
	Stage       string                  `json:"stage,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Selected    bool                    `json:"selected"`
	Seq         uint64                  `json:"seq"`
	Title       string                  `json:"title,omitempty"`
	ParentID    string                  `json:"parent_id,omitempty"`
	SubmittedAt *time.Time              `json:"submitted_at,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	LastUpdated time.Time               `json:"last_updated"`
}

// IsTerminal reports whether the record reached completed or failed.
func (v *VideoStatus) IsTerminal() bool {
	return v.Status.IsTerminal()
}

// Age returns how long ago the record was last updated.
func (v *VideoStatus) Age(now time.Time) time.Duration {
	return now.Sub(v.LastUpdated)
}

// Event builds the normalized status event for this record. videoID is the
// identifier as the producer referenced it; pass the canonical id for
// server-originated events.
func (v *VideoStatus) Event(videoID string, now time.Time) models.StatusEvent {
	if videoID == "" {
		videoID = v.ID
	}
	progress := v.Progress
	ev := models.StatusEvent{
		VideoID:         videoID,
		DatabaseID:      v.ID,
		YouTubeID:       v.YouTubeID,
		Status:          v.Status,
		Progress:        &progress,
		Seq:             v.Seq,
		ServerTimestamp: now,
	}
	if v.Stage != "" {
		stage := v.Stage
		ev.Stage = &stage
	}
	if v.Error != "" {
		errMsg := v.Error
		ev.Error = &errMsg
	}
	return ev
}

// StatusPatch carries the fields present on one normalized update. Nil
// pointers mean "not supplied"; the store merges only supplied fields.
type StatusPatch struct {
	// ID is the identity to resolve: matched against the canonical id
	// first, the alternate id second.
	ID string

	// YouTubeID links an alternate id to the record when supplied.
	YouTubeID string

	Status   *models.ProcessingStatus
	Progress *int
	Stage    *string
	Error    *string

	// Timestamp is the producer-side message time; the store falls back
	// to receipt time when absent.
	Timestamp *time.Time
}

// HasIdentity reports whether the patch carries any usable identifier.
func (p *StatusPatch) HasIdentity() bool {
	return p.ID != "" || p.YouTubeID != ""
}
