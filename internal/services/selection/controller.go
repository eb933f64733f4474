// -----------------------------------------------------------------------
// Last Modified: Thursday, 16th April 2026 2:17:49 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

// Package selection drives the user-facing selection and submission flow:
// marking pending videos, handing accepted batches to the worker cluster
// under a parent id, and delegating gated resets to the store.
package selection

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// Controller implements interfaces.SelectionService on top of the status
// store and the submit topic.
type Controller struct {
	store     interfaces.StatusStore
	publisher interfaces.SubmitPublisher
	events    interfaces.EventService
	logger    arbor.ILogger
}

// NewController creates a selection controller.
func NewController(store interfaces.StatusStore, publisher interfaces.SubmitPublisher, events interfaces.EventService, logger arbor.ILogger) interfaces.SelectionService {
	return &Controller{
		store:     store,
		publisher: publisher,
		events:    events,
		logger:    logger,
	}
}

// Select marks a pending video as selected. A non-pending record makes
// this a quiet no-op: the caller learns through the changed flag, the
// record is untouched.
func (c *Controller) Select(ctx context.Context, videoID string) (bool, error) {
	rec, changed, err := c.store.SetSelected(ctx, videoID, true)
	if err != nil {
		return false, err
	}

	if changed {
		c.logger.Debug().Str("video_id", rec.ID).Msg("Video selected")
		c.publishStatus(ctx, rec)
	}
	return changed, nil
}

// Deselect clears the selection. Always allowed, idempotent.
func (c *Controller) Deselect(ctx context.Context, videoID string) (bool, error) {
	rec, changed, err := c.store.SetSelected(ctx, videoID, false)
	if err != nil {
		return false, err
	}

	if changed {
		c.logger.Debug().Str("video_id", rec.ID).Msg("Video deselected")
		c.publishStatus(ctx, rec)
	}
	return changed, nil
}

// SelectBatch applies the single-record selection rule independently per
// member. A member counts as accepted when it ends up with the requested
// selection value, including idempotent no-ops.
func (c *Controller) SelectBatch(ctx context.Context, videoIDs []string, selected bool) (*interfaces.BatchResult, error) {
	result := &interfaces.BatchResult{}

	for _, videoID := range videoIDs {
		rec, changed, err := c.store.SetSelected(ctx, videoID, selected)
		if err != nil {
			result.Rejected++
			result.RejectedIDs = append(result.RejectedIDs, videoID)
			c.logger.Warn().Err(err).Str("video_id", videoID).Msg("Batch selection member failed")
			continue
		}

		if rec.Selected != selected {
			// Selecting a record that is not pending
			result.Rejected++
			result.RejectedIDs = append(result.RejectedIDs, videoID)
			continue
		}

		result.Accepted++
		if changed {
			c.publishStatus(ctx, rec)
		}
	}

	c.logger.Info().
		Bool("selected", selected).
		Int("accepted", result.Accepted).
		Int("rejected", result.Rejected).
		Msg("Batch selection applied")

	return result, nil
}

// Submit transitions each pending member to processing under the parent
// and hands the accepted set to the publisher as one batch message.
// Rejected members are reported in the result, never fatal. An empty
// accepted set publishes nothing.
func (c *Controller) Submit(ctx context.Context, parentID string, videoIDs []string) (string, *interfaces.BatchResult, error) {
	if parentID == "" {
		parentID = common.NewBatchID()
	}

	now := time.Now().UTC()
	result := &interfaces.BatchResult{}
	accepted := make([]string, 0, len(videoIDs))

	for _, videoID := range videoIDs {
		rec, err := c.store.MarkSubmitted(ctx, videoID, parentID, now)
		if err != nil {
			result.Rejected++
			result.RejectedIDs = append(result.RejectedIDs, videoID)
			c.logger.Warn().Err(err).Str("video_id", videoID).Msg("Submission member rejected")
			continue
		}

		result.Accepted++
		accepted = append(accepted, rec.ID)
		c.publishStatus(ctx, rec)
	}

	if len(accepted) == 0 {
		c.logger.Info().
			Str("parent_id", parentID).
			Int("rejected", result.Rejected).
			Msg("Submission batch had no eligible videos, nothing published")
		return parentID, result, nil
	}

	batch := models.SubmitBatch{
		ParentID:    parentID,
		VideoIDs:    accepted,
		SubmittedAt: now,
	}

	if err := c.publisher.PublishSubmit(ctx, &batch); err != nil {
		// Records are already processing; a stale-gated reset recovers them
		// if no worker ever picks the batch up.
		return parentID, result, err
	}

	c.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventVideoSubmitted,
		Payload: batch,
	})

	return parentID, result, nil
}

// Reset delegates to the store's gated reset. The store clears the
// selection along with progress and stage; an actively processing record
// surfaces interfaces.ErrActivelyProcessing to the caller unchanged.
func (c *Controller) Reset(ctx context.Context, videoID string) error {
	rec, err := c.store.Reset(ctx, videoID)
	if err != nil {
		return err
	}

	c.publishStatus(ctx, rec)
	c.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventVideoReset,
		Payload: rec.ID,
	})
	return nil
}

// publishStatus pushes the record's normalized event through the bus
// synchronously so controller-path mutations reach viewers in the same
// order the store committed them.
func (c *Controller) publishStatus(ctx context.Context, rec *models.VideoStatus) {
	event := rec.Event(rec.ID, time.Now().UTC())
	if err := c.events.PublishSync(ctx, interfaces.Event{Type: interfaces.EventVideoStatus, Payload: event}); err != nil {
		c.logger.Warn().Err(err).Str("video_id", rec.ID).Msg("Status event fan-out reported errors")
	}
}
