package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// SubmitPublisher hands accepted submission batches to the worker cluster
// by publishing them onto the submit queue.
type SubmitPublisher struct {
	manager interfaces.QueueManager
	queue   string
	logger  arbor.ILogger
}

// NewSubmitPublisher creates a publisher bound to the submit queue.
func NewSubmitPublisher(manager interfaces.QueueManager, queue string, logger arbor.ILogger) *SubmitPublisher {
	return &SubmitPublisher{
		manager: manager,
		queue:   queue,
		logger:  logger,
	}
}

// PublishSubmit publishes one batch message under the parent collection.
func (p *SubmitPublisher) PublishSubmit(ctx context.Context, batch *models.SubmitBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal submit batch: %w", err)
	}

	msgID, err := p.manager.Publish(ctx, p.queue, data)
	if err != nil {
		return fmt.Errorf("failed to publish submit batch: %w", err)
	}

	p.logger.Info().
		Str("message_id", msgID).
		Str("parent_id", batch.ParentID).
		Int("videos", len(batch.VideoIDs)).
		Msg("Submission batch published")

	return nil
}
