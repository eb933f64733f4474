package interfaces

import (
	"context"

	"github.com/ternarybob/specto/internal/models"
)

// AckFunc acknowledges a delivered message. Exactly one call per delivery;
// further calls are no-ops.
type AckFunc func() error

// SubmitPublisher hands accepted submission batches to the worker cluster.
type SubmitPublisher interface {
	// PublishSubmit publishes one batch message under the parent collection.
	PublishSubmit(ctx context.Context, batch *models.SubmitBatch) error
}

// QueueManager manages the persistent at-least-once message bus.
type QueueManager interface {
	// Publish appends a payload to the named queue.
	Publish(ctx context.Context, queue string, payload []byte) (string, error)

	// Receive pops the oldest visible message from the named queue. The
	// message stays invisible for the visibility timeout; an unacked
	// message redelivers after it. Returns models.ErrNoMessage when empty.
	Receive(ctx context.Context, queue string) (*models.QueueMessage, AckFunc, error)

	// Depth returns the number of messages currently stored on the queue,
	// visible or not.
	Depth(ctx context.Context, queue string) (int64, error)

	// Close releases the underlying store.
	Close() error
}
