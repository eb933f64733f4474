// -----------------------------------------------------------------------
// Last Modified: Wednesday, 15th April 2026 12:06:40 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package ingest

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// Adapter is the single consumer of the status queue. It normalizes each
// raw report, merges it into the store, and fans the resulting event out
// to viewers. One message is fully processed and acked before the next is
// received, which is what keeps per-video event order stable downstream.
type Adapter struct {
	queue    interfaces.QueueManager
	store    interfaces.StatusStore
	events   interfaces.EventService
	enricher interfaces.MetadataEnricher
	logger   arbor.ILogger

	queueName    string
	pollInterval time.Duration
	storeRetries int
	retryBackoff time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAdapter creates the ingestion adapter. enricher may be nil when
// metadata lookup is disabled.
func NewAdapter(config *common.Config, queue interfaces.QueueManager, store interfaces.StatusStore, events interfaces.EventService, enricher interfaces.MetadataEnricher, logger arbor.ILogger) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())

	return &Adapter{
		queue:        queue,
		store:        store,
		events:       events,
		enricher:     enricher,
		logger:       logger,
		queueName:    config.Queue.StatusQueue,
		pollInterval: config.Queue.PollIntervalDuration(),
		storeRetries: config.Ingest.StoreRetries,
		retryBackoff: config.Ingest.RetryBackoffDuration(),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// Start launches the consumer loop.
func (a *Adapter) Start() error {
	a.logger.Info().
		Str("queue", a.queueName).
		Dur("poll_interval", a.pollInterval).
		Msg("Starting status ingestion")

	common.SafeGo(a.logger, "ingest-consumer", a.consumeLoop)
	return nil
}

// Stop cancels the consumer loop and waits for the in-flight message to
// finish.
func (a *Adapter) Stop() error {
	a.cancel()
	select {
	case <-a.done:
	case <-time.After(10 * time.Second):
		a.logger.Warn().Msg("Timed out waiting for ingestion consumer to stop")
	}
	return nil
}

func (a *Adapter) consumeLoop() {
	defer close(a.done)

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			a.logger.Debug().Msg("Ingestion consumer stopped")
			return
		case <-ticker.C:
			a.drain()
		}
	}
}

// drain consumes until the queue is empty so a burst of reports does not
// pay one poll interval per message.
func (a *Adapter) drain() {
	for {
		select {
		case <-a.ctx.Done():
			return
		default:
		}

		msg, ack, err := a.queue.Receive(a.ctx, a.queueName)
		if err == models.ErrNoMessage {
			return
		}
		if err != nil {
			a.logger.Warn().Err(err).Msg("Error receiving status message")
			return
		}

		a.processMessage(msg, ack)
	}
}

// processMessage applies one raw report. Every path acknowledges exactly
// once: the bus delivers at least once, and a message that cannot be
// applied now will never apply better on redelivery.
func (a *Adapter) processMessage(msg *models.QueueMessage, ack interfaces.AckFunc) {
	defer func() {
		if err := ack(); err != nil {
			a.logger.Warn().
				Err(err).
				Str("message_id", msg.ID).
				Msg("Failed to ack status message")
		}
	}()

	patch, err := NormalizePayload(msg.Payload)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("message_id", msg.ID).
			Int("receive_count", msg.ReceiveCount).
			Msg("Dropping unusable status message")
		return
	}

	rec, err := a.upsertWithRetry(patch)
	if err != nil {
		a.logger.Error().
			Err(err).
			Str("message_id", msg.ID).
			Str("video_id", patch.ID).
			Msg("Store write failed after retries, dropping status message")
		return
	}

	// The event carries the id exactly as the producer referenced it, so
	// viewers tracking either identifier space still match.
	videoID := patch.ID
	if videoID == "" {
		videoID = patch.YouTubeID
	}
	event := rec.Event(videoID, time.Now().UTC())

	if err := a.events.PublishSync(a.ctx, interfaces.Event{
		Type:    interfaces.EventVideoStatus,
		Payload: event,
	}); err != nil {
		a.logger.Warn().
			Err(err).
			Str("video_id", rec.ID).
			Msg("Status event fan-out reported errors")
	}

	if a.enricher != nil && rec.Title == "" && rec.YouTubeID != "" {
		a.enricher.EnrichAsync(rec.ID, rec.YouTubeID)
	}
}

// upsertWithRetry writes the store with a bounded linear backoff. After
// the final attempt the error is returned for the caller to log; the
// message is dropped rather than ever blocking the consumer loop.
func (a *Adapter) upsertWithRetry(patch *models.StatusPatch) (*models.VideoStatus, error) {
	var rec *models.VideoStatus
	var err error

	for attempt := 0; attempt <= a.storeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-a.ctx.Done():
				return nil, a.ctx.Err()
			case <-time.After(time.Duration(attempt) * a.retryBackoff):
			}
			a.logger.Debug().
				Int("attempt", attempt).
				Str("video_id", patch.ID).
				Msg("Retrying store write")
		}

		rec, err = a.store.Upsert(a.ctx, patch)
		if err == nil {
			return rec, nil
		}
	}

	return nil, err
}
