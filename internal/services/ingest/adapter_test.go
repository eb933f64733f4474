package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/ternarybob/specto/internal/services/events"
	pkgmodels "github.com/ternarybob/specto/pkg/models"
)

// fakeQueue is an in-memory QueueManager that records acknowledgements.
type fakeQueue struct {
	mu    sync.Mutex
	msgs  []*models.QueueMessage
	acked []string
	next  int
}

func (q *fakeQueue) Publish(ctx context.Context, queue string, payload []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	id := fmt.Sprintf("msg-%d", q.next)
	q.msgs = append(q.msgs, &models.QueueMessage{
		ID:           id,
		Payload:      payload,
		EnqueuedAt:   time.Now(),
		ReceiveCount: 1,
	})
	return id, nil
}

func (q *fakeQueue) Receive(ctx context.Context, queue string) (*models.QueueMessage, interfaces.AckFunc, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return nil, nil, models.ErrNoMessage
	}
	msg := q.msgs[0]
	q.msgs = q.msgs[1:]

	ack := func() error {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.acked = append(q.acked, msg.ID)
		return nil
	}
	return msg, ack, nil
}

func (q *fakeQueue) Depth(ctx context.Context, queue string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.msgs)), nil
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) ackedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.acked)
}

// fakeStatusStore records upserted patches and can simulate transient
// write failures.
type fakeStatusStore struct {
	mu       sync.Mutex
	patches  []models.StatusPatch
	failures int
	seq      uint64
}

func (f *fakeStatusStore) Upsert(ctx context.Context, patch *models.StatusPatch) (*models.VideoStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("simulated store failure")
	}

	f.patches = append(f.patches, *patch)
	f.seq++

	rec := &models.VideoStatus{
		ID:          patch.ID,
		YouTubeID:   patch.YouTubeID,
		Status:      pkgmodels.StatusPending,
		Seq:         f.seq,
		LastUpdated: time.Now().UTC(),
	}
	if rec.ID == "" {
		rec.ID = "vid_" + patch.YouTubeID
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.Progress != nil {
		rec.Progress = *patch.Progress
	}
	if patch.Stage != nil {
		rec.Stage = *patch.Stage
	}
	return rec, nil
}

func (f *fakeStatusStore) Get(ctx context.Context, identity string) (*models.VideoStatus, error) {
	return nil, interfaces.ErrVideoNotFound
}

func (f *fakeStatusStore) GetBatch(ctx context.Context, identities []string) ([]*models.VideoStatus, error) {
	return nil, nil
}

func (f *fakeStatusStore) List(ctx context.Context) ([]*models.VideoStatus, error) { return nil, nil }

func (f *fakeStatusStore) Reset(ctx context.Context, identity string) (*models.VideoStatus, error) {
	return nil, interfaces.ErrVideoNotFound
}

func (f *fakeStatusStore) SetSelected(ctx context.Context, identity string, selected bool) (*models.VideoStatus, bool, error) {
	return nil, false, interfaces.ErrVideoNotFound
}

func (f *fakeStatusStore) MarkSubmitted(ctx context.Context, identity, parentID string, at time.Time) (*models.VideoStatus, error) {
	return nil, interfaces.ErrVideoNotFound
}

func (f *fakeStatusStore) SetTitle(ctx context.Context, identity, title string) (*models.VideoStatus, error) {
	return nil, interfaces.ErrVideoNotFound
}

func (f *fakeStatusStore) CountByStatus(ctx context.Context) (map[pkgmodels.ProcessingStatus]int, error) {
	return nil, nil
}

func (f *fakeStatusStore) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.VideoStatus, error) {
	return nil, nil
}

func (f *fakeStatusStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.patches)
}

// statusCollector subscribes to the event service and records every
// status event it sees.
type statusCollector struct {
	mu     sync.Mutex
	events []pkgmodels.StatusEvent
}

func (c *statusCollector) handle(ctx context.Context, event interfaces.Event) error {
	ev, ok := event.Payload.(pkgmodels.StatusEvent)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", event.Payload)
	}
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *statusCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *statusCollector) last() pkgmodels.StatusEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

func newTestAdapter(t *testing.T, store *fakeStatusStore) (*Adapter, *fakeQueue, *statusCollector) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Queue.PollInterval = "20ms"
	cfg.Ingest.StoreRetries = 2
	cfg.Ingest.RetryBackoff = "5ms"

	queue := &fakeQueue{}
	bus := events.NewService(arbor.NewLogger())
	collector := &statusCollector{}
	require.NoError(t, bus.Subscribe(interfaces.EventVideoStatus, collector.handle))

	adapter := NewAdapter(cfg, queue, store, bus, nil, arbor.NewLogger())
	t.Cleanup(func() { _ = adapter.Stop() })

	return adapter, queue, collector
}

func receiveOne(t *testing.T, queue *fakeQueue) (*models.QueueMessage, interfaces.AckFunc) {
	t.Helper()
	msg, ack, err := queue.Receive(context.Background(), "video-status")
	require.NoError(t, err, "Expected a message on the queue")
	return msg, ack
}

func TestProcessMessageAppliesReportAndAcks(t *testing.T) {
	store := &fakeStatusStore{}
	adapter, queue, collector := newTestAdapter(t, store)

	_, err := queue.Publish(context.Background(), "video-status",
		[]byte(`{"video_id":"V1","progress_percent":42,"current_stage":"transcribing"}`))
	require.NoError(t, err)

	msg, ack := receiveOne(t, queue)
	adapter.processMessage(msg, ack)

	assert.Equal(t, 1, queue.ackedCount(), "Message must be acked exactly once")
	require.Equal(t, 1, store.upsertCount(), "One store write expected")
	require.Equal(t, 1, collector.count(), "One status event expected")

	event := collector.last()
	assert.Equal(t, "V1", event.VideoID, "Event carries the producer-referenced id")
	require.NotNil(t, event.Progress)
	assert.Equal(t, 42, *event.Progress)
	require.NotNil(t, event.Stage)
	assert.Equal(t, "transcribing", *event.Stage)
}

func TestProcessMessagePoisonIsAckedAndDropped(t *testing.T) {
	store := &fakeStatusStore{}
	adapter, queue, collector := newTestAdapter(t, store)

	for _, payload := range []string{
		`{"progress_percent":50}`,
		`three quarters done`,
	} {
		_, err := queue.Publish(context.Background(), "video-status", []byte(payload))
		require.NoError(t, err)

		msg, ack := receiveOne(t, queue)
		adapter.processMessage(msg, ack)
	}

	assert.Equal(t, 2, queue.ackedCount(), "Poison messages must still be acked to stop redelivery")
	assert.Equal(t, 0, store.upsertCount(), "Poison messages never reach the store")
	assert.Equal(t, 0, collector.count(), "Poison messages never produce events")
}

func TestProcessMessageDropsAfterRetriesExhausted(t *testing.T) {
	store := &fakeStatusStore{failures: 10}
	adapter, queue, collector := newTestAdapter(t, store)

	_, err := queue.Publish(context.Background(), "video-status", []byte(`{"video_id":"V2","progress":10}`))
	require.NoError(t, err)

	msg, ack := receiveOne(t, queue)
	adapter.processMessage(msg, ack)

	assert.Equal(t, 1, queue.ackedCount(), "Message is acked even when every store attempt failed")
	assert.Equal(t, 0, collector.count(), "No event after the write was dropped")
}

func TestProcessMessageRecoversOnRetry(t *testing.T) {
	store := &fakeStatusStore{failures: 1}
	adapter, queue, collector := newTestAdapter(t, store)

	_, err := queue.Publish(context.Background(), "video-status", []byte(`{"video_id":"V3","progress":20}`))
	require.NoError(t, err)

	msg, ack := receiveOne(t, queue)
	adapter.processMessage(msg, ack)

	assert.Equal(t, 1, store.upsertCount(), "Write should succeed on retry")
	assert.Equal(t, 1, collector.count(), "Event should follow the successful write")
}

func TestProcessMessageEventCarriesBothIdentifiers(t *testing.T) {
	store := &fakeStatusStore{}
	adapter, queue, collector := newTestAdapter(t, store)

	_, err := queue.Publish(context.Background(), "video-status",
		[]byte(`{"videoId":"uuid-456","youtube_id":"yt123","status":"processing"}`))
	require.NoError(t, err)

	msg, ack := receiveOne(t, queue)
	adapter.processMessage(msg, ack)

	require.Equal(t, 1, collector.count())
	event := collector.last()
	assert.Equal(t, "uuid-456", event.VideoID)
	assert.Equal(t, "uuid-456", event.DatabaseID)
	assert.Equal(t, "yt123", event.YouTubeID)
	assert.Greater(t, event.Seq, uint64(0), "Adapter events always carry a sequence")
}

func TestConsumerLoopDrainsQueue(t *testing.T) {
	store := &fakeStatusStore{}
	adapter, queue, collector := newTestAdapter(t, store)

	for i := 0; i < 3; i++ {
		payload := fmt.Sprintf(`{"video_id":"V%d","progress_percent":%d}`, i, i*10)
		_, err := queue.Publish(context.Background(), "video-status", []byte(payload))
		require.NoError(t, err)
	}

	require.NoError(t, adapter.Start())

	require.Eventually(t, func() bool {
		return queue.ackedCount() == 3 && collector.count() == 3
	}, 3*time.Second, 10*time.Millisecond, "Consumer loop should drain all queued reports")

	require.NoError(t, adapter.Stop())
}
