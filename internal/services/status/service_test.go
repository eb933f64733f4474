package status

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/ternarybob/specto/internal/queue"
	"github.com/ternarybob/specto/internal/services/events"
	"github.com/ternarybob/specto/internal/services/scheduler"
	"github.com/ternarybob/specto/internal/storage/badger"
	pkgmodels "github.com/ternarybob/specto/pkg/models"
)

type fakeHub struct {
	clients  int
	failures uint64
}

func (f *fakeHub) ClientCount() int         { return f.clients }
func (f *fakeHub) SendFailureCount() uint64 { return f.failures }

type statsCollector struct {
	mu       sync.Mutex
	payloads []pkgmodels.StatsPayload
}

func (c *statsCollector) handle(ctx context.Context, event interfaces.Event) error {
	stats, ok := event.Payload.(pkgmodels.StatsPayload)
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, stats)
	return nil
}

func (c *statsCollector) latest() (pkgmodels.StatsPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payloads) == 0 {
		return pkgmodels.StatsPayload{}, false
	}
	return c.payloads[len(c.payloads)-1], true
}

func newTestStatusService(t *testing.T) (*Service, interfaces.StatusStore, interfaces.QueueManager, *statsCollector, *common.Config) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = t.TempDir()

	db, err := badger.NewBadgerDB(common.GetLogger(), &cfg.Storage.Badger)
	require.NoError(t, err, "Failed to open badger store")
	t.Cleanup(func() { _ = db.Close() })

	store := badger.NewStatusStore(db, cfg.Ingest.StaleThresholdDuration(), common.GetLogger())

	manager, err := queue.NewManager(db.Badger(), cfg.Queue.VisibilityTimeoutDuration(), cfg.Queue.MaxReceive, common.GetLogger())
	require.NoError(t, err, "Failed to create queue manager")

	bus := events.NewService(arbor.NewLogger())
	t.Cleanup(func() { _ = bus.Close() })

	collector := &statsCollector{}
	require.NoError(t, bus.Subscribe(interfaces.EventStats, collector.handle))

	return NewService(cfg, store, manager, bus, arbor.NewLogger()), store, manager, collector, cfg
}

func TestBuildStatsCollectsCountsAndDepths(t *testing.T) {
	svc, store, manager, _, cfg := newTestStatusService(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_a"})
	require.NoError(t, err)
	progress := 30
	_, err = store.Upsert(ctx, &models.StatusPatch{ID: "vid_b", Progress: &progress})
	require.NoError(t, err)

	_, err = manager.Publish(ctx, cfg.Queue.StatusQueue, []byte(`{"video_id":"vid_a"}`))
	require.NoError(t, err)
	_, err = manager.Publish(ctx, cfg.Queue.StatusQueue, []byte(`{"video_id":"vid_b"}`))
	require.NoError(t, err)

	stats := svc.BuildStats(ctx)

	assert.Equal(t, 1, stats.StatusCounts[string(pkgmodels.StatusPending)])
	assert.Equal(t, 1, stats.StatusCounts[string(pkgmodels.StatusProcessing)])
	assert.Equal(t, int64(2), stats.QueueDepths[cfg.Queue.StatusQueue])
	assert.Equal(t, int64(0), stats.QueueDepths[cfg.Queue.SubmitQueue])
	assert.GreaterOrEqual(t, stats.UptimeSeconds, int64(0))
}

func TestRunStatsReportPublishesToBus(t *testing.T) {
	svc, _, _, collector, _ := newTestStatusService(t)

	require.NoError(t, svc.RunStatsReport())

	require.Eventually(t, func() bool {
		_, ok := collector.latest()
		return ok
	}, 2*time.Second, 20*time.Millisecond, "Stats report must publish onto the bus")
}

func TestRunStaleAuditReportsIdleProcessing(t *testing.T) {
	svc, store, _, collector, cfg := newTestStatusService(t)
	ctx := context.Background()

	// Seed a record that has been processing for twice the threshold. The
	// backdated producer timestamp must land on the creating upsert: the
	// store never moves LastUpdated backwards on an existing record.
	progress := 50
	backdated := time.Now().UTC().Add(-2 * cfg.Ingest.StaleThresholdDuration())
	rec, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_stuck", Progress: &progress, Timestamp: &backdated})
	require.NoError(t, err)
	require.Equal(t, pkgmodels.StatusProcessing, rec.Status)
	require.True(t, rec.LastUpdated.Equal(backdated), "Creating upsert must honor the producer timestamp")

	require.NoError(t, svc.RunStaleAudit(), "Stale audit failed")

	require.Eventually(t, func() bool {
		_, ok := collector.latest()
		return ok
	}, 2*time.Second, 20*time.Millisecond, "Audit must publish stats")

	// The audit observes only: the record must still be processing.
	after, err := store.Get(ctx, "vid_stuck")
	require.NoError(t, err)
	assert.Equal(t, pkgmodels.StatusProcessing, after.Status, "Audit never resets or cancels")
	assert.True(t, after.LastUpdated.Equal(backdated), "Audit never touches the staleness clock")
}

func TestSnapshotIncludesAttachedSections(t *testing.T) {
	svc, store, _, _, _ := newTestStatusService(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, &models.StatusPatch{ID: "vid_a"})
	require.NoError(t, err)

	hub := &fakeHub{clients: 3, failures: 1}
	svc.SetHub(hub)

	sched := scheduler.NewService(arbor.NewLogger())
	require.NoError(t, sched.RegisterJob("stats-report", "* * * * *", func() error { return nil }))
	svc.SetScheduler(sched)

	snapshot := svc.Snapshot(ctx)

	assert.Equal(t, "specto", snapshot["app"])
	assert.NotEmpty(t, snapshot["version"])
	assert.NotEmpty(t, snapshot["uptime"])

	videos, ok := snapshot["videos"].(map[string]interface{})
	require.True(t, ok, "Snapshot must carry the video counts section")
	assert.Equal(t, 1, videos["total"])

	ws, ok := snapshot["websocket"].(map[string]interface{})
	require.True(t, ok, "Snapshot must carry the websocket section once a hub attaches")
	assert.Equal(t, 3, ws["connections"])

	jobs, ok := snapshot["jobs"].(map[string]interface{})
	require.True(t, ok, "Snapshot must carry the jobs section once a scheduler attaches")
	assert.Contains(t, jobs, "stats-report")
}

func TestSnapshotOmitsSectionsBeforeAttachment(t *testing.T) {
	svc, _, _, _, _ := newTestStatusService(t)

	snapshot := svc.Snapshot(context.Background())

	_, hasWS := snapshot["websocket"]
	assert.False(t, hasWS, "No websocket section before a hub attaches")
	_, hasJobs := snapshot["jobs"]
	assert.False(t, hasJobs, "No jobs section before a scheduler attaches")
}
