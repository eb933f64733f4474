// -----------------------------------------------------------------------
// Last Modified: Saturday, 18th April 2026 11:44:21 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

// Package status assembles application diagnostics: uptime, store counts,
// queue depths, viewer connections. It feeds both the /api/status
// endpoint and the periodic stats frame, and hosts the scheduled audits
// that report on them.
package status

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/pkg/models"
)

// HubStats is the slice of the WebSocket hub this service reports on.
type HubStats interface {
	ClientCount() int
	SendFailureCount() uint64
}

// Service manages application status
type Service struct {
	config    *common.Config
	store     interfaces.StatusStore
	queue     interfaces.QueueManager
	events    interfaces.EventService
	hub       HubStats
	scheduler interfaces.SchedulerService
	logger    arbor.ILogger
	startedAt time.Time
}

// NewService creates a new StatusService. The hub and scheduler attach
// later through SetHub/SetScheduler; until then their snapshot sections
// are omitted.
func NewService(config *common.Config, store interfaces.StatusStore, queue interfaces.QueueManager, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		config:    config,
		store:     store,
		queue:     queue,
		events:    events,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
}

// SetHub attaches the WebSocket hub for connection stats. Optional; stats
// omit the websocket section until a hub is attached.
func (s *Service) SetHub(hub HubStats) {
	s.hub = hub
}

// SetScheduler attaches the scheduler for job status reporting.
func (s *Service) SetScheduler(scheduler interfaces.SchedulerService) {
	s.scheduler = scheduler
}

// Uptime returns how long the service has been running.
func (s *Service) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// BuildStats assembles the periodic diagnostics payload. Failures in any
// one source are logged and that section left empty; stats are
// best-effort by contract and never block on a broken dependency.
func (s *Service) BuildStats(ctx context.Context) models.StatsPayload {
	stats := models.StatsPayload{
		UptimeSeconds: int64(s.Uptime().Seconds()),
	}

	if counts, err := s.store.CountByStatus(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to count videos for stats")
	} else {
		stats.StatusCounts = make(map[string]int, len(counts))
		for status, count := range counts {
			stats.StatusCounts[string(status)] = count
		}
	}

	stats.QueueDepths = s.queueDepths(ctx)
	return stats
}

// PublishStats pushes the current stats payload onto the event bus, where
// the hub rebroadcasts it as a stats frame.
func (s *Service) PublishStats(ctx context.Context) error {
	return s.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventStats,
		Payload: s.BuildStats(ctx),
	})
}

// RunStatsReport is the scheduled stats job.
func (s *Service) RunStatsReport() error {
	return s.PublishStats(context.Background())
}

// RunStaleAudit is the scheduled stale-processing audit: it logs every
// processing record idle past the threshold and publishes fresh stats.
// Observability only — nothing is cancelled or reset here; the records
// stay eligible for a manual reset through the gate.
func (s *Service) RunStaleAudit() error {
	ctx := context.Background()
	threshold := s.config.Ingest.StaleThresholdDuration()
	cutoff := time.Now().UTC().Add(-threshold)

	stale, err := s.store.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, rec := range stale {
		s.logger.Warn().
			Str("video_id", rec.ID).
			Str("stage", rec.Stage).
			Int("progress", rec.Progress).
			Str("idle", time.Since(rec.LastUpdated).Round(time.Minute).String()).
			Msg("Video processing with no recent updates")
	}
	if len(stale) > 0 {
		s.logger.Warn().
			Int("count", len(stale)).
			Str("threshold", threshold.String()).
			Msg("Stale processing audit found idle videos")
	}

	return s.PublishStats(ctx)
}

// Snapshot returns the full application status served on /api/status.
func (s *Service) Snapshot(ctx context.Context) map[string]interface{} {
	snapshot := map[string]interface{}{
		"app":         "specto",
		"version":     common.GetVersion(),
		"environment": s.config.Environment,
		"started_at":  s.startedAt.Format(time.RFC3339),
		"uptime":      s.Uptime().Round(time.Second).String(),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	if counts, err := s.store.CountByStatus(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to count videos for status snapshot")
	} else {
		videos := make(map[string]interface{}, len(counts)+1)
		total := 0
		for status, count := range counts {
			videos[string(status)] = count
			total += count
		}
		videos["total"] = total
		snapshot["videos"] = videos
	}

	snapshot["queues"] = s.queueDepths(ctx)

	if s.hub != nil {
		snapshot["websocket"] = map[string]interface{}{
			"connections":   s.hub.ClientCount(),
			"send_failures": s.hub.SendFailureCount(),
		}
	}

	if s.scheduler != nil {
		jobs := make(map[string]interface{})
		for name, job := range s.scheduler.GetJobStatuses() {
			entry := map[string]interface{}{
				"schedule": job.Schedule,
			}
			if job.LastRun != nil {
				entry["last_run"] = job.LastRun.UTC().Format(time.RFC3339)
			}
			if job.NextRun != nil {
				entry["next_run"] = job.NextRun.UTC().Format(time.RFC3339)
			}
			if job.LastErr != "" {
				entry["last_error"] = job.LastErr
			}
			jobs[name] = entry
		}
		snapshot["jobs"] = jobs
	}

	return snapshot
}

// queueDepths reports the depth of both bus topics. A depth that cannot
// be read is reported as -1 rather than silently dropped.
func (s *Service) queueDepths(ctx context.Context) map[string]int64 {
	depths := make(map[string]int64, 2)
	for _, name := range []string{s.config.Queue.StatusQueue, s.config.Queue.SubmitQueue} {
		depth, err := s.queue.Depth(ctx, name)
		if err != nil {
			s.logger.Warn().Err(err).Str("queue", name).Msg("Failed to read queue depth")
			depth = -1
		}
		depths[name] = depth
	}
	return depths
}
