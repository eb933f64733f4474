// -----------------------------------------------------------------------
// Last Modified: Monday, 20th April 2026 9:14:38 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/handlers"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/queue"
	"github.com/ternarybob/specto/internal/services/events"
	"github.com/ternarybob/specto/internal/services/ingest"
	"github.com/ternarybob/specto/internal/services/metadata"
	"github.com/ternarybob/specto/internal/services/scheduler"
	"github.com/ternarybob/specto/internal/services/selection"
	"github.com/ternarybob/specto/internal/services/status"
	"github.com/ternarybob/specto/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB          *badger.BadgerDB
	StatusStore interfaces.StatusStore

	// Event-driven services
	EventService     interfaces.EventService
	SchedulerService interfaces.SchedulerService

	// Queue plumbing
	QueueManager    interfaces.QueueManager
	SubmitPublisher interfaces.SubmitPublisher

	// Status pipeline
	MetadataEnricher interfaces.MetadataEnricher
	IngestAdapter    *ingest.Adapter
	SelectionService interfaces.SelectionService
	StatusService    *status.Service

	// Log streaming to viewers
	WSWriter *handlers.WebSocketWriter

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	WSHandler     *handlers.WebSocketHandler
	VideoHandler  *handlers.VideoHandler
	StatusHandler *handlers.StatusHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize WebSocket handler before the services that feed it.
	// The hub must exist so log streaming and status broadcasts have a
	// destination from the first service log onward.
	app.EventService = events.NewService(app.Logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, app.Logger, &app.Config.WebSocket)

	// Bridge arbor's context channel to the hub so viewers see a live
	// log tail alongside status frames.
	app.WSWriter = handlers.NewWebSocketWriter(app.WSHandler, &app.Config.WebSocket, app.Logger)
	if err := app.WSWriter.Start(); err != nil {
		return nil, fmt.Errorf("failed to start websocket log writer: %w", err)
	}
	logBatchChannel := app.WSWriter.GetChannel()
	app.Logger.SetChannel("context", logBatchChannel)

	app.Logger.Info().
		Int("channel_capacity", cap(logBatchChannel)).
		Str("min_level", app.Config.WebSocket.MinLevel).
		Msg("WebSocket log writer initialized with arbor context channel")

	// Initialize services
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	// Start the queue consumer AFTER all handlers are initialized so the
	// first drained message never races handler wiring
	if err := app.IngestAdapter.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ingest adapter: %w", err)
	}

	if err := app.SchedulerService.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info().
		Str("status_queue", cfg.Queue.StatusQueue).
		Str("submit_queue", cfg.Queue.SubmitQueue).
		Bool("metadata_enabled", cfg.Metadata.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	db, err := badger.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to open badger database: %w", err)
	}
	a.DB = db

	a.StatusStore = badger.NewStatusStore(db, a.Config.Ingest.StaleThresholdDuration(), a.Logger)

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order.
//
// STATUS PIPELINE:
// 1. QueueManager (Badger-backed) - durable status and submit queues
// 2. IngestAdapter - drains the status queue into the store
// 3. SelectionService - selection flags and batch submission
// 4. StatusService - stats reporting and the stale-processing audit
func (a *App) initServices() error {
	// Queue manager shares the status store's Badger instance
	queueManager, err := queue.NewManager(
		a.DB.Badger(),
		a.Config.Queue.VisibilityTimeoutDuration(),
		a.Config.Queue.MaxReceive,
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create queue manager: %w", err)
	}
	a.QueueManager = queueManager

	// Submit publisher hands accepted batches to the worker cluster
	a.SubmitPublisher = queue.NewSubmitPublisher(a.QueueManager, a.Config.Queue.SubmitQueue, a.Logger)

	// Title enricher is best-effort; the adapter treats it as optional
	a.MetadataEnricher = metadata.NewEnricher(&a.Config.Metadata, a.StatusStore, a.Logger)

	// Ingest adapter is the only status queue consumer
	a.IngestAdapter = ingest.NewAdapter(
		a.Config,
		a.QueueManager,
		a.StatusStore,
		a.EventService,
		a.MetadataEnricher,
		a.Logger,
	)

	a.SelectionService = selection.NewController(a.StatusStore, a.SubmitPublisher, a.EventService, a.Logger)

	a.StatusService = status.NewService(a.Config, a.StatusStore, a.QueueManager, a.EventService, a.Logger)
	a.StatusService.SetHub(a.WSHandler)

	// Scheduler runs the background audits on cron schedules
	a.SchedulerService = scheduler.NewService(a.Logger)
	if err := a.SchedulerService.RegisterJob(
		"stale-processing-audit",
		a.Config.Scheduler.StaleAuditSchedule,
		a.StatusService.RunStaleAudit,
	); err != nil {
		return fmt.Errorf("failed to register stale audit job: %w", err)
	}
	if err := a.SchedulerService.RegisterJob(
		"stats-report",
		a.Config.Scheduler.StatsSchedule,
		a.StatusService.RunStatsReport,
	); err != nil {
		return fmt.Errorf("failed to register stats report job: %w", err)
	}
	a.StatusService.SetScheduler(a.SchedulerService)

	return nil
}

// initHandlers initializes the HTTP handlers
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler()
	a.VideoHandler = handlers.NewVideoHandler(a.StatusStore, a.SelectionService, a.QueueManager, a.Config, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.StatusService, a.Logger)

	a.Logger.Debug().Msg("HTTP handlers initialized")

	return nil
}

// Close shuts down components in reverse dependency order
func (a *App) Close() error {
	// Stop timed audits before the services they call into
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	// Stop the queue consumer so no message is mid-flight during teardown
	if a.IngestAdapter != nil {
		if err := a.IngestAdapter.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop ingest adapter")
		}
	}

	// Stop the log pump after the producers above have gone quiet
	if a.WSWriter != nil {
		if err := a.WSWriter.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop websocket log writer")
		}
	}

	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue manager")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	// Close storage last; everything above may still flush writes
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
