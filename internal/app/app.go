// -----------------------------------------------------------------------
// Application wiring - builds storage, services, workers and handlers
// in dependency order; Close unwinds in reverse
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/handlers"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/queue"
	"github.com/ternarybob/respondeo/internal/services/crawler"
	"github.com/ternarybob/respondeo/internal/services/events"
	"github.com/ternarybob/respondeo/internal/services/intake"
	"github.com/ternarybob/respondeo/internal/services/llm"
	"github.com/ternarybob/respondeo/internal/services/maintenance"
	"github.com/ternarybob/respondeo/internal/services/pipeline"
	"github.com/ternarybob/respondeo/internal/services/qa"
	"github.com/ternarybob/respondeo/internal/services/registry"
	"github.com/ternarybob/respondeo/internal/services/similarity"
	"github.com/ternarybob/respondeo/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager interfaces.StorageManager

	// Core services
	EventService       interfaces.EventService
	QueueManager       interfaces.QueueManager
	WorkerPool         interfaces.WorkerPool
	CrawlerService     interfaces.CrawlerService
	LLMService         interfaces.LLMService
	RegistryService    interfaces.PublisherRegistry
	IntakeService      interfaces.IntakeService
	SimilarityService  interfaces.SimilarityService
	QAService          interfaces.QAService
	MaintenanceService *maintenance.Service

	// HTTP layer
	Auth              *handlers.Auth
	QuestionsHandler  *handlers.QuestionsHandler
	JobsHandler       *handlers.JobsHandler
	SearchHandler     *handlers.SearchHandler
	QAHandler         *handlers.QAHandler
	PublishersHandler *handlers.PublishersHandler
	EventsHandler     *handlers.EventsHandler
	APIHandler        *handlers.APIHandler
}

// New creates the application with all dependencies wired. The worker
// pool and maintenance scheduler are started before New returns, so a
// queue holding jobs from a previous run resumes draining immediately.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = arbor.NewLogger()
	}

	app := &App{Config: cfg, Logger: logger}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	if err := app.initDatabase(); err != nil {
		app.cancelCtx()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.cancelCtx()
		_ = app.StorageManager.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initHandlers(); err != nil {
		app.cancelCtx()
		_ = app.StorageManager.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	// Workers start after handlers so the event stream has its
	// subscribers before the first leftover job is claimed.
	if err := app.WorkerPool.Start(app.ctx); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	if err := app.MaintenanceService.Start(); err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to start maintenance scheduler")
	}

	app.Logger.Info().
		Str("environment", cfg.Environment).
		Int("workers", app.WorkerPool.WorkerCount()).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger + Postgres)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("badger_path", a.Config.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order.
func (a *App) initServices() error {
	// Event service carries job lifecycle events to websocket clients.
	a.EventService = events.NewService(a.Logger)
	a.Logger.Debug().Msg("Event service initialized")

	// Queue manager builds its lease transactions directly on the
	// badgerhold store backing the storage manager.
	badgerStore, ok := a.StorageManager.DB().(*badgerhold.Store)
	if !ok {
		return fmt.Errorf("storage manager is not backed by BadgerDB (got %T)", a.StorageManager.DB())
	}
	a.QueueManager = queue.NewManager(badgerStore, a.EventService, a.Logger, a.Config.Queue.MaxRetries)
	a.Logger.Debug().Int("max_retries", a.Config.Queue.MaxRetries).Msg("Queue manager initialized")

	a.RegistryService = registry.NewService(a.StorageManager.PublisherStorage(), a.Config.Defaults, a.Logger)
	a.Logger.Debug().Msg("Publisher registry initialized")

	a.CrawlerService = crawler.NewService(a.Config.Crawler, a.Logger)
	a.Logger.Debug().
		Bool("javascript", a.Config.Crawler.EnableJavaScript).
		Msg("Crawler service initialized")

	// The pipeline cannot produce summaries, questions or embeddings
	// without a provider, so a missing key fails startup here rather
	// than on the first job.
	llmService, err := llm.NewService(a.ctx, a.Config.LLM, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM service: %w", err)
	}
	a.LLMService = llmService
	a.Logger.Debug().
		Str("default_provider", a.Config.LLM.DefaultProvider).
		Str("embedding_model", a.Config.LLM.EmbeddingModel).
		Msg("LLM service initialized")

	processor := pipeline.NewOrchestrator(
		a.QueueManager,
		a.RegistryService,
		a.CrawlerService,
		a.LLMService,
		a.StorageManager.ContentStorage(),
		a.StorageManager.SummaryStorage(),
		a.StorageManager.QuestionStorage(),
		a.Config.Defaults,
		a.Config.Crawler.MinWordCount,
		a.Logger,
	)
	a.Logger.Debug().Msg("Pipeline orchestrator initialized")

	a.WorkerPool = queue.NewWorkerPool(a.QueueManager, processor, a.Config.Queue, a.Logger)
	a.Logger.Debug().Int("concurrency", a.Config.Queue.Concurrency).Msg("Worker pool initialized")

	a.IntakeService = intake.NewService(
		a.RegistryService,
		a.QueueManager,
		a.StorageManager.ContentStorage(),
		a.StorageManager.SummaryStorage(),
		a.StorageManager.QuestionStorage(),
		a.Logger,
	)
	a.Logger.Debug().Msg("Intake service initialized")

	a.SimilarityService = similarity.NewService(
		a.StorageManager.QuestionStorage(),
		a.StorageManager.SummaryStorage(),
		a.StorageManager.ContentStorage(),
		a.Logger,
	)
	a.Logger.Debug().Msg("Similarity service initialized")

	a.QAService = qa.NewService(a.LLMService, a.Config.QA, a.Config.Defaults, a.Logger)
	a.Logger.Debug().Msg("QA service initialized")

	// Maintenance needs the badger connection for value-log GC, which
	// only the concrete manager exposes.
	mgr, ok := a.StorageManager.(*storage.Manager)
	if !ok {
		return fmt.Errorf("storage manager does not expose a badger connection (got %T)", a.StorageManager)
	}
	a.MaintenanceService = maintenance.NewService(a.QueueManager, a.RegistryService, mgr.BadgerDB(), a.Config, a.Logger)
	a.Logger.Debug().Str("reclaim_schedule", a.Config.Queue.ReclaimSchedule).Msg("Maintenance service initialized")

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() error {
	a.Auth = handlers.NewAuth(a.RegistryService, a.Config.Server.AdminAPIKey, a.Logger)
	if a.Config.Server.AdminAPIKey == "" {
		a.Logger.Warn().Msg("Admin API key not configured - admin endpoints are disabled")
	}

	a.QuestionsHandler = handlers.NewQuestionsHandler(a.IntakeService, a.Auth, a.Logger)
	a.JobsHandler = handlers.NewJobsHandler(a.IntakeService, a.QueueManager, a.Auth, a.Logger)
	a.SearchHandler = handlers.NewSearchHandler(a.SimilarityService, a.Auth, a.Logger)
	a.QAHandler = handlers.NewQAHandler(a.QAService, a.Auth, a.Logger)
	a.PublishersHandler = handlers.NewPublishersHandler(a.RegistryService, a.Auth, a.Logger)

	// The events handler subscribes itself to the event service and
	// relays job lifecycle events to connected admin clients.
	a.EventsHandler = handlers.NewEventsHandler(a.EventService, a.Auth, a.Logger)

	a.APIHandler = handlers.NewAPIHandler(a.StorageManager, a.QueueManager, a.WorkerPool, &a.Config.LLM, a.Logger)

	a.Logger.Debug().Msg("HTTP handlers initialized")
	return nil
}

// Close shuts down the application in reverse dependency order. Worker
// shutdown waits for in-flight jobs, so storage stays open until last
// and their final writes land.
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application")

	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.MaintenanceService != nil && a.MaintenanceService.IsRunning() {
		if err := a.MaintenanceService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop maintenance scheduler")
		}
	}

	if a.WorkerPool != nil && a.WorkerPool.IsRunning() {
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop worker pool")
		}
	}

	if a.CrawlerService != nil {
		if err := a.CrawlerService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close crawler service")
		}
	}

	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM service")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to close storage manager")
			return err
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
