package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"clinicledger/internal/clinics"
	"clinicledger/internal/config"
	"clinicledger/internal/dataprocessing"
	apperrors "clinicledger/internal/errors"
	"clinicledger/internal/files"
	"clinicledger/internal/infrastructure"
	"clinicledger/internal/ingestion"
	"clinicledger/internal/middleware"
	"clinicledger/internal/operations"
	"clinicledger/internal/scheduler"
	"clinicledger/internal/storage"
	handlers "clinicledger/internal/transport/http"
	"clinicledger/internal/versioning"
	ws "clinicledger/internal/websocket"
	"clinicledger/pkg/contracts"
)

// Application represents the main application container
type Application struct {
	Config       *config.Config
	Logger       *slog.Logger
	Router       *chi.Mux
	Server       *http.Server
	Store        storage.Store
	Files        files.Store
	Broadcaster  *operations.ProgressBroadcaster
	JobQueue     *operations.JobQueue
	Orchestrator *ingestion.Orchestrator
	Service      *ingestion.Service
	WebSocketHub *ws.Hub
	Scheduler    *scheduler.Scheduler
	RateLimiter  *middleware.RateLimiter
	OTel         *infrastructure.OTelProviders

	errors *apperrors.ErrorHandler
}

// NewApplication loads configuration and builds the application.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return New(ctx, cfg, logger)
}

// New builds the application from an already loaded configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	logger.InfoContext(ctx, "application starting",
		slog.String("version", contracts.Version),
		slog.String("database", cfg.Database.Driver),
		slog.String("storage", cfg.Storage.Driver))

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	metrics, err := infrastructure.NewIngestionMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion metrics: %w", err)
	}

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	fileStore, err := files.New(ctx, cfg.Storage)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open file store: %w", err)
	}

	layout := dataprocessing.DefaultLayout()
	layout.MinRows = cfg.Ingestion.MinRows
	layout.HeaderRow = cfg.Ingestion.HeaderRow

	broadcaster := operations.NewProgressBroadcaster(metrics, infrastructure.WithComponent(logger, "progress"))
	versions := versioning.NewStore(store, versioning.NewKeyLocker(), metrics, infrastructure.WithComponent(logger, "versioning"))
	orchestrator := ingestion.NewOrchestrator(ingestion.Dependencies{
		Files:     fileStore,
		Uploads:   store.Uploads(),
		Resolver:  clinics.NewResolver(store.Clinics(), infrastructure.WithComponent(logger, "clinics")),
		Versions:  versions,
		Publisher: broadcaster,
		Layout:    layout,
		Metrics:   metrics,
		Tracer:    otelProviders.Tracer,
		Logger:    infrastructure.WithComponent(logger, "ingestion"),
	})
	queue := operations.NewJobQueue(cfg.Queue, store.Uploads(), orchestrator, infrastructure.WithComponent(logger, "jobqueue"))

	a := &Application{
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Files:        fileStore,
		Broadcaster:  broadcaster,
		JobQueue:     queue,
		Orchestrator: orchestrator,
		Service:      ingestion.NewService(store.Uploads(), fileStore, queue, versions, infrastructure.WithComponent(logger, "service")),
		WebSocketHub: ws.NewHub(cfg.WebSocket, broadcaster, infrastructure.WithComponent(logger, "websocket")),
		OTel:         otelProviders,
		errors:       apperrors.NewErrorHandler(logger, cfg.Logging.Development),
	}
	if cfg.Server.RateLimit.Enabled {
		a.RateLimiter = middleware.NewRateLimiter(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst, a.errors, logger)
	}
	if cfg.Scheduler.Enabled {
		var cleaner scheduler.Cleaner
		if a.RateLimiter != nil {
			cleaner = a.RateLimiter
		}
		a.Scheduler = scheduler.New(cfg.Scheduler, queue, cleaner, logger)
	}

	if err := a.setupRouter(); err != nil {
		store.Close()
		return nil, err
	}
	a.Server = &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return a, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (storage.Store, error) {
	if cfg.Driver == "memory" {
		logger.WarnContext(ctx, "using in-memory store, data is lost on restart")
		return storage.NewMemoryStore(), nil
	}

	pool, err := storage.OpenPool(ctx, cfg)
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to connect to database", err)
	}
	if cfg.MigrateOnStart {
		if err := storage.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, apperrors.NewPersistenceError("failed to migrate database", err)
		}
	}
	return storage.NewPostgresStore(pool, pool.Close), nil
}

// setupRouter configures the HTTP router
func (a *Application) setupRouter() error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// WebSocket and scrape endpoints stay outside the timeout and logger stack.
	r.Handle("/ws", a.WebSocketHub)
	r.Handle("/metrics", a.OTel.MetricsHandler())

	telemetry, err := middleware.NewTelemetry(a.OTel.Tracer, a.OTel.Meter)
	if err != nil {
		return fmt.Errorf("failed to create telemetry middleware: %w", err)
	}

	health := handlers.NewHealthHandler(map[string]handlers.Pinger{"database": a.Store}, a.errors, a.Logger)
	r.Get("/healthz", health.Live)
	r.Get("/readyz", health.Ready)

	r.Group(func(r chi.Router) {
		r.Use(telemetry.Handler)
		r.Use(middleware.StructuredLogger(a.Logger))
		r.Use(middleware.Recoverer(a.errors))
		r.Use(middleware.Timeout(a.Config.Server.RequestTimeout))
		r.Use(chimw.CleanPath)
		if a.RateLimiter != nil {
			r.Use(a.RateLimiter.Handler)
		}

		r.Route("/api", func(r chi.Router) {
			r.Get("/version", health.Version)
			r.Mount("/uploads", handlers.NewUploadsHandler(a.Service, a.errors, a.Config.Server.MaxUploadBytes, a.Logger).Routes())
			r.Mount("/versions", handlers.NewVersionsHandler(a.Service, a.errors, a.Logger).Routes())
		})
	})

	r.NotFound(a.errors.NotFound)
	r.MethodNotAllowed(a.errors.MethodNotAllowed)
	a.Router = r
	return nil
}

// Start launches the background components: the broadcaster, the job queue
// (which recovers interrupted uploads first) and the scheduler.
func (a *Application) Start(ctx context.Context) error {
	a.Broadcaster.Start()
	if err := a.JobQueue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	if a.Scheduler != nil {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	return nil
}

// Run starts the application and blocks until a signal arrives or the server fails.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.WebSocketHub.Run()
		return nil
	})
	g.Go(func() error {
		a.Logger.InfoContext(gctx, "http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutdown requested")
		return a.Stop(context.Background())
	})
	return g.Wait()
}

// Stop shuts every component down in reverse start order.
func (a *Application) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if a.Scheduler != nil {
		<-a.Scheduler.Stop().Done()
	}
	if err := a.JobQueue.Stop(a.Config.Queue.StopTimeout); err != nil && !errors.Is(err, operations.ErrQueueStopped) {
		errs = append(errs, fmt.Errorf("job queue shutdown: %w", err))
	}
	a.WebSocketHub.Stop()
	a.Broadcaster.Stop()
	a.Store.Close()
	if err := a.OTel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		errs = append(errs, err)
	}

	a.Logger.Info("application stopped", slog.Duration("timeout", a.Config.Server.ShutdownTimeout), slog.Int("errors", len(errs)))
	return errors.Join(errs...)
}
