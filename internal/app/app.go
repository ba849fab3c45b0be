package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"automator-go/internal/config"
	"automator-go/internal/dispatch"
	"automator-go/internal/executor"
	"automator-go/internal/gmail"
	"automator-go/internal/scheduler"
	"automator-go/internal/storage"
	"automator-go/internal/telegram"
	"automator-go/internal/worker"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Application holds all the major components of the service.
type Application struct {
	Config        *config.Config
	Logger        *zap.SugaredLogger
	Storage       *storage.SQLiteStorage
	WorkerPool    *worker.Pool
	Scheduler     *scheduler.Service
	HttpServer    *http.Server
	MetricsServer *http.Server

	location *time.Location
	validate *validator.Validate
	clock    func() time.Time
}

// New creates and initializes a new Application instance.
func New(cfg *config.Config, logger *zap.SugaredLogger) (*Application, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// Setup: Database
	store, err := storage.OpenDatabase(storage.Config{
		Path:            cfg.DB.Path,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime.Duration,
		ConnMaxIdleTime: cfg.DB.ConnMaxIdleTime.Duration,
		BusyTimeout:     cfg.DB.BusyTimeout.Duration,
	}, []byte(cfg.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Setup: Step handlers
	steps := executor.NewRegistry()
	steps.Register(gmail.StepType, gmail.NewService(cfg.Gmail.Endpoint, logger.Named("gmail")).HandleStep)
	steps.Register(telegram.StepType, telegram.NewService(cfg.Telegram.APIEndpoint, cfg.Telegram.RateLimit, &http.Client{Timeout: cfg.Telegram.RequestTimeout.Duration}, logger.Named("telegram")).HandleStep)

	dispatcher := dispatch.New(store, executor.New(steps, logger.Named("executor")), logger.Named("dispatch"))

	// Setup: WorkerPool and Scheduler
	pool := worker.NewPool(cfg.Scheduler.MaxConcurrentDispatches, logger.Named("worker"))
	core := scheduler.New(pool, logger.Named("scheduler"))
	service := scheduler.NewService(core, store, dispatcher, scheduler.ServiceConfig{
		Location:          loc,
		BootstrapTimeout:  cfg.Scheduler.BootstrapTimeout.Duration,
		DispatchTimeout:   cfg.Scheduler.DispatchTimeout.Duration,
		LogRetention:      cfg.Scheduler.LogRetention.Duration,
		RetentionSchedule: cfg.Scheduler.RetentionSchedule,
	}, logger.Named("scheduler"))
	service.SetLogPruner(store)

	// Setup: HTTP Server for metrics
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		Storage:       store,
		WorkerPool:    pool,
		Scheduler:     service,
		MetricsServer: metricsServer,
		location:      loc,
		validate:      validator.New(),
		clock:         time.Now,
	}

	// Setup: Main HTTP Server
	app.HttpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return app, nil
}

// routes registers the HTTP API.
func (a *Application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", a.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/schedules", a.handleCreateSchedule)
	api.HandleFunc("GET /api/v1/schedules", a.handleListSchedules)
	api.HandleFunc("DELETE /api/v1/schedules/{job_id}", a.handleDeleteSchedule)
	api.HandleFunc("GET /api/v1/logs", a.handleListLogs)
	api.HandleFunc("GET /api/v1/logs/today", a.handleTodayLogs)
	api.HandleFunc("GET /api/v1/logs/dashboard", a.handleDashboard)
	api.HandleFunc("GET /api/v1/logs/stats/period", a.handlePeriodStats)
	mux.Handle("/api/", a.requireUser(api))

	return a.logRequests(mux)
}

// Start restores persisted schedules, starts the scheduler and begins
// serving HTTP.
func (a *Application) Start(ctx context.Context) error {
	a.Logger.Infow("Starting application services")

	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go a.serve("metrics", a.MetricsServer)
	go a.serve("http", a.HttpServer)

	return nil
}

func (a *Application) serve(name string, srv *http.Server) {
	a.Logger.Infow("Starting server", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.Logger.Errorw("Server stopped unexpectedly", "server", name, "error", err)
	}
}

// Stop gracefully shuts down the application's services. In-flight
// dispatches get until ctx is done to finish.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.Infow("Stopping application services")

	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Logger.Warnw("HTTP server shutdown error", "error", err)
	}
	if err := a.MetricsServer.Shutdown(ctx); err != nil {
		a.Logger.Warnw("Metrics server shutdown error", "error", err)
	}

	a.Scheduler.Stop()

	var errs []error
	if err := a.WorkerPool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker pool: %w", err))
	}
	a.Logger.Infow("Worker pool stopped", "stats", a.WorkerPool.Stats())

	if err := a.Storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	a.Logger.Infow("Application stopped")
	return errors.Join(errs...)
}
