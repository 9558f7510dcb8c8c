// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"scope-service/internal/config"
	"scope-service/internal/database"
	"scope-service/internal/driver"
	"scope-service/internal/repository"
	"scope-service/internal/routes"
	"scope-service/internal/service"
	"scope-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB
	router   *routes.Router

	// Services
	bus              *service.EventBus
	scopeService     *service.ScopeService
	captureService   *service.CaptureService
	discoveryService *service.DiscoveryService

	// Repositories
	captureRepo repository.CaptureRepository

	// Model registry
	driverRegistry *driver.Registry

	// Background work
	background context.Context
	stop       context.CancelFunc
}

// @title Scope Service API
// @version 1.0.0
// @description Remote control and waveform capture for Rigol oscilloscopes over SCPI

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8084
// @BasePath /api/v1
func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if flags.migrationRequested() {
		if err := runMigrationCommand(flags); err != nil {
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "scope-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}
	app.background, app.stop = context.WithCancel(context.Background())

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.initializeRepositories()
	app.initializeDriverRegistry()
	app.initializeServices()
	app.initializeServer()

	return app, nil
}

// initializeDatabase connects to PostgreSQL and runs migrations when enabled
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Database disabled, capture records kept in memory")
		return nil
	}

	dsn := app.config.GetDatabaseDSN()
	db, err := database.New(app.background, dsn, &app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	migrator := database.NewMigrator(dsn, app.logger, &app.config.Database)
	if err := migrator.Up(); err != nil {
		db.Close()
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeRepositories creates repository instances
func (app *Application) initializeRepositories() {
	if app.database != nil {
		app.captureRepo = repository.NewCaptureRepository(app.database, app.logger)
	} else {
		app.captureRepo = repository.NewMemoryCaptureRepository(app.logger)
	}
	app.logger.Info("Repositories initialized successfully")
}

// initializeDriverRegistry sets up the model registry
func (app *Application) initializeDriverRegistry() {
	app.driverRegistry = driver.NewRegistry(app.logger)
	driver.RegisterDefaultModels(app.driverRegistry, app.logger)

	app.logger.Info("Model registry initialized successfully",
		zap.Int("registered_models", len(app.driverRegistry.ListModels())),
	)
}

// initializeServices creates service instances
func (app *Application) initializeServices() {
	app.bus = service.NewEventBus(app.logger)
	app.scopeService = service.NewScopeService(app.driverRegistry, app.bus, app.config, app.logger)
	app.captureService = service.NewCaptureService(app.scopeService, app.captureRepo, app.bus, app.config, app.logger)
	app.discoveryService = service.NewDiscoveryService(app.config, app.logger)

	app.logger.Info("Services initialized successfully")
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	app.router = routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.scopeService,
		app.captureService,
		app.discoveryService,
		app.bus,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      app.router.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices() {
	go app.bus.Start()

	if app.config.Scope.CaptureRetention > 0 {
		go app.captureService.RunCleanup(app.background, time.Hour)
	}

	app.logger.Info("Background services started",
		zap.Duration("capture_retention", app.config.Scope.CaptureRetention),
	)
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "scope-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	app.stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app.router.WebSocket().Shutdown()
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	if err := app.captureService.Shutdown(15 * time.Second); err != nil {
		app.logger.Error("Capture shutdown error", zap.Error(err))
	}
	if err := app.scopeService.Shutdown(10 * time.Second); err != nil {
		app.logger.Error("Session shutdown error", zap.Error(err))
	}
	app.bus.Stop()

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start serves HTTP until a shutdown signal arrives
func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.startBackgroundServices()
	app.waitForShutdown()

	return nil
}
