// Package app provides the application initialization and lifecycle management
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/connectivity"
	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/incident"
	"github.com/beaconhq/beacon/internal/loggy"
	"github.com/beaconhq/beacon/internal/media"
	"github.com/beaconhq/beacon/internal/remote"
	"github.com/beaconhq/beacon/internal/store"
	"github.com/beaconhq/beacon/internal/syncer"
	"github.com/beaconhq/beacon/internal/utils"
)

// App represents the application instance with its dependencies
type App struct {
	Config    *config.Config
	Store     store.Store
	Remote    *remote.Client
	Monitor   *connectivity.Monitor
	Incidents *incident.Queue
	Media     *media.Queue
	Drafts    *incident.DraftStore
	Syncer    *syncer.Orchestrator
	Settings  config.SettingsRepository
	SyncRepo  syncer.Repository
}

// New initializes a new application instance with all its dependencies
func New() (*App, error) {
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}

	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	loggy.Info("Application initializing",
		"version", os.Getenv("VERSION"),
		"log_level", cfg.Logging.Level,
	)

	if err := database.InitDB(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	app, err := initServices(cfg, db)
	if err != nil {
		return nil, err
	}

	loggy.Info("Application initialized successfully")
	return app, nil
}

// initConfig loads and sets up the application configuration
func initConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	config.Set(cfg)
	return cfg, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices initializes all application services
func initServices(cfg *config.Config, db *sql.DB) (*App, error) {
	logger := loggy.GetGlobalLogger()
	ctx := context.Background()

	settingsRepo := config.NewSQLSettingsRepository(db, logger)
	if err := config.LoadSyncSettings(ctx, cfg, settingsRepo); err != nil {
		loggy.Warn("Failed to load sync settings from database", "error", err)
		// Continue anyway, using defaults
	}

	// A device without a configured name gets a generated one, persisted
	// so all future submissions stay attributable to the same device
	if cfg.Server.DeviceName == "" {
		cfg.Server.DeviceName = utils.GenerateDeviceName()
		if err := settingsRepo.SetSetting(ctx, "sync.device_name", cfg.Server.DeviceName); err != nil {
			loggy.Warn("Failed to persist generated device name", "error", err)
		}
	}

	kv := store.NewSQLStore(db, logger)
	syncRepo := syncer.NewSQLRepository(db, logger)

	client := remote.NewClient(
		cfg.Server.URL,
		cfg.Server.Token,
		cfg.Server.Timeout,
		cfg.Sync.UploadRate,
		cfg.Sync.UploadBurst,
		logger,
	)
	client.SetSettingsRepository(settingsRepo)

	prober := connectivity.NewHTTPProber(cfg.Sync.ProbeURL, cfg.Sync.ProbeTimeout, logger)
	monitor := connectivity.NewMonitor(prober, cfg.Sync.PollInterval, cfg.Sync.Debounce, logger)

	if err := os.MkdirAll(cfg.Media.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	compressor := media.NewCompressor(cfg.Media.MaxDimension, cfg.Media.JPEGQuality, logger)
	mediaQueue := media.NewQueue(kv, client, compressor, cfg.Media.Dir, cfg.Sync.MaxAttempts, logger)
	incidentQueue := incident.NewQueue(kv, client, cfg.Sync.MaxAttempts, logger)
	draftStore := incident.NewDraftStore(kv, client, mediaQueue, cfg.Sync.MaxAttempts, logger)

	orchestrator := syncer.New(
		monitor,
		incidentQueue,
		mediaQueue,
		draftStore,
		syncRepo,
		cfg.Server.Enabled,
		logger,
	)

	return &App{
		Config:    cfg,
		Store:     kv,
		Remote:    client,
		Monitor:   monitor,
		Incidents: incidentQueue,
		Media:     mediaQueue,
		Drafts:    draftStore,
		Syncer:    orchestrator,
		Settings:  settingsRepo,
		SyncRepo:  syncRepo,
	}, nil
}

// IsSyncConfigured reports whether the server connection is usable
func (app *App) IsSyncConfigured() bool {
	return app.Config.Server.URL != "" && app.Remote.GetToken() != ""
}

// Shutdown gracefully shuts down the application
func (app *App) Shutdown() error {
	loggy.Info("Shutting down application")

	app.Syncer.Stop()

	if err := database.CloseDB(); err != nil {
		loggy.Error("Error closing database connection", "error", err)
	}

	return nil
}

// FromContext retrieves the App instance from the CLI context
func FromContext(c *cli.Context) (*App, error) {
	if c.App.Metadata == nil {
		return nil, fmt.Errorf("app metadata not found in context")
	}

	app, ok := c.App.Metadata["app"].(*App)
	if !ok {
		return nil, fmt.Errorf("app instance not found in context")
	}

	return app, nil
}
