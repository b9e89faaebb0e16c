package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/staking-stats/internal/artifact"
	"github.com/smartdevs17/staking-stats/internal/chain"
	"github.com/smartdevs17/staking-stats/internal/config"
	"github.com/smartdevs17/staking-stats/internal/metrics"
	"github.com/smartdevs17/staking-stats/internal/models"
	"github.com/smartdevs17/staking-stats/internal/notification"
	"github.com/smartdevs17/staking-stats/internal/refresh"
	"github.com/smartdevs17/staking-stats/internal/scheduler"
	"github.com/smartdevs17/staking-stats/internal/server"
	"github.com/smartdevs17/staking-stats/internal/stats"
	"github.com/smartdevs17/staking-stats/internal/storage"
	"github.com/smartdevs17/staking-stats/internal/vcs"
	"github.com/smartdevs17/staking-stats/pkg/utils"
)

// Application wires the refresh job and the services around it
type Application struct {
	config    *config.Config
	logger    *logrus.Logger
	metrics   *metrics.Manager
	storage   storage.Storage
	notifier  *notification.NotificationManager
	store     *artifact.FileStore
	refresher *refresh.Refresher
	scheduler *scheduler.Scheduler
	server    *server.HTTPServer
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Debug("Logger initialized")
	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.metrics = metrics.NewManager()

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.notifier = notification.NewNotificationManager(&app.config.Notifications, app.metrics.GetPrometheusMetrics())

	if err := app.initializeRefresher(); err != nil {
		return fmt.Errorf("failed to initialize refresher: %w", err)
	}

	if app.config.Scheduler.Enabled {
		sched, err := scheduler.New(&app.config.Scheduler, app.refresher)
		if err != nil {
			return fmt.Errorf("failed to initialize scheduler: %w", err)
		}
		app.scheduler = sched
	}

	if app.config.Server.Enabled {
		app.initializeServer()
	}

	app.logger.Debug("All components initialized successfully")
	return nil
}

// initializeStorage connects the run history database
func (app *Application) initializeStorage() error {
	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return err
	}
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.storage = storage.NewStorageWithMetrics(store, app.metrics.GetPrometheusMetrics())
	app.logger.WithField("type", app.config.Storage.Type).Debug("Storage layer initialized")
	return nil
}

// initializeRefresher builds the chain client, calculator, artifact store and committer
func (app *Application) initializeRefresher() error {
	pm := app.metrics.GetPrometheusMetrics()

	client, err := chain.NewClient(&app.config.Chain, pm)
	if err != nil {
		return err
	}
	calculator := stats.NewCalculator(client, app.config.Chain.Decimals, app.config.Chain.ApplyCommunityTax)
	app.store = artifact.NewOSFileStore(app.config.Output.Path)

	var committer vcs.Committer = vcs.NoopCommitter{}
	if app.config.Git.Enabled {
		git, err := vcs.OpenGitCommitter(&app.config.Git)
		if err != nil {
			return err
		}
		committer = git
	}

	app.refresher = refresh.NewRefresher(refresh.Dependencies{
		Calculator: calculator,
		Store:      app.store,
		Committer:  committer,
		History:    app.storage,
		Notifier:   app.notifier,
		Metrics:    pm,
	}, app.config.Git.CommitMessage)
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() {
	server.Version = AppVersion
	deps := server.Dependencies{
		Refresher: app.refresher,
		Store:     app.store,
		Storage:   app.storage,
		Notifier:  app.notifier,
		Metrics:   app.metrics,
	}
	// a nil *Scheduler must not become a non-nil interface
	if app.scheduler != nil {
		deps.Scheduler = app.scheduler
	}
	app.server = server.NewHTTPServer(&app.config.Server, deps)
}

// RunOnce performs a single refresh
func (app *Application) RunOnce(trigger models.Trigger) (*models.RunRecord, error) {
	return app.refresher.Run(app.ctx, trigger)
}

// Start starts the long-running services
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting staking stats service")

	if removed, err := app.storage.Cleanup(app.ctx, app.config.Storage.RetentionDays); err != nil {
		app.logger.WithError(err).Warn("Failed to prune run history")
	} else if removed > 0 {
		app.logger.WithField("removed", removed).Info("Pruned run history")
	}

	if app.server != nil {
		if err := app.server.Start(); err != nil {
			return err
		}
	}

	if app.scheduler != nil {
		if err := app.scheduler.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	app.logger.WithFields(logrus.Fields{
		"output":        app.config.Output.Path,
		"rest_url":      app.config.Chain.RESTURL,
		"scheduler":     app.scheduler != nil,
		"server":        app.server != nil,
		"git_enabled":   app.config.Git.Enabled,
		"history_store": app.config.Storage.Type,
	}).Info("Staking stats service started")
	return nil
}

// Stop stops the services gracefully. An active run is allowed to finish.
func (app *Application) Stop() error {
	app.logger.Info("Stopping staking stats service")

	if app.scheduler != nil {
		app.scheduler.Stop()
	}
	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	app.Close()
	app.logger.Info("Staking stats service stopped")
	return nil
}

// Close releases resources held by the application
func (app *Application) Close() {
	app.cancel()
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}
}
