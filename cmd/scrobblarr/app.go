package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/scrobblarr/internal/cache"
	"github.com/amaumene/scrobblarr/internal/cancel"
	"github.com/amaumene/scrobblarr/internal/catalog"
	"github.com/amaumene/scrobblarr/internal/config"
	"github.com/amaumene/scrobblarr/internal/controllers"
	"github.com/amaumene/scrobblarr/internal/events"
	"github.com/amaumene/scrobblarr/internal/models"
	"github.com/amaumene/scrobblarr/internal/providers"
	"github.com/amaumene/scrobblarr/internal/providers/jellyfin"
	"github.com/amaumene/scrobblarr/internal/services/trakt"
	"github.com/amaumene/scrobblarr/internal/syncstore"
	"github.com/amaumene/scrobblarr/internal/tracing"
	"github.com/amaumene/scrobblarr/internal/utils"
)

// app holds the wired components shared by the commands
type app struct {
	cfg         *config.Config
	logger      *logrus.Logger
	db          *models.Database
	traktClient *trakt.Client
	registry    *providers.Registry
	dispatcher  *events.Dispatcher
	recorder    *events.Recorder
	cancels     *cancel.Registry
	corrections *catalog.Corrections
	committer   *controllers.CommitController
	stores      *syncstore.Aggregate
	syncCtrl    *controllers.SyncController

	closers []func(context.Context) error
}

// loadConfig loads configuration and sets up the logger
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, utils.NewLogger(cfg.LogLevel, cfg.LogFormat), nil
}

// newApp wires every component of the sync core
func newApp(cfg *config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	// 1. Tracing
	shutdown, err := tracing.Setup(cfg.TracingEnabled, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	// 2. Database
	a.db, err = models.NewDatabase(cfg.DatabaseFile)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.db.Close() })
	logger.WithField("path", cfg.DatabaseFile).Info("Database initialized")

	// 3. Cache backend
	var store cache.Store
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		redisStore, err := cache.NewRedisStore(cfg.RedisURL, cache.DefaultTTLs)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize redis cache: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return redisStore.Close() })
		store = redisStore
	default:
		store = cache.NewBoltStore(a.db, cache.DefaultTTLs)
	}
	logger.WithField("backend", cfg.CacheBackend).Info("Cache initialized")

	// 4. Trakt client
	a.traktClient, err = trakt.NewClient(cfg, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize Trakt client: %w", err)
	}

	// 5. Providers
	var enabled []providers.Provider
	if cfg.JellyfinURL != "" {
		enabled = append(enabled, jellyfin.NewProvider(jellyfin.Config{
			BaseURL:  cfg.JellyfinURL,
			APIKey:   cfg.JellyfinAPIKey,
			UserID:   cfg.JellyfinUserID,
			PageSize: cfg.HistoryPageSize,
		}, logger))
	}
	a.registry, err = providers.NewRegistry(enabled...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register providers: %w", err)
	}
	if len(a.registry.IDs()) == 0 {
		logger.Warn("No provider configured, nothing will be synced")
	}

	// 6. Events
	a.dispatcher = events.NewDispatcher()
	a.recorder = events.NewRecorder(0)
	a.dispatcher.Subscribe(a.recorder.Handle)
	a.dispatcher.Subscribe(a.logEvent,
		events.HistoryLoadError, events.MatchError, events.CommitError,
		events.ReconcileError, events.AutoSyncError,
	)
	a.cancels = cancel.NewRegistry()

	// 7. Sync core
	exclusions, err := utils.LoadExclusionList(cfg.ExclusionFile)
	if err != nil {
		logger.WithError(err).Warn("Failed to load exclusion list, continuing without it")
		exclusions = utils.NewExclusionList()
	}

	a.corrections = catalog.NewCorrections(a.db, a.dispatcher, logger)
	matcher := catalog.NewMatcher(a.traktClient, store, a.corrections, cfg.MatchConcurrency, logger)
	reconciler := controllers.NewReconcileController(a.traktClient, cfg.MatchWindow, a.dispatcher, logger)
	a.committer = controllers.NewCommitController(a.traktClient, reconciler, store, a.dispatcher, logger)
	a.stores = syncstore.NewAggregate(a.dispatcher, a.registry.IDs()...)
	a.syncCtrl = controllers.NewSyncController(
		a.db, a.registry, store, matcher, reconciler, a.committer, a.stores,
		controllers.SyncOptions{MinProgress: cfg.MinProgress, Exclusions: exclusions},
		a.dispatcher, logger,
	)
	if err := a.syncCtrl.EnableAutoSync(cfg.AutoSyncProviders...); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to enable auto-sync: %w", err)
	}
	logger.Info("Sync core initialized")

	return a, nil
}

func (a *app) logEvent(e events.Event) {
	a.logger.WithError(e.Err).WithFields(logrus.Fields{
		"event":    e.Name,
		"provider": e.ProviderID,
		"count":    e.Count,
	}).Warn("Sync event reported an error")
}

// ensureAuthenticated runs the device flow when no Trakt token is stored
func (a *app) ensureAuthenticated(ctx context.Context) error {
	if a.traktClient.IsAuthenticated() {
		return nil
	}
	a.logger.Info("Trakt authentication required")
	if err := a.traktClient.Authenticate(ctx); err != nil {
		return fmt.Errorf("failed to authenticate with Trakt: %w", err)
	}
	return nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](context.Background()); err != nil {
			a.logger.WithError(err).Warn("Error during shutdown")
		}
	}
	a.closers = nil
}
