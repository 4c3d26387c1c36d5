package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/amaumene/scrobblarr/internal/api/handlers"
	"github.com/amaumene/scrobblarr/internal/api/middleware"
	"github.com/amaumene/scrobblarr/internal/cancel"
	"github.com/amaumene/scrobblarr/internal/catalog"
	"github.com/amaumene/scrobblarr/internal/config"
	"github.com/amaumene/scrobblarr/internal/controllers"
	"github.com/amaumene/scrobblarr/internal/events"
	"github.com/amaumene/scrobblarr/internal/models"
	"github.com/amaumene/scrobblarr/internal/providers"
	"github.com/amaumene/scrobblarr/internal/syncstore"
)

// Dependencies are the components the HTTP surface exposes
type Dependencies struct {
	DB          *models.Database
	Registry    *providers.Registry
	Stores      *syncstore.Aggregate
	Recorder    *events.Recorder
	Cancels     *cancel.Registry
	Committer   *controllers.CommitController
	SyncCtrl    *controllers.SyncController
	Trigger     handlers.Trigger
	Corrections *catalog.Corrections
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	deps   Dependencies
	logger *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, deps Dependencies, logger *logrus.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: logger,
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.server = &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      middleware.Logging(mux, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler of the server
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	d := s.deps

	// Health check
	healthHandler := handlers.NewHealthHandler(s.logger)
	mux.HandleFunc("/health", healthHandler.ServeHTTP)

	// Status endpoint
	statusHandler := handlers.NewStatusHandler(d.DB, d.Stores, d.Recorder, d.Cancels, s.logger)
	mux.HandleFunc("/status", statusHandler.ServeHTTP)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	// Provider items
	itemsHandler := handlers.NewItemsHandler(d.Registry, d.Stores, d.Committer, d.SyncCtrl, d.Cancels, s.logger)
	mux.HandleFunc("GET /api/providers/{provider}/items", itemsHandler.List)
	mux.HandleFunc("POST /api/providers/{provider}/items/{index}/selection", itemsHandler.Select)
	mux.HandleFunc("DELETE /api/providers/{provider}/items/{index}/watch", itemsHandler.Undo)
	mux.HandleFunc("POST /api/providers/{provider}/selection", itemsHandler.SelectAll)
	mux.HandleFunc("DELETE /api/providers/{provider}/selection", itemsHandler.ClearSelection)
	mux.HandleFunc("POST /api/providers/{provider}/commit", itemsHandler.Commit)
	mux.HandleFunc("POST /api/providers/{provider}/load", itemsHandler.Load)
	mux.HandleFunc("POST /api/providers/{provider}/rematch", itemsHandler.Rematch)

	// Sync passes
	syncHandler := handlers.NewSyncHandler(d.Registry, d.Trigger, d.Cancels, s.logger)
	mux.HandleFunc("POST /api/sync/{provider}", syncHandler.Trigger)
	mux.HandleFunc("POST /api/cancel/{key}", syncHandler.Cancel)

	// Corrections
	correctionsHandler := handlers.NewCorrectionsHandler(d.Corrections, d.Stores, s.logger)
	mux.HandleFunc("GET /api/corrections", correctionsHandler.List)
	mux.HandleFunc("PUT /api/corrections", correctionsHandler.Put)
	mux.HandleFunc("DELETE /api/corrections/{id}", correctionsHandler.Delete)
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("port", s.server.Addr).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
