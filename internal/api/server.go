// Package api exposes the host's ops surface over HTTP: instance CRUD,
// render and refresh, worker process records, and a live event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hearthboard/hearth/internal/events"
	"github.com/hearthboard/hearth/internal/log"
	"github.com/hearthboard/hearth/internal/manifest"
	"github.com/hearthboard/hearth/internal/runtime"
	"github.com/hearthboard/hearth/internal/supervisor"
)

// InstanceManager is the slice of the runtime manager the API needs.
type InstanceManager interface {
	List() []runtime.Info
	Get(instanceID string) (runtime.Info, bool)
	CreateInstance(widgetID, instanceID string, settings map[string]any) (string, error)
	StartInstance(instanceID string) error
	RequestUpdate(instanceID, reason string) error
	Render(instanceID string, width, height int) (map[string]any, error)
	ApplySettings(instanceID string, settings map[string]any) error
	DestroyInstance(instanceID string)
}

// WidgetCatalog lists the discovered widget definitions.
type WidgetCatalog interface {
	All() []*manifest.Widget
}

// WorkerTable exposes the supervisor's process records.
type WorkerTable interface {
	Records() []supervisor.Record
}

// Config holds API server configuration.
type Config struct {
	Listen string
}

// Server is the HTTP ops server.
type Server struct {
	config    Config
	manager   InstanceManager
	widgets   WidgetCatalog
	workers   WorkerTable
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates an API server. widgets and workers may be nil; the matching
// endpoints then serve empty lists.
func New(config Config, manager InstanceManager, widgets WidgetCatalog, workers WorkerTable, hub *events.Hub) *Server {
	return &Server{
		config:    config,
		manager:   manager,
		widgets:   widgets,
		workers:   workers,
		hub:       hub,
		logger:    log.WithComponent("api"),
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("api server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Routes builds the router. Exposed for tests.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/widgets", s.handleListWidgets)
	r.Get("/workers", s.handleListWorkers)
	r.Get("/events", s.handleEvents)

	r.Route("/instances", func(r chi.Router) {
		r.Get("/", s.handleListInstances)
		r.Post("/", s.handleCreateInstance)
		r.Route("/{instanceID}", func(r chi.Router) {
			r.Get("/", s.handleGetInstance)
			r.Delete("/", s.handleDestroyInstance)
			r.Post("/refresh", s.handleRefresh)
			r.Get("/render", s.handleRender)
			r.Post("/settings", s.handleSettings)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
