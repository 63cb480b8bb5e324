// Package server exposes the heartbeat controls and service status over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/ideastake/ledgerbeat/internal/events"
	"github.com/ideastake/ledgerbeat/internal/heartbeat"
	"github.com/ideastake/ledgerbeat/internal/history"
	"github.com/ideastake/ledgerbeat/internal/scheduler"
)

// HeartbeatController is the supervisor surface driven by the API.
type HeartbeatController interface {
	Start() error
	Stop() error
	SetInterval(seconds int) error
	TriggerNow(ctx context.Context) (string, error)
	Status() heartbeat.Status
}

// HistoryReader reads recorded attempts.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	Stats(ctx context.Context) (history.Stats, error)
}

// JobLister lists scheduled maintenance jobs.
type JobLister interface {
	Jobs() []scheduler.JobInfo
}

// HealthChecker verifies a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	// RequestTimeout bounds each request; manual triggers wait for ledger
	// confirmation so this is generous.
	RequestTimeout time.Duration
	DevMode        bool
	Log            zerolog.Logger

	Heartbeat HeartbeatController
	History   HistoryReader
	Jobs      JobLister
	DB        HealthChecker
	// Events enables control-change events and GET /api/events/stream.
	Events *events.Bus
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config

	heartbeat *HeartbeatHandlers
	system    *SystemHandlers
	stream    *EventsStreamHandler
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}

	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg,
		heartbeat: NewHeartbeatHandlers(cfg.Heartbeat, cfg.History, cfg.Events, cfg.Log),
		system:    NewSystemHandlers(cfg.Heartbeat, cfg.History, cfg.Jobs, cfg.DB, cfg.Log),
	}
	if cfg.Events != nil {
		s.stream = NewEventsStreamHandler(cfg.Events, cfg.Log)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the event stream is long-lived. Regular routes are
		// bounded by the Timeout middleware.
		IdleTimeout: 60 * time.Second,
	}
	if s.stream != nil {
		s.server.RegisterOnShutdown(s.stream.Close)
	}

	return s
}

// setupMiddleware configures middleware shared by every route
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes. The event stream sits outside the
// timeout and compression group.
func (s *Server) setupRoutes() {
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		if !s.cfg.DevMode {
			r.Use(middleware.Compress(5))
		}

		r.Get("/", s.handleIndex)
		r.Get("/health", s.handleHealth)

		r.Route("/api/heartbeat", func(r chi.Router) {
			r.Get("/", s.heartbeat.HandleStatus)
			r.Post("/start", s.heartbeat.HandleStart)
			r.Post("/stop", s.heartbeat.HandleStop)
			r.Get("/interval", s.heartbeat.HandleGetInterval)
			r.Put("/interval", s.heartbeat.HandleSetInterval)
			r.Get("/last", s.heartbeat.HandleLast)
			r.Post("/trigger", s.heartbeat.HandleTrigger)
			r.Get("/history", s.heartbeat.HandleHistory)
		})

		r.Get("/api/system/status", s.system.HandleSystemStatus)
	})

	if s.stream != nil {
		s.router.Get("/api/events/stream", s.stream.ServeHTTP)
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until Shutdown is called. It returns http.ErrServerClosed
// after a graceful shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "ledgerbeat",
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DB != nil {
		if err := s.cfg.DB.HealthCheck(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("Health check failed")
			writeError(w, http.StatusServiceUnavailable, "database unavailable", "")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		event := s.log.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			event = s.log.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
