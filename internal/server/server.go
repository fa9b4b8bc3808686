// Package server exposes the ingestion, analytics, and test-management HTTP
// API consumed by the SDK and the dashboard.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/uxtest/uxtest/internal/analytics"
	"github.com/uxtest/uxtest/internal/ingest"
	"github.com/uxtest/uxtest/internal/store"
)

type Server struct {
	store     *store.SQLiteStore
	ingest    *ingest.Service
	analytics *analytics.Aggregator
	port      int
	log       *slog.Logger
	router    chi.Router
	startTime time.Time
}

func New(s *store.SQLiteStore, port int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	srv := &Server{
		store:     s,
		ingest:    ingest.New(s, log),
		analytics: analytics.New(s),
		port:      port,
		log:       log,
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(requestLogger(s.log))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/events", func(r chi.Router) {
		r.With(maxBytes(1<<20)).Post("/", s.handleEvents)
		r.Get("/session/{sessionID}", s.handleSessionEvents)
	})

	r.Get("/analytics/{testID}", s.handleAnalytics)

	r.Route("/tests", func(r chi.Router) {
		r.Get("/", s.handleListTests)
		r.Post("/", s.handleCreateTest)
		r.Get("/{testID}", s.handleGetTest)
		r.Patch("/{testID}", s.handleUpdateTest)
		r.Delete("/{testID}", s.handleDeleteTest)
		r.Post("/{testID}/rebuild", s.handleRebuildSessions)
	})

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", s.handleListProjects)
		r.Post("/", s.handleCreateProject)
	})

	s.router = r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info("uxtest server listening", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}
