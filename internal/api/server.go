package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veltar/pacer/internal/campaign"
	"github.com/veltar/pacer/internal/config"
	"github.com/veltar/pacer/internal/metrics"
	"github.com/veltar/pacer/internal/repository"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	campaigns  *repository.CampaignRepository
	contacts   *repository.ContactRepository
	scheduler  *campaign.Scheduler
	reporter   *campaign.Reporter
	config     *config.Config
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(
	campaigns *repository.CampaignRepository,
	contacts *repository.ContactRepository,
	sched *campaign.Scheduler,
	reporter *campaign.Reporter,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		campaigns: campaigns,
		contacts:  contacts,
		scheduler: sched,
		reporter:  reporter,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check and metrics (no auth required)
	s.router.Get("/health", s.handleHealth)
	if s.config.Metrics.Enabled && metrics.Global() != nil {
		s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			metrics.Global().Registry(),
			promhttp.HandlerOpts{},
		))
	}

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.handleCreateCampaign)
			r.Get("/", s.handleListCampaigns)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCampaign)
				r.Patch("/", s.handleUpdateCampaign)
				r.Delete("/", s.handleDeleteCampaign)

				r.Post("/start", s.handleStartCampaign)
				r.Post("/pause", s.handlePauseCampaign)
				r.Post("/resume", s.handleResumeCampaign)
				r.Post("/cancel", s.handleCancelCampaign)

				r.Get("/progress", s.handleCampaignProgress)
				r.Get("/contacts", s.handleCampaignContacts)
			})
		})
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Server.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.Server.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
