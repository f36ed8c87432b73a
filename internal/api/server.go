// Package api exposes leads, templates, campaigns, engagement intake and
// the dashboard over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/foxzi/outreach/internal/campaign"
	"github.com/foxzi/outreach/internal/config"
	"github.com/foxzi/outreach/internal/dashboard"
	"github.com/foxzi/outreach/internal/db"
	"github.com/foxzi/outreach/internal/engagement"
	"github.com/foxzi/outreach/internal/ipfilter"
	"github.com/foxzi/outreach/internal/lead"
	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/queue"
	"github.com/foxzi/outreach/internal/template"
)

// Deps are the stores and services behind the API
type Deps struct {
	DB        *db.DB
	Leads     *lead.Storage
	Templates *template.Storage
	Campaigns *campaign.Storage
	Machine   *campaign.Machine
	Emails    *queue.Storage
	Recorder  *engagement.Recorder
	Dashboard *dashboard.Aggregator

	// ActivityLimit is the feed size when the request has no limit
	ActivityLimit int
	Version       string
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     *config.APIConfig
	renderer   *template.Renderer
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.APIConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		config:    cfg,
		renderer:  template.NewRenderer(),
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
	}
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(ipfilter.New(s.config.AllowedIPs, s.logger).HTTPMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	if len(s.config.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/leads", func(r chi.Router) {
			r.Get("/", s.handleListLeads)
			r.Post("/", s.handleCreateLead)
			r.Get("/{id}", s.handleGetLead)
			r.Put("/{id}", s.handleUpdateLead)
			r.Delete("/{id}", s.handleDeleteLead)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Get("/default/active", s.handleDefaultTemplate)
			r.Post("/seed/defaults", s.handleSeedTemplates)
			r.Get("/{id}", s.handleGetTemplate)
			r.Put("/{id}", s.handleUpdateTemplate)
			r.Delete("/{id}", s.handleDeleteTemplate)
			r.Post("/{id}/preview", s.handlePreviewTemplate)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleListCampaigns)
			r.Post("/", s.handleCreateCampaign)
			r.Post("/quick-start", s.handleQuickStart)
			r.Get("/{id}", s.handleGetCampaign)
			r.Put("/{id}", s.handleUpdateCampaign)
			r.Delete("/{id}", s.handleDeleteCampaign)
			r.Post("/{id}/start", s.handleStartCampaign)
			r.Post("/{id}/pause", s.handleTransition(s.deps.Machine.Pause))
			r.Post("/{id}/resume", s.handleTransition(s.deps.Machine.Resume))
			r.Post("/{id}/complete", s.handleTransition(s.deps.Machine.Complete))
			r.Get("/{id}/emails", s.handleCampaignEmails)
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/", s.handleDashboard)
			r.Get("/stats", s.handleDashboardStats)
			r.Get("/funnel", s.handleDashboardFunnel)
			r.Get("/activity", s.handleDashboardActivity)
			r.Get("/quick", s.handleDashboardQuick)
		})

		r.Post("/events", s.handleEvent)

		if s.config.DemoEnabled {
			r.Route("/demo", func(r chi.Router) {
				r.Post("/simulate/open", s.handleSimulate(engagement.KindOpened))
				r.Post("/simulate/reply", s.handleSimulate(engagement.KindReplied))
				r.Post("/simulate/booking", s.handleSimulate(engagement.KindBooked))
				r.Post("/reset", s.handleDemoReset)
			})
		}
	})
}

// ListenAndServe starts the HTTP server. It returns http.ErrServerClosed
// once Shutdown was called, including when Shutdown came first.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	return s.httpServer.Shutdown(ctx)
}
