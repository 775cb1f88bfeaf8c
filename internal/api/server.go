package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/mailcast/internal/config"
	"github.com/foxzi/mailcast/internal/dispatch"
	"github.com/foxzi/mailcast/internal/ledger"
	"github.com/foxzi/mailcast/internal/metrics"
	"github.com/foxzi/mailcast/internal/store"
)

// Campaigns controls campaign runs
type Campaigns interface {
	Start(ctx context.Context, campaignID, baseURL string) error
	Pause(ctx context.Context, campaignID string) error
	Resume(ctx context.Context, campaignID, baseURL string) error
	Running(campaignID string) bool
}

// ServerOptions contains options for creating the API server
type ServerOptions struct {
	Store       *store.Storage
	Ledger      *ledger.Ledger
	Campaigns   Campaigns
	NewProvider dispatch.ProviderFactory
	Config      *config.APIConfig
	BaseURL     string // tracking base passed to runs started through the API
	Version     string
	Logger      *slog.Logger
}

// Server is the HTTP control API server
type Server struct {
	router      *chi.Mux
	httpServer  *http.Server
	store       *store.Storage
	ledger      *ledger.Ledger
	campaigns   Campaigns
	newProvider dispatch.ProviderFactory
	config      *config.APIConfig
	baseURL     string
	version     string
	logger      *slog.Logger
	startTime   time.Time
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		store:       opts.Store,
		ledger:      opts.Ledger,
		campaigns:   opts.Campaigns,
		newProvider: opts.NewProvider,
		config:      opts.Config,
		baseURL:     opts.BaseURL,
		version:     opts.Version,
		logger:      opts.Logger.With("component", "api"),
		startTime:   time.Now(),
	}

	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/campaigns/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetCampaign)
			r.Delete("/", s.handleDeleteCampaign)
			r.Post("/start", s.handleStartCampaign)
			r.Post("/pause", s.handlePauseCampaign)
			r.Post("/resume", s.handleResumeCampaign)
			r.Get("/deliveries", s.handleDeliveries)
		})

		r.Get("/provider", s.handleGetProvider)
		r.Put("/provider", s.handlePutProvider)
		r.Post("/test-send", s.handleTestSend)
	})
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	return s.httpServer.Shutdown(ctx)
}
