package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/observability"
	"github.com/opensource-finance/caretrust/internal/pipeline"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// Deps are the collaborators the API serves from. Cache, Bus and Metrics
// are optional.
type Deps struct {
	Service *pipeline.Service
	Repo    domain.Repository
	Cache   domain.Cache
	Bus     domain.EventBus
	Metrics *observability.Metrics
	Version string
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps.Service, deps.Repo, deps.Cache, deps.Bus, deps.Version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(deps.Metrics))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// no tenant required
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Get("/config", handler.Config)
	router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Get("/subjects", handler.ListSubjects)
		r.Get("/activities/{activityId}", handler.GetActivity)
		r.Route("/subjects/{id}", func(r chi.Router) {
			r.Put("/profile", handler.PutProfile)
			r.Post("/activities", handler.LogActivity)
			r.Post("/testimonies", handler.SubmitTestimony)
			r.Post("/score", handler.ComputeScore)
			r.Get("/score", handler.GetScore)
			r.Get("/history", handler.GetHistory)
			r.Get("/explanation", handler.GetExplanation)
			r.Get("/risk", handler.GetRisk)
		})

		r.Post("/scores/batch", handler.ScoreBatch)
		r.Post("/fraud/check", handler.CheckFraud)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
