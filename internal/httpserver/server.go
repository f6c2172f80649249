package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridianai/controlplane/internal/config"
)

// Pinger is implemented by every dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the ambient HTTP dependencies. Domain packages mount their
// own chi.Router onto APIRouter from the composition root; this package
// never imports a domain package, so there is no cycle back from
// accesscontrol/tenant/etc into httpserver.
type Server struct {
	Router    *chi.Mux
	APIRouter chi.Router // authenticated /api/v1 sub-router
	Logger    *slog.Logger
	Metrics   *prometheus.Registry
	startedAt time.Time
	version   string
}

// AuthMiddleware resolves a bearer token and tenant header into a request
// context carrying the caller's identity; it is supplied by the
// accesscontrol package so this package stays dependency-free.
type AuthMiddleware func(http.Handler) http.Handler

// NewServer creates the ambient HTTP server: middleware chain, health
// endpoints, metrics endpoint, and an authenticated /api/v1 sub-router.
// pingers are checked in order on GET /readyz; any failure yields 503.
func NewServer(cfg *config.Config, logger *slog.Logger, metricsReg *prometheus.Registry, version string, auth AuthMiddleware, pingers map[string]Pinger) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		Metrics:   metricsReg,
		startedAt: time.Now(),
		version:   version,
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Tenant"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/health", s.handleHealth)
	s.Router.Get("/healthz", s.handleHealth)
	s.Router.Get("/readyz", s.handleReadyz(pingers))
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/api/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}
		s.APIRouter = r
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startedAt).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(pingers map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		for name, p := range pingers {
			if err := p.Ping(ctx); err != nil {
				s.Logger.Error("readiness check failed", "dependency", name, "error", err)
				RespondMessage(w, http.StatusServiceUnavailable, name+" not ready")
				return
			}
		}
		Respond(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
