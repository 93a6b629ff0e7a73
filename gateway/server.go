// Package gateway implements the thin HTTP submission boundary (spec.md §6):
// request decoding, idempotent submission, status lookup, and the metrics
// exposition endpoint, chi-routed in the teacher's idiom.
package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"kestrel/idempotency"
	"kestrel/intent"
	"kestrel/observability/metrics"
	"kestrel/predictor"
)

// Orchestrator is the narrow seam onto the worker pool; satisfied by
// *orchestrator.Pool. Kept as an interface so gateway never imports
// orchestrator directly (the dependency runs server → pool, never back).
type Orchestrator interface {
	Submit(intentID string) bool
	Prediction(intentID string) (predictor.Prediction, bool)
}

// AuthMiddleware is the injectable authentication seam spec.md §1 excludes
// from the core. Submissions pass through untouched by default; callers
// wire a real implementation (mTLS, API keys, JWT) at daemon start.
type AuthMiddleware func(http.Handler) http.Handler

// NoopAuth performs no authentication; the default when none is configured.
func NoopAuth(next http.Handler) http.Handler { return next }

// Config captures the dependencies required to construct the gateway.
type Config struct {
	Submitter  *idempotency.Submitter
	Store      intent.Store
	Pool       Orchestrator
	Metrics    *metrics.Metrics
	Auth       AuthMiddleware
	CORS       *CORSConfig
	RateLimits map[string]RateLimit
	Logger     *slog.Logger
	Now        func() time.Time
}

// Server encapsulates the gateway's HTTP dependencies.
type Server struct {
	submitter *idempotency.Submitter
	store     intent.Store
	pool      Orchestrator
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Auth == nil {
		cfg.Auth = NoopAuth
	}
	srv := &Server{
		submitter: cfg.Submitter,
		store:     cfg.Store,
		pool:      cfg.Pool,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	limiter := NewRateLimiter(cfg.RateLimits, cfg.Logger)
	srv.router = srv.buildRouter(cfg.Auth, cfg.CORS, limiter)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(auth AuthMiddleware, cors *CORSConfig, limiter *RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	if cors != nil {
		r.Use(corsMiddleware(*cors))
	}
	r.Use(auth)

	r.Route("/v1", func(api chi.Router) {
		api.With(limiter.Middleware("submit")).Post("/submit", s.handleSubmit)
		api.Get("/status/{intent_id}", s.handleStatus)
	})

	if s.metrics != nil {
		r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	}

	return r
}
