// Package server exposes the pipeline over HTTP: the input page, the JSON
// info/download API and the attachment file route.
package server

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"videograb/internal/config"
	"videograb/internal/observability"
	"videograb/internal/pipeline"
	"videograb/internal/storage"
)

//go:embed static/index.html
var indexHTML []byte

// Server is the HTTP front end.
type Server struct {
	svc     *pipeline.Service
	dir     *storage.Dir
	cfg     config.Server
	logger  *slog.Logger
	metrics observability.Metrics

	metricsHandler http.Handler
	limiter        *rate.Limiter

	router chi.Router
	http   *http.Server
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records per-route outcomes and, when h is non-nil, serves h on
// /metrics.
func WithMetrics(m observability.Metrics, h http.Handler) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsHandler = h
	}
}

// WithRateLimit applies a token bucket to /api/*. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithConfig sets listen address, public base URL and timeouts.
func WithConfig(c config.Server) Option {
	return func(s *Server) { s.cfg = c }
}

// New builds the router. The pipeline's storage directory is the one served.
func New(svc *pipeline.Service, opts ...Option) *Server {
	s := &Server{
		svc: svc,
		dir: svc.Storage(),
		cfg: config.Server{Addr: ":5000", ReadHeaderTimeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = observability.OrDiscard(s.logger)
	s.metrics = observability.OrNop(s.metrics)
	s.router = s.routes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/download/{filename}", s.handleServeFile)
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/info", s.handleInfo)
		r.Post("/download", s.handleDownload)
	})
	return r
}

// Handler returns the routed handler (tests drive it through httptest).
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called. Calling Stop first
// makes Serve return immediately.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http server listening", "addr", ln.Addr().String(), "storage", s.dir.Path())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.http.Shutdown(ctx)
}
