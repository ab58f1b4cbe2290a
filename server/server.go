// Package server is the quotagate admin HTTP surface: status snapshots,
// per-service reset, Prometheus scrape and health.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vinayprograms/quotagate/logging"
	"github.com/vinayprograms/quotagate/metrics"
	"github.com/vinayprograms/quotagate/ratelimit"
)

// DefaultResetPerMinute caps POST /reset calls across all services.
const DefaultResetPerMinute = 30

// Server serves the admin routes for one engine.
type Server struct {
	engine   *ratelimit.Engine
	router   chi.Router
	http     *http.Server
	logger   *logging.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	access   *zerolog.Logger
	resets   *rate.Limiter
	version  string

	readTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the application logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l.WithComponent("server")
		}
	}
}

// WithMetrics instruments routes with m and serves gatherer on /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithAccessLog writes one line per request to l.
func WithAccessLog(l zerolog.Logger) Option {
	return func(s *Server) {
		s.access = &l
	}
}

// WithResetLimit caps reset calls per minute. Zero keeps the default.
func WithResetLimit(perMinute int) Option {
	return func(s *Server) {
		if perMinute > 0 {
			s.resets = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
		}
	}
}

// WithReadTimeout bounds reading a request.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New builds the router for engine.
func New(engine *ratelimit.Engine, opts ...Option) *Server {
	s := &Server{
		engine:      engine,
		logger:      logging.Nop(),
		resets:      rate.NewLimiter(rate.Every(time.Minute/DefaultResetPerMinute), DefaultResetPerMinute),
		version:     "dev",
		readTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.readTimeout,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.access != nil {
		r.Use(AccessLog(*s.access))
	}
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatusAll)
	r.Get("/status/{service}", s.handleStatus)
	r.With(Throttle(s.resets)).Post("/reset/{service}", s.handleReset)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", map[string]interface{}{"addr": ln.Addr().String()})
	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http_shutdown")
	return s.http.Shutdown(ctx)
}
