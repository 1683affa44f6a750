package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"postsmith/app/internal/app/scheduler"
	"postsmith/app/internal/domain/pipeline"
)

const bearerScheme = "bearer"

// ScheduleSource exposes the scheduler state served by the admin API.
type ScheduleSource interface {
	Running() bool
	Location() *time.Location
	Next() []scheduler.Upcoming
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options configures the HTTP server wiring.
type Options struct {
	Pipeline pipeline.Service
	// Schedule is optional; without it the schedule route reports no entries.
	Schedule ScheduleSource
	// Database is optional; without it health reports the database as unchecked.
	Database   HealthCheck
	AdminToken string
	// TrustProxy keys rate limiting on X-Forwarded-For / X-Real-IP. Enable it only behind a
	// reverse proxy that overwrites those headers.
	TrustProxy  bool
	Logger      *logrus.Logger
	SentryHub   *sentry.Hub
	RateLimiter RateLimiterSettings
}

// RateLimiterSettings configures the HTTP rate limiter behaviour.
type RateLimiterSettings struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

// Server wires the admin API via Huma.
type Server struct {
	api         huma.API
	mux         *stdhttp.ServeMux
	pipeline    pipeline.Service
	schedule    ScheduleSource
	database    HealthCheck
	adminToken  string
	trustProxy  bool
	logger      *logrus.Logger
	sentry      *sentry.Hub
	rateLimiter *RateLimiter
}

// NewServer constructs the HTTP server.
func NewServer(opts Options) (*Server, error) {
	if opts.Pipeline == nil {
		return nil, eris.New("pipeline service is required")
	}

	settings := opts.RateLimiter
	if settings.Burst <= 0 {
		return nil, eris.New("rate limiter burst must be greater than zero")
	}
	if settings.RequestsPerSecond <= 0 {
		return nil, eris.New("rate limiter requests per second must be greater than zero")
	}
	if settings.ClientTTL <= 0 {
		return nil, eris.New("rate limiter client TTL must be greater than zero")
	}

	mux := stdhttp.NewServeMux()
	config := huma.DefaultConfig("Postsmith", "1.0.0")
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		bearerScheme: {
			Type:   "http",
			Scheme: "bearer",
		},
	}

	api := humago.New(mux, config)

	srv := &Server{
		api:         api,
		mux:         mux,
		pipeline:    opts.Pipeline,
		schedule:    opts.Schedule,
		database:    opts.Database,
		adminToken:  opts.AdminToken,
		trustProxy:  opts.TrustProxy,
		logger:      opts.Logger,
		sentry:      opts.SentryHub,
		rateLimiter: NewRateLimiter(settings.Burst, settings.RequestsPerSecond, settings.ClientTTL),
	}

	srv.registerMiddlewares()
	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the underlying HTTP handler for wiring into the application.
func (s *Server) Handler() stdhttp.Handler {
	return s.mux
}

// API exposes the underlying Huma API instance.
func (s *Server) API() huma.API {
	return s.api
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.rateLimiter.Close()
}

func (s *Server) registerMiddlewares() {
	s.api.UseMiddleware(
		s.sentryMiddleware(),
		s.recoveryMiddleware(),
		s.requestIDMiddleware(),
		s.rateLimitMiddleware(),
		s.authMiddleware(),
		s.loggingMiddleware(),
	)
}

func (s *Server) registerRoutes() {
	s.registerHealthRoute()
	s.registerRunRoute()
	s.registerPreviewRoute()
	s.registerScheduleRoute()
}

func (s *Server) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.mux.ServeHTTP(w, r)
}
