// Package opsapi serves the operator HTTP surface of a coordination node:
// health probes, the node roster, the property cache and Prometheus metrics.
package opsapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-coord/pkg/auth"
	"github.com/dd0wney/cluso-coord/pkg/cluster"
	"github.com/dd0wney/cluso-coord/pkg/health"
	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/metrics"
	"github.com/dd0wney/cluso-coord/pkg/opsapi/middleware"
)

// Server holds the dependencies of the ops handlers
type Server struct {
	manager  *cluster.Manager
	health   *health.HealthChecker
	registry *metrics.Registry
	logger   logging.Logger
	auth     auth.TokenValidator
}

// Option configures a Server
type Option func(*Server)

// WithAuth requires a bearer token on /v1: reads need the viewer role,
// changes the operator role. Probes and /metrics stay open.
func WithAuth(validator auth.TokenValidator) Option {
	return func(s *Server) {
		s.auth = validator
	}
}

// New creates the ops API of one manager. A nil registry disables the
// /metrics endpoint and request metrics.
func New(manager *cluster.Manager, hc *health.HealthChecker, registry *metrics.Registry, logger logging.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	s := &Server{
		manager:  manager,
		health:   hc,
		registry: registry,
		logger:   logger.With(logging.Component("opsapi")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.PanicRecovery(s.logger))
	r.Use(middleware.Metrics(s.registry))
	r.Use(middleware.Logging(s.logger))

	r.Get("/healthz", s.health.HTTPHandler())
	r.Get("/readyz", s.health.ReadinessHandler())
	r.Get("/livez", s.health.LivenessHandler())

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.require(auth.RoleViewer))
			r.Get("/node", s.handleNode)
			r.Get("/nodes", s.handleNodes)
			r.Get("/properties", s.handleProperties)
			r.Get("/properties/{name}", s.handleProperty)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.require(auth.RoleOperator))
			r.Put("/node/state", s.handleSetState)
			r.Post("/refetch", s.handleRefetch)
		})
	})

	return r
}

// require checks role when auth is configured
func (s *Server) require(role string) func(http.Handler) http.Handler {
	if s.auth == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RequireRole(s.auth, role, s.logger, s.registry)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", logging.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
