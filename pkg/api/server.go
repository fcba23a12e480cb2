package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/engine"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

// ActorHeader names the authenticated caller. Authentication happens
// upstream; warden trusts this header.
const ActorHeader = "X-Warden-User"

// DefaultMaxBodyBytes bounds request bodies unless WithMaxBodyBytes is given
const DefaultMaxBodyBytes = 1 << 20

// Server represents our API server
type Server struct {
	engine   *engine.Engine
	router   *mux.Router
	logger   *observability.Logger
	metrics  *observability.Metrics
	maxBytes int64
}

// Option customizes a Server
type Option func(*Server)

// WithMaxBodyBytes overrides DefaultMaxBodyBytes
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// NewServer creates a new API server. metrics may be nil.
func NewServer(eng *engine.Engine, logger *observability.Logger, metrics *observability.Metrics, opts ...Option) *Server {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	s := &Server{
		engine:   eng,
		router:   mux.NewRouter(),
		logger:   logger,
		metrics:  metrics,
		maxBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(
		httputil.RecoveryMiddleware(s.logger),
		httputil.RequestIDMiddleware,
		actorMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.MaxBytesMiddleware(s.maxBytes),
	)
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics, routeTemplate))
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Access decisions
	v1.HandleFunc("/tenants/{tenant}/users/{user}/permissions", s.resolve).Methods("GET")
	v1.HandleFunc("/tenants/{tenant}/users/{user}/capabilities/{capability}", s.hasCapability).Methods("GET")
	v1.HandleFunc("/tenants/{tenant}/users/{user}/marketplaces/{marketplace}", s.hasMarketplaceAccess).Methods("GET")

	// Quota
	v1.HandleFunc("/tenants/{tenant}/quota/{feature}/consume", s.consume).Methods("POST")
	v1.HandleFunc("/tenants/{tenant}/quota", s.quotaSnapshot).Methods("GET")

	// Roles
	v1.HandleFunc("/tenants/{tenant}/users/{user}/role", s.assignRole).Methods("PUT")
	v1.HandleFunc("/tenants/{tenant}/users/{user}/role", s.revokeRole).Methods("DELETE")
	v1.HandleFunc("/tenants/{tenant}/assignments", s.listAssignments).Methods("GET")

	// Sessions
	v1.HandleFunc("/sessions", s.createSession).Methods("POST")
	v1.HandleFunc("/sessions/{token}/touch", s.touchSession).Methods("POST")
	v1.HandleFunc("/sessions/{token}/authorize", s.authorizeSession).Methods("POST")
	v1.HandleFunc("/sessions/{token}", s.terminateSession).Methods("DELETE")
	v1.HandleFunc("/users/{user}/sessions", s.listSessions).Methods("GET")

	// Tenant administration
	v1.HandleFunc("/tenants", s.createTenant).Methods("POST")
	v1.HandleFunc("/tenants", s.listTenants).Methods("GET")
	v1.HandleFunc("/tenants/{tenant}", s.getTenant).Methods("GET")
	v1.HandleFunc("/tenants/{tenant}/status", s.setTenantStatus).Methods("PUT")
	v1.HandleFunc("/tenants/{tenant}/ceilings", s.updateTenantCeilings).Methods("PUT")
	v1.HandleFunc("/tenants/{tenant}/features", s.setTenantFeatures).Methods("PUT")

	// Templates
	v1.HandleFunc("/templates", s.listTemplates).Methods("GET")
	v1.HandleFunc("/templates/{name}", s.getTemplate).Methods("GET")
	v1.HandleFunc("/templates/{name}", s.updateTemplate).Methods("PUT")

	// Audit
	v1.HandleFunc("/audit", s.queryAudit).Methods("GET")
	v1.HandleFunc("/audit/export", s.exportAudit).Methods("GET")
}

// actorMiddleware records the caller named by ActorHeader
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := r.Header.Get(ActorHeader); actor != "" {
			r = r.WithContext(contextkeys.WithActorID(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

// routeTemplate labels metrics by route pattern so ids do not explode
// cardinality
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// caller returns the acting user of the request
func caller(r *http.Request) string {
	return contextkeys.GetActorID(r.Context())
}
