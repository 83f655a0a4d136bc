// Package httpserver provides the HTTP REST API of the research integrator.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/research-integrator/internal/domain"
	"github.com/helixir/research-integrator/internal/events"
	"github.com/helixir/research-integrator/internal/fetcher"
	"github.com/helixir/research-integrator/internal/store"
	"github.com/helixir/research-integrator/internal/summarizer"
)

// Searcher runs aggregated searches.
type Searcher interface {
	Search(ctx context.Context, q domain.SearchQuery) (*domain.SearchResult, error)
}

// PaperFetcher resolves paper ids.
type PaperFetcher interface {
	Fetch(ctx context.Context, ids []string, includeFullText bool) (*fetcher.Result, error)
}

// Summarizer produces paper summaries.
type Summarizer interface {
	Summarize(ctx context.Context, req summarizer.Request) (*domain.Summary, error)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RequestRecorder receives per-request telemetry. observability.Metrics implements it.
type RequestRecorder interface {
	RecordHTTPRequest(method, route string, status int, d time.Duration)
}

// Services bundles the components the handlers call.
type Services struct {
	Search      Searcher
	Fetch       PaperFetcher
	Summarize   Summarizer
	Sessions    store.SessionStore
	Preferences store.PreferencesStore
	Emitter     *events.Emitter

	// Readiness lists the dependencies pinged by /readyz, by name.
	Readiness map[string]Pinger

	Recorder RequestRecorder
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// APIKeys restricts accepted bearer keys. Empty accepts any non-empty key.
	APIKeys []string

	// AllowedOrigins is the CORS allow list; "*" allows any origin.
	AllowedOrigins []string
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	services   Services
	validate   *validator.Validate
	auth       *apiKeyAuth
	origins    []string
	logger     zerolog.Logger
	now        func() time.Time
}

// NewServer creates a new HTTP server.
func NewServer(cfg Config, services Services, logger zerolog.Logger) *Server {
	if services.Recorder == nil {
		services.Recorder = nopRecorder{}
	}

	s := &Server{
		services: services,
		validate: newValidator(),
		auth:     newAPIKeyAuth(cfg.APIKeys),
		origins:  cfg.AllowedOrigins,
		logger:   logger.With().Str("component", "http-server").Logger(),
		now:      time.Now,
	}

	s.router = s.buildRouter()

	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = 2 * time.Minute
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       idle,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(correlationIDMiddleware)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(corsMiddleware(s.origins))
	r.Use(jsonContentTypeMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, http.StatusNotFound, codeNotFound, "resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, http.StatusMethodNotAllowed, codeInvalidRequest, "method not allowed", nil)
	})

	// Health endpoints (no auth)
	r.Get("/health", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.middleware)

		r.Post("/search", s.searchPapers)
		r.Post("/fetch", s.fetchPapers)
		r.Post("/summarize", s.summarizePaper)
		r.Get("/prefs", s.getPreferences)
		r.Put("/prefs", s.updatePreferences)
		r.Post("/context", s.manageContext)
		r.Get("/context", s.getContext)
	})

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: s.now().UTC()})
}

// readinessHandler pings every registered dependency.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ready", Timestamp: s.now().UTC(), Checks: map[string]string{}}
	status := http.StatusOK
	for name, p := range s.services.Readiness {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Str("dependency", name).Msg("readiness check failed")
			resp.Checks[name] = "unavailable"
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

type nopRecorder struct{}

func (nopRecorder) RecordHTTPRequest(string, string, int, time.Duration) {}
