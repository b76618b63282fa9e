// Package api wires the HTTP surface: routing, middleware, and the
// translation between request payloads and the internal packages.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Picklezoid/Astrophotography-Toolkit/internal/auth"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/catalog"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/health"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/httputil"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/metrics"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/skymap"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/solve"
	"github.com/Picklezoid/Astrophotography-Toolkit/web"
)

// Deps are the services the HTTP handlers delegate to.
type Deps struct {
	Catalog  *catalog.Catalog
	Store    *skymap.Store
	Renderer *skymap.Renderer
	Solver   *solve.Solver
	Limiter  *solve.Limiter

	MaxUploadBytes int64
	// TrustProxy enables X-Forwarded-For when behind a reverse proxy.
	TrustProxy bool
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger

	catalog        *catalog.Catalog
	store          *skymap.Store
	renderer       *skymap.Renderer
	solver         *solve.Solver
	limiter        *solve.Limiter
	maxUploadBytes int64
	trustProxy     bool
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	s := &Server{
		logger:         logger,
		catalog:        deps.Catalog,
		store:          deps.Store,
		renderer:       deps.Renderer,
		solver:         deps.Solver,
		limiter:        deps.Limiter,
		maxUploadBytes: deps.MaxUploadBytes,
		trustProxy:     deps.TrustProxy,
	}

	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(s.store.Available))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/v1/exposure", s.handleExposure)
	mux.HandleFunc("POST /api/v1/skymap/preview", s.handlePreview)
	mux.HandleFunc("POST /api/v1/target/declination", s.handleDeclination)
	mux.HandleFunc("GET /api/v1/targets", s.handleTargets)

	mux.HandleFunc("POST /api/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/v1/analyze/async", s.handleAnalyzeAsync)
	mux.HandleFunc("GET /api/v1/analyze/{sub_id}", s.handleAnalyzeStatus)
	mux.HandleFunc("GET /api/v1/analyze/jobs/{job_id}/annotations", s.handleAnnotations)
	mux.HandleFunc("GET /api/v1/analyze/jobs/{job_id}/overlay", s.handleOverlay)

	mux.Handle("GET /", http.FileServerFS(web.Content))

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger, deps.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
