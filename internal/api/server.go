// Package api serves field evaluation and tracing over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/JohnathanBurchill/chaos/internal/auth"
	"github.com/JohnathanBurchill/chaos/internal/cache"
	"github.com/JohnathanBurchill/chaos/internal/health"
	"github.com/JohnathanBurchill/chaos/internal/httputil"
	"github.com/JohnathanBurchill/chaos/internal/metrics"
	"github.com/JohnathanBurchill/chaos/internal/model"
	"github.com/JohnathanBurchill/chaos/internal/shc"
	"github.com/JohnathanBurchill/chaos/internal/stream"
	"github.com/JohnathanBurchill/chaos/internal/trace"
)

// Models serves interpolated models and describes the loaded release.
type Models interface {
	Get(t time.Time) (*model.Model, error)
	Coefficients() *shc.Coefficients
	Stats() cache.Stats
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server. Evaluation routes answer 503
// until ready is set.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, models Models, ready *health.Readiness, sweeps *stream.Handler, traceOpts trace.Options, version string) *Server {
	mux := http.NewServeMux()
	h := &handlers{
		models:    models,
		ready:     ready,
		traceOpts: traceOpts,
		version:   version,
		logger:    logger.With("component", "api"),
		now:       time.Now,
	}

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", ready.Readyz)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/version", h.handleVersion)
	mux.HandleFunc("GET /api/v1/field", h.requireReady(h.handleField))
	mux.HandleFunc("GET /api/v1/trace", h.requireReady(h.handleTrace))
	mux.HandleFunc("GET /api/v1/model", h.requireReady(h.handleModel))
	mux.HandleFunc("GET /api/v1/cache", h.handleCache)
	mux.HandleFunc("GET /api/v1/sweep", h.requireReady(sweeps.HandleSweep))

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
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
				"query", r.URL.RawQuery,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, false),
			)
		})
	}
}
