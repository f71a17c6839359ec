package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nexuspay/fepgate/internal/logger"
	"github.com/nexuspay/fepgate/pkg/api/auth"
	apimiddleware "github.com/nexuspay/fepgate/pkg/api/middleware"
	"github.com/nexuspay/fepgate/pkg/metrics"
)

// newRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /metrics - Prometheus metrics (when enabled)
//   - GET /api/v1/channels - Channel list
//   - GET /api/v1/channels/{id} - Channel detail with clients and pending stats
//   - POST /api/v1/channels/{id}/reconnect - Force reconnect (admin only)
//   - POST /api/v1/channels/{id}/close - Tear the channel down (admin only)
//   - GET /api/v1/pending/{channel} - Pending-registry counters
//   - GET /api/v1/transactions/{id} - Audit record lookup
func (s *Server) newRouter(jwtService *auth.JWTService) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", s.liveness)
		r.Get("/ready", s.readiness)
	})

	if s.metricsEnabled {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apimiddleware.JWTAuth(jwtService))

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", s.listChannels)
			r.Get("/{id}", s.getChannel)

			// Mutating actions: admin only
			r.Group(func(r chi.Router) {
				r.Use(apimiddleware.RequireAdmin())
				r.Post("/{id}/reconnect", s.reconnectChannel)
				r.Post("/{id}/close", s.closeChannel)
			})
		})

		r.Get("/pending/{channel}", s.getPendingStats)
		r.Get("/transactions/{id}", s.getTransaction)
	})

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger logs requests using the internal logger. Healthcheck
// requests are logged at DEBUG to reduce noise.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
