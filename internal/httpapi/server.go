// Package httpapi is the HTTP control surface over the job manager (spec
// §4.6, §6). Handlers are thin: decode with the codec, call the manager,
// encode the result, map manager errors to status codes.
package httpapi

import (
	"net/http"
	"os"

	"github.com/relaygo/hopper/internal/job"
	"github.com/relaygo/hopper/internal/logging"
	"github.com/relaygo/hopper/internal/metrics"
	"github.com/relaygo/hopper/internal/observability"
	"github.com/relaygo/hopper/internal/registry"
)

// ServerConfig bundles the daemon's wired dependencies for the HTTP surface.
type ServerConfig struct {
	Manager  *job.Manager
	Registry *registry.Registry
}

// NewMux builds the full routed handler: job endpoints plus the ambient
// health/metrics endpoints, wrapped with tracing and access-log middleware
// in the teacher's chaining order.
func NewMux(cfg ServerConfig) http.Handler {
	h := &Handler{manager: cfg.Manager, registry: cfg.Registry}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	registerMetricsRoutes(mux)

	var handler http.Handler = mux
	handler = accessLogMiddleware(handler)
	handler = observability.HTTPMiddleware(handler)
	return handler
}

// StartHTTPServer starts listening in a background goroutine, mirroring the
// teacher's fire-and-forget ListenAndServe pattern; callers retain the
// *http.Server to Shutdown on exit. If the listener fails (for example the
// address cannot be bound), the error is logged and the process exits with
// status 1.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	server := &http.Server{
		Addr:    addr,
		Handler: NewMux(cfg),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	return server
}

func registerMetricsRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.PrometheusHandler())
	mux.Handle("GET /metrics.json", metrics.Global().JSONHandler())
	mux.Handle("GET /metrics/timeseries", metrics.Global().TimeSeriesHandler())
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.Op().Debug("http request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
