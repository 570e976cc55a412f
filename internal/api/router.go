// Package api assembles the proxy's HTTP surface: the per-tenant MCP
// endpoints, health and the metrics endpoints.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alecgard/paygate/internal/metrics"
	"github.com/alecgard/paygate/internal/network"
	"github.com/alecgard/paygate/internal/ratelimit"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	// MCP serves /mcp/{tenantID}; normally a *router.Router.
	MCP            http.Handler
	Limiter        *ratelimit.Limiter
	RateOverrides  map[string]int
	Metrics        *metrics.Metrics
	Networks       *network.Registry
	Port           int
	Version        string
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	r.Get("/health", healthHandler(deps.Port))
	r.Get("/.well-known/paygate.json", wellKnownHandler(deps.Version, deps.Networks))

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
		r.Get("/metrics/summary", deps.Metrics.SummaryHandler())
	}

	if deps.MCP != nil {
		// No tenant in the path; the MCP router answers 400.
		r.Post("/mcp", deps.MCP.ServeHTTP)
		r.Post("/mcp/", deps.MCP.ServeHTTP)

		r.Group(func(mr chi.Router) {
			if deps.Limiter != nil {
				var onReject []func()
				if deps.Metrics != nil {
					onReject = append(onReject, func() { deps.Metrics.IncRateLimitRejection("tenant") })
				}
				mr.Use(ratelimit.Middleware(deps.Limiter, tenantKey(deps.RateOverrides), onReject...))
			}
			mr.Post("/mcp/{tenantID}", deps.MCP.ServeHTTP)
			mr.Post("/mcp/{tenantID}/*", deps.MCP.ServeHTTP)
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	})

	return r
}

// tenantKey keys rate limit buckets by the tenant in the path, applying any
// configured per-tenant override.
func tenantKey(overrides map[string]int) ratelimit.KeyFunc {
	return func(r *http.Request) (string, int) {
		id := chi.URLParam(r, "tenantID")
		return id, overrides[id]
	}
}

func healthHandler(port int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "port": port})
	}
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}

// metricsMiddleware records request counts and latency by route pattern, so
// tenant IDs do not become label values.
func metricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			pattern := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				pattern = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveHTTPRequest(r.Method, pattern, status, time.Since(start).Seconds())
		})
	}
}
