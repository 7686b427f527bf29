// Package httpapi serves the operational surface: liveness, readiness and
// prometheus metrics. The domain API is deliberately not routed here.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readinessTimeout = 2 * time.Second

// Check probes one backing dependency.
type Check func(ctx context.Context) error

// Router builds the operational handler. Checks run on every /readyz hit,
// so they should be cheap pings.
type Router struct {
	checks map[string]Check
}

type Option func(r *Router)

// WithCheck registers a named readiness probe. A nil check is ignored, which
// lets callers pass optional dependencies straight through.
func WithCheck(name string, check Check) Option {
	return func(r *Router) {
		if check != nil {
			r.checks[name] = check
		}
	}
}

func New(opts ...Option) *Router {
	r := &Router{checks: make(map[string]Check)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handler mounts the operational routes.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", rt.handleHealth)
	r.Get("/readyz", rt.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (rt *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports 503 with the failing dependencies named; a ready
// instance lists every probe as "ok".
func (rt *Router) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := http.StatusOK
	overall := "ready"
	probes := make(map[string]string, len(rt.checks))
	for name, check := range rt.checks {
		if err := check(ctx); err != nil {
			probes[name] = err.Error()
			status = http.StatusServiceUnavailable
			overall = "unavailable"
			continue
		}
		probes[name] = "ok"
	}
	writeJSON(w, status, map[string]any{
		"status": overall,
		"checks": probes,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
