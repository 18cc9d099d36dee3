// Package httptransport assembles the HTTP router: middleware ordering,
// operational endpoints and the audit API surface.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sitecheck/internal/audit/handler"
	"sitecheck/internal/auth"
	"sitecheck/internal/platform/metrics"
	"sitecheck/internal/platform/middleware"
	"sitecheck/pkg/platform/httputil"
)

// Deps carries everything the router mounts.
type Deps struct {
	Audit    *handler.Handler
	Tokens   auth.TokenResolver
	Throttle *middleware.Throttle
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// Health reports datastore readiness; nil means always ready.
	Health func(ctx context.Context) error
}

// NewRouter wires the public API. Authentication is optional on every route;
// endpoints that require a user reject anonymous callers themselves, and the
// anonymous throttle sits behind auth so authenticated traffic bypasses it.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestMeta)
	r.Use(middleware.Instrument(d.Metrics))

	r.Get("/healthz", d.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(d.Tokens, d.Logger))
		if d.Throttle != nil {
			r.Use(d.Throttle.Handler)
		}
		d.Audit.Register(r)
	})

	return r
}

func (d Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	if d.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.Health(ctx); err != nil {
			d.Logger.WarnContext(r.Context(), "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
