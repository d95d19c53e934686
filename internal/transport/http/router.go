// Package httptransport assembles the chi router: shared middleware, health
// and metrics endpoints, and the audit handler's route groups.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"civicwatch/internal/integrity/handler"
	"civicwatch/internal/platform/metrics"
	"civicwatch/pkg/platform/httputil"
	"civicwatch/pkg/platform/middleware/admin"
	"civicwatch/pkg/platform/middleware/auth"
	"civicwatch/pkg/platform/middleware/metadata"
	"civicwatch/pkg/platform/middleware/requesttime"
)

const requestTimeout = 30 * time.Second

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps is everything NewRouter wires.
type Deps struct {
	Handler        *handler.Handler
	Voters         auth.TokenValidator
	AdminTokenHash string
	Metrics        *metrics.HTTP
	Gatherer       prometheus.Gatherer
	Checks         map[string]HealthCheck
	Logger         *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(metadata.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.Get("/health", health(d.Checks))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))
		d.Handler.RegisterRead(r)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireVoter(d.Voters, d.Logger))
			d.Handler.RegisterVotes(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminToken(d.AdminTokenHash, d.Logger))
			d.Handler.RegisterAdmin(r)
		})
	})
	return r
}

func health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		out := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				out[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			out[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": out})
	}
}
