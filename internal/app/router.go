package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lattice-saas/lattice/internal/audit"
	"github.com/lattice-saas/lattice/internal/authz"
	"github.com/lattice-saas/lattice/internal/health"
	"github.com/lattice-saas/lattice/internal/identity"
	"github.com/lattice-saas/lattice/internal/observability"
	"github.com/lattice-saas/lattice/internal/platform/httpx"
	"github.com/lattice-saas/lattice/internal/shared"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	SessionManager  *shared.SessionManager
	CSRFManager     *shared.CSRFManager
	Gateway         authz.Gateway
	IdentityHandler *identity.Handler
	AuthzHandler    *authz.Handler
	AuditHandler    *audit.Handler
	HealthHandler   *health.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with lattice defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	r.Use(params.Gateway.WithIdentity)

	r.Get("/healthz", health.Liveness)
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", params.IdentityHandler.MountAuthRoutes)
		r.Route("/me/access", params.AuthzHandler.MountSelfRoutes)
		r.Route("/admin", func(r chi.Router) {
			r.Route("/users", params.IdentityHandler.MountAdminRoutes)
			r.Route("/permissions", params.AuthzHandler.MountAdminRoutes)
			if params.AuditHandler != nil {
				r.Route("/audit", params.AuditHandler.MountRoutes)
			}
			if params.HealthHandler != nil {
				r.Route("/health", params.HealthHandler.MountRoutes)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "route not found")
	})

	return r
}
