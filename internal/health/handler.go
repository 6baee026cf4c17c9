package health

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lattice-saas/lattice/internal/authz"
	"github.com/lattice-saas/lattice/internal/platform/httpx"
)

// Handler exposes dependency health to administrators.
type Handler struct {
	service *Service
	gateway authz.Gateway
}

// NewHandler constructs a Handler instance.
func NewHandler(service *Service, gateway authz.Gateway) *Handler {
	return &Handler{service: service, gateway: gateway}
}

// MountRoutes registers the detailed health endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.gateway.Require(authz.AnyRole(authz.RoleOwner, authz.RoleAdmin)))
	r.Get("/", h.detail)
}

func (h *Handler) detail(w http.ResponseWriter, r *http.Request) {
	snap := h.service.Check(r.Context())
	status := http.StatusOK
	if snap.Status != StatusUp {
		status = http.StatusServiceUnavailable
	}
	httpx.JSON(w, status, snap)
}

// Liveness answers the unauthenticated probe endpoint. It does not
// touch dependencies; a running process is a live process.
func Liveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
