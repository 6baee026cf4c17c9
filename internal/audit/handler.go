package audit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lattice-saas/lattice/internal/authz"
	"github.com/lattice-saas/lattice/internal/platform/httpx"
)

// Handler serves the audit timeline to administrators.
type Handler struct {
	logger  *slog.Logger
	service *Service
	gateway authz.Gateway
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gateway authz.Gateway) *Handler {
	return &Handler{logger: logger, service: service, gateway: gateway}
}

// MountRoutes registers timeline endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.gateway.Require(authz.AnyRole(authz.RoleOwner, authz.RoleAdmin)))
	r.Get("/", h.timeline)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	entityID, _ := strconv.ParseInt(q.Get("entity_id"), 10, 64)
	actorID, _ := strconv.ParseInt(q.Get("actor_id"), 10, 64)

	filter := Filter{
		Entity:   q.Get("entity"),
		EntityID: entityID,
		ActorID:  actorID,
		Action:   q.Get("action"),
	}
	records, pagination, err := h.service.Timeline(r.Context(), filter, page, perPage)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if records == nil {
		records = []Record{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records, "pagination": pagination})
}
