package authz

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lattice-saas/lattice/internal/platform/httpx"
)

// Handler exposes the administrative permission API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	catalog   *Catalog
	evaluator *Evaluator
	resolver  IdentityResolver
	gateway   Gateway
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, catalog *Catalog, evaluator *Evaluator, resolver IdentityResolver, gateway Gateway) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		catalog:   catalog,
		evaluator: evaluator,
		resolver:  resolver,
		gateway:   gateway,
		validator: validator.New(),
	}
}

// MountAdminRoutes registers the management API. Every route requires
// the OWNER or ADMIN static role.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gateway.Require(AnyRole(RoleOwner, RoleAdmin)))

		r.Get("/groups", h.listGroups)
		r.Post("/groups", h.createGroup)
		r.Get("/groups/{groupID}", h.getGroup)
		r.Put("/groups/{groupID}", h.updateGroup)
		r.Delete("/groups/{groupID}", h.deleteGroup)
		r.Post("/groups/{groupID}/activate", h.setGroupActive(true))
		r.Post("/groups/{groupID}/deactivate", h.setGroupActive(false))

		r.Get("/groups/{groupID}/permissions", h.listGroupPermissions)
		r.Put("/groups/{groupID}/permissions", h.setPermission)
		r.Delete("/groups/{groupID}/permissions", h.removePermission)

		r.Get("/groups/{groupID}/members", h.listGroupMembers)
		r.Put("/groups/{groupID}/members/{userID}", h.assignMember)
		r.Delete("/groups/{groupID}/members/{userID}", h.removeMember)
		r.Get("/users/{userID}/groups", h.listUserGroups)

		r.Get("/catalog/modules", h.listCatalogModules)
		r.Post("/catalog/modules", h.registerCatalogModule)
		r.Get("/catalog/modules/{moduleKey}/pages", h.listCatalogPages)
		r.Post("/catalog/pages", h.registerCatalogPage)
		r.Get("/catalog/pages/{pageKey}/components", h.listCatalogComponents)
		r.Post("/catalog/components", h.registerCatalogComponent)

		r.Post("/check", h.checkUser)
	})
}

// MountSelfRoutes registers read-access probes for the current user,
// used by UI visibility checks. Any authenticated identity may call
// them; the evaluator itself decides the answer.
func (h *Handler) MountSelfRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gateway.Require(Authenticated()))
		r.Get("/modules/{moduleKey}", h.selfModuleAccess)
		r.Get("/pages/{pageKey}", h.selfPageAccess)
		r.Get("/pages/{pageKey}/components/{componentKey}", h.selfComponentAccess)
		r.Post("/check", h.checkSelf)
	})
}

type groupResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type entryResponse struct {
	GroupID            int64     `json:"group_id"`
	PermissionType     string    `json:"permission_type"`
	ResourceType       string    `json:"resource_type"`
	ResourceIdentifier string    `json:"resource_identifier"`
	Action             string    `json:"action"`
	Granted            bool      `json:"granted"`
	CreatedAt          time.Time `json:"created_at"`
}

type membershipResponse struct {
	UserID     int64     `json:"user_id"`
	GroupID    int64     `json:"group_id"`
	AssignedBy int64     `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`
}

func toGroupResponse(g Group) groupResponse {
	return groupResponse{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Active:      g.Active,
		CreatedBy:   g.CreatedBy,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

func toEntryResponse(e Entry) entryResponse {
	return entryResponse{
		GroupID:            e.GroupID,
		PermissionType:     string(e.Scope.Level()),
		ResourceType:       e.Scope.Module(),
		ResourceIdentifier: e.Scope.Identifier(),
		Action:             string(e.Action),
		Granted:            e.Granted,
		CreatedAt:          e.CreatedAt,
	}
}

func toMembershipResponse(m Membership) membershipResponse {
	return membershipResponse{
		UserID:     m.UserID,
		GroupID:    m.GroupID,
		AssignedBy: m.AssignedBy,
		AssignedAt: m.AssignedAt,
	}
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.ListGroups(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, toGroupResponse(g))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"groups": out})
}

type groupForm struct {
	Name        string `json:"name" validate:"required,min=2,max=120"`
	Description string `json:"description" validate:"max=500"`
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var form groupForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := IdentityFromContext(r.Context())
	group, err := h.service.CreateGroup(r.Context(), form.Name, form.Description, actor.UserID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toGroupResponse(group))
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathID(w, r, "groupID")
	if !ok {
		return
	}
	group, err := h.service.GetGroup(r.Context(), groupID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	entries, err := h.service.ListGroupPermissions(r.Context(), groupID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	members, err := h.service.ListGroupMembers(r.Context(), groupID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	entryOut := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		entryOut = append(entryOut, toEntryResponse(e))
	}
	memberOut := make([]membershipResponse, 0, len(members))
	for _, m := range members {
		memberOut = append(memberOut, toMembershipResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"group":       toGroupResponse(group),
		"permissions": entryOut,
		"members":     memberOut,
	})
}

func (h *Handler) updateGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathID(w, r, "groupID")
	if !ok {
		return
	}
	var form groupForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := IdentityFromContext(r.Context())
	group, err := h.service.UpdateGroup(r.Context(), actor.UserID, groupID, form.Name, form.Description)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toGroupResponse(group))
}

func (h *Handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathID(w, r, "groupID")
	if !ok {
		return
	}
	actor := IdentityFromContext(r.Context())
	if err := h.service.DeleteGroup(r.Context(), actor.UserID, groupID); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setGroupActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID, ok := h.pathID(w, r, "groupID")
		if !ok {
			return
		}
		actor := IdentityFromContext(r.Context())
		if err := h.service.SetGroupActive(r.Context(), actor.UserID, groupID, active); err != nil {
			h.respondErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type permissionForm struct {
	PermissionType     string `json:"permission_type" validate:"required"`
	ResourceType       string `json:"resource_type" validate:"required"`
	ResourceIdentifier string `json:"resource_identifier"`
	Action             string `json:"action" validate:"required"`
	Granted            *bool  `json:"granted" validate:"required"`
}

func (h *Handler) parsePermissionForm(w http.ResponseWriter, r *http.Request, needGranted bool) (Scope, Action, bool, bool) {
	var form permissionForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return nil, "", false, false
	}
	if !needGranted {
		granted := true
		form.Granted = &granted
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return nil, "", false, false
	}
	level, err := ParseLevel(form.PermissionType)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return nil, "", false, false
	}
	action, err := ParseAction(form.Action)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return nil, "", false, false
	}
	scope, err := ParseScope(level, form.ResourceType, form.ResourceIdentifier)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return nil, "", false, false
	}
	return scope, action, *form.Granted, true
}

func (h *Handler) setPermission(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathID(w, r, "groupID")
	if !ok {
		return
	}
	scope, action, granted, ok := h.parsePermissionForm(w, r, true)
	if !ok {
		return
	}
	actor := IdentityFromContext(r.Context())
	entry, err := h.service.SetPermission(r.Context(), actor.UserID, groupID, scope, action, granted)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) removePermission(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathID(w, r, "groupID")
	if !ok {
		return
	}
	scope, action, _, ok := h.parsePermissionForm(w, r, false)
	if !ok {
		return
	}
	actor := IdentityFromContext(r.Context())
	if err := h.service.RemovePermission(r.Context(), actor.UserID, groupID, scope, action); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listGroupPermissions(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathID(w, r, "groupID")
	if !ok {
		return
	}
	entries, err := h.service.ListGroupPermissions(r.Context(), groupID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

func (h *Handler) listGroupMembers(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathID(w, r, "groupID")
	if !ok {
		return
	}
	members, err := h.service.ListGroupMembers(r.Context(), groupID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]membershipResponse, 0, len(members))
	for _, m := range members {
		out = append(out, toMembershipResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": out})
}

func (h *Handler) assignMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathID(w, r, "groupID")
	if !ok {
		return
	}
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	actor := IdentityFromContext(r.Context())
	membership, err := h.service.AssignUserToGroup(r.Context(), groupID, userID, actor.UserID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMembershipResponse(membership))
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathID(w, r, "groupID")
	if !ok {
		return
	}
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	actor := IdentityFromContext(r.Context())
	if err := h.service.RemoveUserFromGroup(r.Context(), actor.UserID, groupID, userID); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listUserGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	groups, err := h.service.GetUserGroups(r.Context(), userID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, toGroupResponse(g))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"groups": out})
}

type catalogModuleForm struct {
	Key  string `json:"key" validate:"required,max=60"`
	Name string `json:"name" validate:"max=120"`
}

func (h *Handler) registerCatalogModule(w http.ResponseWriter, r *http.Request) {
	var form catalogModuleForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	module, err := h.catalog.RegisterModule(r.Context(), form.Key, form.Name)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, module)
}

type catalogPageForm struct {
	Key  string `json:"key" validate:"required,max=120"`
	Name string `json:"name" validate:"max=120"`
}

func (h *Handler) registerCatalogPage(w http.ResponseWriter, r *http.Request) {
	var form catalogPageForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	page, err := h.catalog.RegisterPage(r.Context(), form.Key, form.Name)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, page)
}

type catalogComponentForm struct {
	PageKey string `json:"page_key" validate:"required,max=120"`
	Key     string `json:"key" validate:"required,max=60"`
	Type    string `json:"type" validate:"max=60"`
}

func (h *Handler) registerCatalogComponent(w http.ResponseWriter, r *http.Request) {
	var form catalogComponentForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	component, err := h.catalog.RegisterComponent(r.Context(), form.PageKey, form.Key, form.Type)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, component)
}

func (h *Handler) listCatalogModules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.catalog.ListModules(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"modules": modules})
}

func (h *Handler) listCatalogPages(w http.ResponseWriter, r *http.Request) {
	pages, err := h.catalog.ListPages(r.Context(), chi.URLParam(r, "moduleKey"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (h *Handler) listCatalogComponents(w http.ResponseWriter, r *http.Request) {
	components, err := h.catalog.ListComponents(r.Context(), chi.URLParam(r, "pageKey"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"components": components})
}

type checkForm struct {
	UserID             int64  `json:"user_id"`
	PermissionType     string `json:"permission_type" validate:"required"`
	ResourceType       string `json:"resource_type" validate:"required"`
	ResourceIdentifier string `json:"resource_identifier"`
	Action             string `json:"action" validate:"required"`
}

// checkUser answers the single-RPC contract for administrators:
// Check(userId, permissionType, resourceType, resourceIdentifier,
// action) -> bool. Malformed input is a deny, not an error.
func (h *Handler) checkUser(w http.ResponseWriter, r *http.Request) {
	var form checkForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	allowed := false
	if form.UserID > 0 && h.resolver != nil {
		if id, err := h.resolver.Resolve(r.Context(), form.UserID); err == nil {
			allowed = h.evaluator.Check(r.Context(), id, form.PermissionType, form.ResourceType, form.ResourceIdentifier, form.Action)
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (h *Handler) checkSelf(w http.ResponseWriter, r *http.Request) {
	var form checkForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	id := IdentityFromContext(r.Context())
	allowed := h.evaluator.Check(r.Context(), id, form.PermissionType, form.ResourceType, form.ResourceIdentifier, form.Action)
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (h *Handler) selfModuleAccess(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	allowed := h.evaluator.HasModuleAccess(r.Context(), id, chi.URLParam(r, "moduleKey"))
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (h *Handler) selfPageAccess(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	allowed := h.evaluator.HasPageAccess(r.Context(), id, chi.URLParam(r, "pageKey"))
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (h *Handler) selfComponentAccess(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	allowed := h.evaluator.HasComponentAccess(r.Context(), id, chi.URLParam(r, "pageKey"), chi.URLParam(r, "componentKey"))
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+param)
		return 0, false
	}
	return id, true
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateName):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrUnknownResource), errors.Is(err, errMalformedScope):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		if h.logger != nil {
			h.logger.Error("authz handler", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
