package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lattice-saas/lattice/internal/authz"
	"github.com/lattice-saas/lattice/internal/platform/httpx"
	"github.com/lattice-saas/lattice/internal/shared"
)

// Handler wires HTTP endpoints for authentication and account
// administration.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	gateway        authz.Gateway
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, gateway authz.Gateway) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		gateway:        gateway,
		validator:      validator.New(),
	}
}

// MountAuthRoutes registers login/logout/me endpoints.
func (h *Handler) MountAuthRoutes(r chi.Router) {
	r.Get("/csrf", h.handleCSRF)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Group(func(r chi.Router) {
		r.Use(h.gateway.Require(authz.Authenticated()))
		r.Get("/me", h.handleMe)
	})
}

// MountAdminRoutes registers account administration endpoints. Listing
// and editing requires OWNER or ADMIN; role changes are OWNER only.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gateway.Require(authz.AnyRole(authz.RoleOwner, authz.RoleAdmin)))
		r.Get("/", h.listUsers)
		r.Post("/", h.createUser)
		r.Get("/{userID}", h.getUser)
		r.Put("/{userID}", h.updateUser)
		r.Post("/{userID}/activate", h.setActive(true))
		r.Post("/{userID}/deactivate", h.setActive(false))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gateway.Require(authz.HasRole(authz.RoleOwner)))
		r.Post("/{userID}/role", h.changeRole)
	})
}

type userResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toUserResponse(u User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      string(u.Role),
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// handleCSRF issues the per-session CSRF token. Clients call this once
// before their first mutating request and echo the token back in the
// X-CSRF-Token header.
func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during csrf issue")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("issue csrf token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	user, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid email or password")
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	sess.SetUser(strconv.FormatInt(user.ID, 10))

	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if sess.ID != "" {
		if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
			h.logger.Warn("register session", slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(*user))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil && sess.ID != "" {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id := authz.IdentityFromContext(r.Context())
	user, err := h.service.GetUser(r.Context(), id.UserID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(*user))
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	users, pagination, err := h.service.ListUsers(r.Context(), page, perPage)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": out, "pagination": pagination})
}

type createUserForm struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=120"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var form createUserForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := authz.ParseStaticRole(form.Role)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := authz.IdentityFromContext(r.Context())
	user, err := h.service.CreateUser(r.Context(), actor.UserID, form.Email, form.Name, form.Password, role)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toUserResponse(*user))
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(*user))
}

type updateUserForm struct {
	Name string `json:"name" validate:"required,max=120"`
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var form updateUserForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := authz.IdentityFromContext(r.Context())
	user, err := h.service.UpdateProfile(r.Context(), actor.UserID, userID, form.Name)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(*user))
}

type changeRoleForm struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var form changeRoleForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := authz.ParseStaticRole(form.Role)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := authz.IdentityFromContext(r.Context())
	user, err := h.service.ChangeRole(r.Context(), actor.UserID, userID, role)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(*user))
}

func (h *Handler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := h.pathID(w, r)
		if !ok {
			return
		}
		actor := authz.IdentityFromContext(r.Context())
		if err := h.service.SetActive(r.Context(), actor.UserID, userID, active); err != nil {
			h.respondErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid userID")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateEmail), errors.Is(err, ErrOwnerExists):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		if h.logger != nil {
			h.logger.Error("identity handler", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
