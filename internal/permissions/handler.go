package permissions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-hms/meridian-hms/internal/platform/httpx"
	"github.com/meridian-hms/meridian-hms/internal/shared"
)

// Handler exposes the administrative mutation surface of the permission
// core as JSON endpoints. The engine itself never surfaces errors on the
// check path; this layer maps mutation errors to transport status codes.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	catalog   *Catalog
	resolver  *Resolver
	directory PrincipalDirectory
	guard     Middleware
	validate  *validator.Validate
}

// PrincipalDirectory looks up another user as an authorization principal,
// so administrative listings honor the superuser rule for the target user.
type PrincipalDirectory interface {
	FindPrincipal(ctx context.Context, id int64) (shared.Principal, error)
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, catalog *Catalog, resolver *Resolver, directory PrincipalDirectory, guard Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		catalog:   catalog,
		resolver:  resolver,
		directory: directory,
		guard:     guard,
		validate:  validator.New(),
	}
}

// MountRoutes registers permission administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("permissions.read"))
		r.Get("/", h.listCatalog)
		r.Get("/users/{userID}/effective", h.effectivePermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("permissions.manage"))
		r.Post("/provision", h.provision)
		r.Post("/users/{userID}/grants", h.grantUser)
		r.Post("/users/{userID}/denials", h.denyUser)
		r.Delete("/users/{userID}/overrides/{code}", h.revokeUser)
	})
	r.Get("/me", h.myPermissions)
}

// MountRoleRoutes registers role administration routes.
func (h *Handler) MountRoleRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("roles.read"))
		r.Get("/", h.listRoles)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("roles.update"))
		r.Post("/{roleName}/permissions", h.grantRolePermission)
		r.Delete("/{roleName}/permissions/{code}", h.revokeRolePermission)
		r.Post("/{roleName}/assignments", h.assignRole)
		r.Delete("/{roleName}/assignments/{userID}", h.unassignRole)
		r.Post("/{roleID}/default", h.setRoleDefault)
	})
}

type permissionView struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	ResourceKey string `json:"resource_key"`
	Operation   string `json:"operation"`
	Active      bool   `json:"is_active"`
}

func toPermissionViews(perms []Permission) []permissionView {
	views := make([]permissionView, len(perms))
	for i, p := range perms {
		views[i] = permissionView{
			ID:          p.ID,
			Code:        p.Code(),
			ResourceKey: p.ResourceKey,
			Operation:   string(p.Operation),
			Active:      p.Active,
		}
	}
	return views
}

func (h *Handler) listCatalog(w http.ResponseWriter, r *http.Request) {
	perms, err := h.catalog.List(r.Context())
	if err != nil {
		h.respondError(w, "list catalog", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": toPermissionViews(perms)})
}

type provisionRequest struct {
	ResourceKey string   `json:"resource_key" validate:"required,lowercase"`
	Operations  []string `json:"operations" validate:"required,min=1,dive,required"`
}

func (h *Handler) provision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	ops := make([]Operation, len(req.Operations))
	for i, op := range req.Operations {
		ops[i] = Operation(op)
	}
	created, err := h.catalog.RegisterAllForResource(r.Context(), req.ResourceKey, ops)
	if err != nil {
		h.respondError(w, "provision permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"created": toPermissionViews(created),
	})
}

type overrideRequest struct {
	Code      string     `json:"code" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *Handler) grantUser(w http.ResponseWriter, r *http.Request) {
	h.writeOverride(w, r, true)
}

func (h *Handler) denyUser(w http.ResponseWriter, r *http.Request) {
	h.writeOverride(w, r, false)
}

func (h *Handler) writeOverride(w http.ResponseWriter, r *http.Request, granted bool) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req overrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := actorID(r)
	var err error
	if granted {
		err = h.service.GrantUserPermission(r.Context(), userID, req.Code, actor, req.ExpiresAt)
	} else {
		err = h.service.DenyUserPermission(r.Context(), userID, req.Code, actor, req.ExpiresAt)
	}
	if err != nil {
		h.respondError(w, "write override", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "code": req.Code, "is_granted": granted})
}

func (h *Handler) revokeUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	code := chi.URLParam(r, "code")
	if err := h.service.RevokeUserPermission(r.Context(), userID, code, actorID(r)); err != nil {
		h.respondError(w, "revoke override", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "code": code, "revoked": true})
}

func (h *Handler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	target, err := h.directory.FindPrincipal(r.Context(), userID)
	if err != nil {
		h.respondError(w, "find user", err)
		return
	}
	codes, err := h.resolver.EffectivePermissions(r.Context(), target)
	if err != nil {
		h.respondError(w, "effective permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "permissions": codes})
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	if p == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	codes, err := h.resolver.EffectivePermissions(r.Context(), p)
	if err != nil {
		h.respondError(w, "effective permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": codes})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, "list roles", err)
		return
	}
	type roleView struct {
		ID        int64  `json:"id"`
		Name      string `json:"name"`
		Active    bool   `json:"is_active"`
		IsDefault bool   `json:"is_default"`
	}
	views := make([]roleView, len(roles))
	for i, role := range roles {
		views[i] = roleView{ID: role.ID, Name: role.Name, Active: role.Active, IsDefault: role.IsDefault}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": views})
}

type rolePermissionRequest struct {
	Code string `json:"code" validate:"required"`
}

func (h *Handler) grantRolePermission(w http.ResponseWriter, r *http.Request) {
	var req rolePermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	roleName := chi.URLParam(r, "roleName")
	if err := h.service.GrantRolePermission(r.Context(), roleName, req.Code, actorID(r)); err != nil {
		h.respondError(w, "grant role permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": roleName, "code": req.Code})
}

func (h *Handler) revokeRolePermission(w http.ResponseWriter, r *http.Request) {
	roleName := chi.URLParam(r, "roleName")
	code := chi.URLParam(r, "code")
	if err := h.service.RevokeRolePermission(r.Context(), roleName, code, actorID(r)); err != nil {
		h.respondError(w, "revoke role permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": roleName, "code": code, "revoked": true})
}

type assignmentRequest struct {
	UserID    int64      `json:"user_id" validate:"required,gt=0"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	roleName := chi.URLParam(r, "roleName")
	if err := h.service.AssignRole(r.Context(), req.UserID, roleName, actorID(r), req.ExpiresAt); err != nil {
		h.respondError(w, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": roleName, "user_id": req.UserID})
}

func (h *Handler) unassignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	roleName := chi.URLParam(r, "roleName")
	if err := h.service.UnassignRole(r.Context(), userID, roleName, actorID(r)); err != nil {
		h.respondError(w, "unassign role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": roleName, "user_id": userID, "unassigned": true})
}

func (h *Handler) setRoleDefault(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.SetRoleDefault(r.Context(), roleID); err != nil {
		h.respondError(w, "set default role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role_id": roleID, "is_default": true})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body is not valid JSON")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, ErrInvalidCodeFormat):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Permission Code", err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrRoleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		if h.logger != nil {
			h.logger.Error(msg, slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Identifier", "path parameter "+name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func actorID(r *http.Request) int64 {
	if p := shared.PrincipalFromContext(r.Context()); p != nil {
		return p.GetID()
	}
	return 0
}
