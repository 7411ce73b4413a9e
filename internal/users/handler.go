package users

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-hms/meridian-hms/internal/permissions"
	"github.com/meridian-hms/meridian-hms/internal/platform/httpx"
)

// Handler manages user administration endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   permissions.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard permissions.Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require("users.read"))
		r.Get("/", h.listUsers)
	})
}

type userView struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	RoleTitle   string `json:"role_title"`
	Department  string `json:"department"`
	EmployeeID  string `json:"employee_id"`
	IsSuperuser bool   `json:"is_superuser"`
	IsActive    bool   `json:"is_active"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		if h.logger != nil {
			h.logger.Error("list users", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	views := make([]userView, len(list))
	for i, u := range list {
		views[i] = userView{
			ID:          u.ID,
			Email:       u.Email,
			FullName:    u.FullName,
			RoleTitle:   u.RoleTitle,
			Department:  u.Department,
			EmployeeID:  u.EmployeeID,
			IsSuperuser: u.IsSuperuser,
			IsActive:    u.IsActive,
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": views})
}
