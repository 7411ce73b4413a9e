package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-hms/meridian-hms/internal/platform/httpx"
)

// Handler serves the audit trail listing. The guard is injected as a plain
// middleware so this package stays independent of the permission engine it
// records mutations for.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   func(http.Handler) http.Handler
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard func(http.Handler) http.Handler) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard)
		r.Get("/", h.list)
	})
}

type entryView struct {
	ID           int64          `json:"id"`
	Action       string         `json:"action"`
	ActorID      int64          `json:"actor_id"`
	TargetUserID int64          `json:"target_user_id,omitempty"`
	PermissionID *int64         `json:"permission_id,omitempty"`
	RoleID       *int64         `json:"role_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	At           string         `json:"occurred_at"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := Filters{
		Action:       Action(q.Get("action")),
		ActorID:      queryID(q.Get("actor_id")),
		TargetUserID: queryID(q.Get("target_user_id")),
		Page:         int(queryID(q.Get("page"))),
		PageSize:     int(queryID(q.Get("page_size"))),
	}
	if filters.Action != "" && !filters.Action.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown action filter")
		return
	}

	page, err := h.service.List(r.Context(), filters)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("list audit entries", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}

	views := make([]entryView, len(page.Entries))
	for i, e := range page.Entries {
		views[i] = entryView{
			ID:           e.ID,
			Action:       string(e.Action),
			ActorID:      e.ActorID,
			TargetUserID: e.TargetUserID,
			PermissionID: e.PermissionID,
			RoleID:       e.RoleID,
			Details:      e.Details,
			At:           e.At.UTC().Format(time.RFC3339),
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": views, "has_next": page.HasNext})
}

func queryID(raw string) int64 {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
