package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/meridian-hms/meridian-hms/internal/audit"
	"github.com/meridian-hms/meridian-hms/internal/auth"
	"github.com/meridian-hms/meridian-hms/internal/observability"
	"github.com/meridian-hms/meridian-hms/internal/permissions"
	"github.com/meridian-hms/meridian-hms/internal/users"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AuthHandler        *auth.Handler
	AuthMiddleware     auth.Middleware
	PermissionsHandler *permissions.Handler
	UsersHandler       *users.Handler
	AuditHandler       *audit.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	loginLimit, loginWindow := 10, params.Config.LoginRateWindow
	if params.Config.LoginRateLimit > 0 {
		loginLimit = params.Config.LoginRateLimit
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(params.AuthMiddleware.LoadPrincipal)

		r.Route("/auth", func(r chi.Router) {
			r.Use(httprate.LimitByIP(loginLimit, loginWindow))
			params.AuthHandler.MountRoutes(r)
		})

		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		r.Route("/roles", params.PermissionsHandler.MountRoleRoutes)
		r.Route("/users", params.UsersHandler.MountRoutes)
		r.Route("/audit", params.AuditHandler.MountRoutes)
	})

	return r
}
