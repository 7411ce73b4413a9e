package permissions

import (
	"net/http"

	"github.com/meridian-hms/meridian-hms/internal/shared"
)

// Middleware wires authorization guards for HTTP handlers.
type Middleware struct {
	Resolver *Resolver
}

// Require ensures the current principal holds the permission.
func (m Middleware) Require(code string) func(http.Handler) http.Handler {
	return m.RequireAll(code)
}

// RequireAny ensures the current principal holds at least one of the
// permissions.
func (m Middleware) RequireAny(codes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(codes) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			p := shared.PrincipalFromContext(r.Context())
			for _, code := range codes {
				if m.Resolver.Check(r.Context(), p, code) {
					next.ServeHTTP(w, r)
					return
				}
			}
			deny(w, p)
		})
	}
}

// RequireAll ensures the current principal holds every permission.
func (m Middleware) RequireAll(codes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := shared.PrincipalFromContext(r.Context())
			for _, code := range codes {
				if !m.Resolver.Check(r.Context(), p, code) {
					deny(w, p)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

var methodOperations = map[string]Operation{
	http.MethodGet:    OpRead,
	http.MethodHead:   OpRead,
	http.MethodPost:   OpCreate,
	http.MethodPut:    OpUpdate,
	http.MethodPatch:  OpUpdate,
	http.MethodDelete: OpDelete,
}

// RequireCRUD guards a resource by mapping the HTTP method to the matching
// operation, e.g. GET /patients needs "patients.read".
func (m Middleware) RequireCRUD(resourceKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := shared.PrincipalFromContext(r.Context())
			op, ok := methodOperations[r.Method]
			if !ok {
				deny(w, p)
				return
			}
			if !m.Resolver.Check(r.Context(), p, resourceKey+"."+string(op)) {
				deny(w, p)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, p shared.Principal) {
	status := http.StatusForbidden
	if p == nil {
		status = http.StatusUnauthorized
	}
	http.Error(w, http.StatusText(status), status)
}
