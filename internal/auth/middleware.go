package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/meridian-hms/meridian-hms/internal/shared"
	"github.com/meridian-hms/meridian-hms/internal/users"
)

// Middleware resolves the bearer token on each request and stores the
// principal in the context. Requests without a valid token pass through
// anonymously; route guards decide whether that is acceptable.
type Middleware struct {
	Tokens *TokenStore
	Users  *users.Service
	Logger *slog.Logger
}

// LoadPrincipal is the context-population middleware.
func (m Middleware) LoadPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := m.Tokens.Resolve(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		user, err := m.Users.FindByID(r.Context(), userID)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Warn("load principal", slog.Int64("user_id", userID), slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
			return
		}
		ctx := shared.ContextWithPrincipal(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
