// Package shared holds cross-cutting request context helpers.
package shared

import "context"

// Principal describes the authenticated actor on a request.
type Principal interface {
	GetID() int64
	IsSuperUser() bool
}

type contextKey string

const principalKey contextKey = "principal"

// ContextWithPrincipal stores the authenticated principal in the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated principal, or nil for
// anonymous requests.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey).(Principal)
	return p
}
