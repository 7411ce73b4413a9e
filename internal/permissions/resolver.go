package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-hms/meridian-hms/internal/observability"
	"github.com/meridian-hms/meridian-hms/internal/shared"
)

// ResolverStore defines the read queries the resolver needs.
type ResolverStore interface {
	FindActivePermission(ctx context.Context, resourceKey string, op Operation) (Permission, error)
	ActiveOverride(ctx context.Context, userID, permissionID int64) (*Override, error)
	HasRoleGrant(ctx context.Context, userID, permissionID int64) (bool, error)
	RoleGrantedCodes(ctx context.Context, userID int64) ([]string, error)
	UserOverrideCodes(ctx context.Context, userID int64) ([]OverrideCode, error)
	ActiveCodes(ctx context.Context) ([]string, error)
}

// Resolver computes the final allow/deny for a (user, code) pair.
//
// The read path never returns an error: authorization fails closed, so a
// malformed code, an unknown permission, or a store failure all resolve to
// deny. Direct overrides strictly dominate role-derived grants in both
// directions.
type Resolver struct {
	store   ResolverStore
	cache   *DecisionCache
	metrics *observability.Metrics
	logger  *slog.Logger
	group   singleflight.Group
}

// NewResolver builds a Resolver. Cache, metrics and logger may be nil.
func NewResolver(store ResolverStore, cache *DecisionCache, metrics *observability.Metrics, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, cache: cache, metrics: metrics, logger: logger}
}

// Check reports whether the principal may perform the action named by code.
func (r *Resolver) Check(ctx context.Context, p shared.Principal, code string) bool {
	if p == nil {
		r.metrics.ObserveDecision(false, observability.SourceStore)
		return false
	}
	if p.IsSuperUser() {
		// Short-circuits before code resolution: a superuser passes even
		// for codes the catalog has never seen.
		r.metrics.ObserveDecision(true, observability.SourceSuperuser)
		return true
	}

	userID := p.GetID()
	if allowed, ok := r.cache.Get(ctx, userID, code); ok {
		r.metrics.ObserveDecision(allowed, observability.SourceCache)
		return allowed
	}

	// Collapse concurrent misses for the same pair into one store round
	// trip. Losing a cache-population race afterwards is benign: both
	// writers hold the same freshly computed value.
	key := fmt.Sprintf("%d:%s", userID, code)
	v, _, _ := r.group.Do(key, func() (any, error) {
		allowed := r.decide(ctx, userID, code)
		r.cache.Set(ctx, userID, code, allowed)
		return allowed, nil
	})
	allowed := v.(bool)
	r.metrics.ObserveDecision(allowed, observability.SourceStore)
	return allowed
}

// decide walks the precedence chain against the store: resolve the code,
// apply any live override, then fall back to role grants.
func (r *Resolver) decide(ctx context.Context, userID int64, code string) bool {
	resourceKey, op, err := ParseCode(code)
	if err != nil {
		return false
	}
	perm, err := r.store.FindActivePermission(ctx, resourceKey, op)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logError("resolve permission", err)
		}
		return false
	}

	override, err := r.store.ActiveOverride(ctx, userID, perm.ID)
	if err != nil {
		r.logError("load override", err)
		return false
	}
	if override != nil {
		return override.Granted
	}

	granted, err := r.store.HasRoleGrant(ctx, userID, perm.ID)
	if err != nil {
		r.logError("load role grants", err)
		return false
	}
	return granted
}

// EffectivePermissions returns the sorted set of codes the principal can
// exercise: the union of role grants, plus granted overrides, minus denied
// overrides. Superusers receive the full active catalog.
func (r *Resolver) EffectivePermissions(ctx context.Context, p shared.Principal) ([]string, error) {
	if p == nil {
		return nil, nil
	}
	if p.IsSuperUser() {
		return r.store.ActiveCodes(ctx)
	}

	userID := p.GetID()
	roleCodes, err := r.store.RoleGrantedCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	overrides, err := r.store.UserOverrideCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(roleCodes))
	for _, code := range roleCodes {
		set[code] = struct{}{}
	}
	for _, o := range overrides {
		if o.Granted {
			set[o.Code] = struct{}{}
		} else {
			// A denial removes the code even when a role grants it,
			// consistent with the dominance rule on the check path.
			delete(set, o.Code)
		}
	}

	codes := make([]string, 0, len(set))
	for code := range set {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

func (r *Resolver) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, slog.Any("error", err))
	}
}
