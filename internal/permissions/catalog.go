package permissions

import (
	"context"
	"fmt"
)

// CatalogStore defines the persistence surface the catalog needs.
type CatalogStore interface {
	EnsurePermission(ctx context.Context, resourceKey string, op Operation) (Permission, bool, error)
	FindActivePermission(ctx context.Context, resourceKey string, op Operation) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// Catalog is the registry of known permissions.
type Catalog struct {
	store CatalogStore
}

// NewCatalog builds a Catalog instance.
func NewCatalog(store CatalogStore) *Catalog {
	return &Catalog{store: store}
}

// Register creates the permission for (resourceKey, operation) if missing
// and returns it unchanged when it already exists.
func (c *Catalog) Register(ctx context.Context, resourceKey string, op Operation) (Permission, error) {
	if resourceKey == "" {
		return Permission{}, ErrInvalidCodeFormat
	}
	if !op.Valid() {
		return Permission{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidCodeFormat, op)
	}
	p, _, err := c.store.EnsurePermission(ctx, resourceKey, op)
	return p, err
}

// ResolveCode parses a "<resource_key>.<operation>" code and returns the
// matching active permission. Malformed codes fail with
// ErrInvalidCodeFormat; unknown or inactive permissions with ErrNotFound.
func (c *Catalog) ResolveCode(ctx context.Context, code string) (Permission, error) {
	resourceKey, op, err := ParseCode(code)
	if err != nil {
		return Permission{}, err
	}
	return c.store.FindActivePermission(ctx, resourceKey, op)
}

// RegisterAllForResource provisions the given operations for a resource and
// returns only the permissions created by this call. Provisioning path, not
// the hot path.
func (c *Catalog) RegisterAllForResource(ctx context.Context, resourceKey string, ops []Operation) ([]Permission, error) {
	var created []Permission
	for _, op := range ops {
		if !op.Valid() {
			return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidCodeFormat, op)
		}
		p, isNew, err := c.store.EnsurePermission(ctx, resourceKey, op)
		if err != nil {
			return nil, err
		}
		if isNew {
			created = append(created, p)
		}
	}
	return created, nil
}

// List returns the full catalog.
func (c *Catalog) List(ctx context.Context) ([]Permission, error) {
	return c.store.ListPermissions(ctx)
}
