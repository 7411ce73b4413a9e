package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCatalogStore struct {
	permissions map[string]Permission
	nextID      int64
}

func newStubCatalogStore() *stubCatalogStore {
	return &stubCatalogStore{permissions: make(map[string]Permission)}
}

func (s *stubCatalogStore) EnsurePermission(ctx context.Context, resourceKey string, op Operation) (Permission, bool, error) {
	code := resourceKey + "." + string(op)
	if p, ok := s.permissions[code]; ok {
		return p, false, nil
	}
	s.nextID++
	p := Permission{ID: s.nextID, ResourceKey: resourceKey, Operation: op, Active: true}
	s.permissions[code] = p
	return p, true, nil
}

func (s *stubCatalogStore) FindActivePermission(ctx context.Context, resourceKey string, op Operation) (Permission, error) {
	p, ok := s.permissions[resourceKey+"."+string(op)]
	if !ok || !p.Active {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

func (s *stubCatalogStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out = append(out, p)
	}
	return out, nil
}

func TestCatalogRegister(t *testing.T) {
	catalog := NewCatalog(newStubCatalogStore())
	ctx := context.Background()

	p, err := catalog.Register(ctx, "patients", OpRead)
	require.NoError(t, err)
	assert.Equal(t, "patients.read", p.Code())

	// Re-registering returns the existing row with the same identity.
	again, err := catalog.Register(ctx, "patients", OpRead)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
}

func TestCatalogRegisterRejectsInvalidInput(t *testing.T) {
	catalog := NewCatalog(newStubCatalogStore())
	ctx := context.Background()

	_, err := catalog.Register(ctx, "", OpRead)
	assert.ErrorIs(t, err, ErrInvalidCodeFormat)

	_, err = catalog.Register(ctx, "patients", Operation("destroy"))
	assert.ErrorIs(t, err, ErrInvalidCodeFormat)
}

func TestCatalogResolveCode(t *testing.T) {
	store := newStubCatalogStore()
	catalog := NewCatalog(store)
	ctx := context.Background()

	_, _, err := store.EnsurePermission(ctx, "patients", OpRead)
	require.NoError(t, err)

	p, err := catalog.ResolveCode(ctx, "Patients.Read")
	require.NoError(t, err)
	assert.Equal(t, "patients.read", p.Code())

	_, err = catalog.ResolveCode(ctx, "patients")
	assert.ErrorIs(t, err, ErrInvalidCodeFormat)

	_, err = catalog.ResolveCode(ctx, "billing.read")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterAllForResourceReturnsOnlyCreated(t *testing.T) {
	store := newStubCatalogStore()
	catalog := NewCatalog(store)
	ctx := context.Background()

	_, _, err := store.EnsurePermission(ctx, "patients", OpRead)
	require.NoError(t, err)

	created, err := catalog.RegisterAllForResource(ctx, "patients", []Operation{OpRead, OpCreate, OpUpdate})
	require.NoError(t, err)

	codes := make([]string, len(created))
	for i, p := range created {
		codes[i] = p.Code()
	}
	assert.Equal(t, []string{"patients.create", "patients.update"}, codes)

	_, err = catalog.RegisterAllForResource(ctx, "patients", []Operation{Operation("bogus")})
	assert.ErrorIs(t, err, ErrInvalidCodeFormat)
}
