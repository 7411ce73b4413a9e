package permissions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-hms/meridian-hms/internal/platform/httpx"
	"github.com/meridian-hms/meridian-hms/internal/shared"
)

type stubDirectory struct {
	principals map[int64]shared.Principal
}

func (d *stubDirectory) FindPrincipal(ctx context.Context, id int64) (shared.Principal, error) {
	p, ok := d.principals[id]
	if !ok {
		return nil, httpx.ErrNotFound
	}
	return p, nil
}

type handlerFixture struct {
	router        http.Handler
	grantStore    *mockGrantStore
	resolverStore *stubResolverStore
	catalogStore  *stubCatalogStore
	directory     *stubDirectory
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	grantStore := newMockGrantStore()
	resolverStore := newStubResolverStore()
	catalogStore := newStubCatalogStore()
	directory := &stubDirectory{principals: make(map[int64]shared.Principal)}

	cache, _ := newTestCache(t, time.Minute)
	catalog := NewCatalog(catalogStore)
	resolver := NewResolver(resolverStore, cache, nil, nil)
	guard := Middleware{Resolver: resolver}
	service := NewService(grantStore, catalog, cache, nil)
	handler := NewHandler(nil, service, catalog, resolver, directory, guard)

	r := chi.NewRouter()
	r.Route("/permissions", handler.MountRoutes)
	r.Route("/roles", handler.MountRoleRoutes)

	return &handlerFixture{
		router:        r,
		grantStore:    grantStore,
		resolverStore: resolverStore,
		catalogStore:  catalogStore,
		directory:     directory,
	}
}

func (f *handlerFixture) do(t *testing.T, method, path, body string, p shared.Principal) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if p != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

var admin = testPrincipal{id: 1, superuser: true}

func TestGrantUserEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	perm, _, err := f.catalogStore.EnsurePermission(context.Background(), "patients", OpExport)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/permissions/users/7/grants", `{"code":"patients.export"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	o, ok := f.grantStore.overrides[pairKey(7, perm.ID)]
	require.True(t, ok)
	assert.True(t, o.Granted)
	assert.Equal(t, int64(1), o.GrantedBy, "actor comes from the request principal")
}

func TestGrantUserEndpointErrors(t *testing.T) {
	f := newHandlerFixture(t)

	// Without permissions.manage the guard rejects before the handler runs.
	rec := f.do(t, http.MethodPost, "/permissions/users/7/grants", `{"code":"patients.export"}`, testPrincipal{id: 5})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/permissions/users/7/grants", `{"code":"patients.export"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/permissions/users/7/grants", `not json`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/permissions/users/7/grants", `{}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing code fails validation")

	rec = f.do(t, http.MethodPost, "/permissions/users/0/grants", `{"code":"patients.export"}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "non-positive user id is rejected")

	rec = f.do(t, http.MethodPost, "/permissions/users/7/grants", `{"code":"malformed"}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/permissions/users/7/grants", `{"code":"ghosts.read"}`, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code, "unknown permission maps to 404")
}

func TestDenyAndRevokeUserEndpoints(t *testing.T) {
	f := newHandlerFixture(t)
	perm, _, err := f.catalogStore.EnsurePermission(context.Background(), "patients", OpUpdate)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/permissions/users/7/denials", `{"code":"patients.update"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, f.grantStore.overrides[pairKey(7, perm.ID)].Granted)

	rec = f.do(t, http.MethodDelete, "/permissions/users/7/overrides/patients.update", "", admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, ok := f.grantStore.overrides[pairKey(7, perm.ID)]
	assert.False(t, ok)
}

func TestProvisionEndpoint(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/permissions/provision", `{"resource_key":"labs","operations":["read","create"]}`, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Created []struct {
			Code string `json:"code"`
		} `json:"created"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Created, 2)

	// Re-provisioning the same operations creates nothing new.
	rec = f.do(t, http.MethodPost, "/permissions/provision", `{"resource_key":"labs","operations":["read","create"]}`, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Created)

	rec = f.do(t, http.MethodPost, "/permissions/provision", `{"resource_key":"labs","operations":["shred"]}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMyPermissionsEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	f.resolverStore.roleCodes = map[int64][]string{7: {"patients.read"}}

	rec := f.do(t, http.MethodGet, "/permissions/me", "", testPrincipal{id: 7})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"patients.read"}, resp.Permissions)

	rec = f.do(t, http.MethodGet, "/permissions/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEffectivePermissionsEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	f.resolverStore.activeCodes = []string{"patients.read", "roles.update"}
	f.directory.principals[2] = testPrincipal{id: 2, superuser: true}

	rec := f.do(t, http.MethodGet, "/permissions/users/2/effective", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, f.resolverStore.activeCodes, resp.Permissions, "superuser target sees the full catalog")

	rec = f.do(t, http.MethodGet, "/permissions/users/99/effective", "", admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoleEndpoints(t *testing.T) {
	f := newHandlerFixture(t)
	role := f.grantStore.addRole(3, "nurse")
	perm, _, err := f.catalogStore.EnsurePermission(context.Background(), "patients", OpUpdate)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/roles/nurse/permissions", `{"code":"patients.update"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, f.grantStore.rolePerms[pairKey(role.ID, perm.ID)])

	rec = f.do(t, http.MethodPost, "/roles/nurse/assignments", `{"user_id":7}`, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, ok := f.grantStore.assignments[pairKey(7, role.ID)]
	assert.True(t, ok)

	rec = f.do(t, http.MethodDelete, "/roles/nurse/assignments/7", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok = f.grantStore.assignments[pairKey(7, role.ID)]
	assert.False(t, ok)

	rec = f.do(t, http.MethodDelete, "/roles/nurse/permissions/patients.update", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.grantStore.rolePerms[pairKey(role.ID, perm.ID)])

	rec = f.do(t, http.MethodPost, "/roles/3/default", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), f.grantStore.defaultRole)

	rec = f.do(t, http.MethodPost, "/roles/wizard/permissions", `{"code":"patients.update"}`, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/roles/", "", admin)
	assert.Equal(t, http.StatusOK, rec.Code)
}
