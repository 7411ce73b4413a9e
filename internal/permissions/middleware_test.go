package permissions

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meridian-hms/meridian-hms/internal/shared"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doGuarded(t *testing.T, guard func(http.Handler) http.Handler, method string, p shared.Principal) int {
	t.Helper()
	req := httptest.NewRequest(method, "/", nil)
	if p != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	guard(okHandler()).ServeHTTP(rec, req)
	return rec.Code
}

func newGuard(t *testing.T, store ResolverStore) Middleware {
	t.Helper()
	return Middleware{Resolver: newTestResolver(t, store)}
}

func TestRequire(t *testing.T) {
	store := newStubResolverStore()
	perm := store.addPermission("patients.read")
	store.setRoleGrant(7, perm.ID)
	guard := newGuard(t, store)

	assert.Equal(t, http.StatusUnauthorized, doGuarded(t, guard.Require("patients.read"), http.MethodGet, nil))
	assert.Equal(t, http.StatusForbidden, doGuarded(t, guard.Require("patients.read"), http.MethodGet, testPrincipal{id: 8}))
	assert.Equal(t, http.StatusOK, doGuarded(t, guard.Require("patients.read"), http.MethodGet, testPrincipal{id: 7}))
	assert.Equal(t, http.StatusOK, doGuarded(t, guard.Require("anything.goes"), http.MethodGet, testPrincipal{id: 1, superuser: true}))
}

func TestRequireAny(t *testing.T) {
	store := newStubResolverStore()
	perm := store.addPermission("reports.read")
	store.addPermission("reports.export")
	store.setRoleGrant(7, perm.ID)
	guard := newGuard(t, store)

	mw := guard.RequireAny("reports.export", "reports.read")
	assert.Equal(t, http.StatusOK, doGuarded(t, mw, http.MethodGet, testPrincipal{id: 7}))
	assert.Equal(t, http.StatusForbidden, doGuarded(t, mw, http.MethodGet, testPrincipal{id: 8}))

	// With no codes listed the guard is a no-op.
	assert.Equal(t, http.StatusOK, doGuarded(t, guard.RequireAny(), http.MethodGet, nil))
}

func TestRequireAll(t *testing.T) {
	store := newStubResolverStore()
	read := store.addPermission("reports.read")
	export := store.addPermission("reports.export")
	store.setRoleGrant(7, read.ID)
	store.setRoleGrant(7, export.ID)
	store.setRoleGrant(8, read.ID)
	guard := newGuard(t, store)

	mw := guard.RequireAll("reports.read", "reports.export")
	assert.Equal(t, http.StatusOK, doGuarded(t, mw, http.MethodGet, testPrincipal{id: 7}))
	assert.Equal(t, http.StatusForbidden, doGuarded(t, mw, http.MethodGet, testPrincipal{id: 8}))
}

func TestRequireCRUD(t *testing.T) {
	store := newStubResolverStore()
	read := store.addPermission("patients.read")
	create := store.addPermission("patients.create")
	store.addPermission("patients.update")
	store.addPermission("patients.delete")
	store.setRoleGrant(7, read.ID)
	store.setRoleGrant(7, create.ID)
	guard := newGuard(t, store)

	mw := guard.RequireCRUD("patients")
	user := testPrincipal{id: 7}

	assert.Equal(t, http.StatusOK, doGuarded(t, mw, http.MethodGet, user))
	assert.Equal(t, http.StatusOK, doGuarded(t, mw, http.MethodHead, user))
	assert.Equal(t, http.StatusOK, doGuarded(t, mw, http.MethodPost, user))
	assert.Equal(t, http.StatusForbidden, doGuarded(t, mw, http.MethodPut, user))
	assert.Equal(t, http.StatusForbidden, doGuarded(t, mw, http.MethodPatch, user))
	assert.Equal(t, http.StatusForbidden, doGuarded(t, mw, http.MethodDelete, user))

	// Methods outside the CRUD map are rejected outright.
	assert.Equal(t, http.StatusForbidden, doGuarded(t, mw, http.MethodOptions, user))
	assert.Equal(t, http.StatusUnauthorized, doGuarded(t, mw, http.MethodGet, nil))
}
