package authz

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatedHandler(t *testing.T, env *testEnv, gate func(http.Handler) http.Handler) http.Handler {
	t.Helper()
	return gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func gatedRequest(actor string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if actor != "" {
		req.Header.Set(HeaderUserID, actor)
	}
	return req
}

func TestRequireAllGrantsWhenEveryPermissionHeld(t *testing.T) {
	env := newTestEnv(t)
	mw := Middleware{Resolver: env.resolver, Logger: slog.New(slog.DiscardHandler)}
	env.provider.addUser("boss", "boss@example.com")
	_, err := env.service.AssignRole(context.Background(), "boss", RoleManager, AssignOptions{BranchID: "b1"})
	require.NoError(t, err)

	h := gatedHandler(t, env, mw.RequireAll(PermViewStaff, PermManageStaff))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, gatedRequest("boss"))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequireAllDeniesWhenAnyPermissionMissing(t *testing.T) {
	env := newTestEnv(t)
	mw := Middleware{Resolver: env.resolver, Logger: slog.New(slog.DiscardHandler)}
	env.provider.addUser("front", "front@example.com")
	_, err := env.service.AssignRole(context.Background(), "front", RoleReceptionist, AssignOptions{BranchID: "b1"})
	require.NoError(t, err)

	// Receptionists can view customers but hold no staff permissions.
	h := gatedHandler(t, env, mw.RequireAll(PermViewCustomers, PermManageStaff))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, gatedRequest("front"))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireAllWildcardSatisfiesEverything(t *testing.T) {
	env := newTestEnv(t)
	mw := Middleware{Resolver: env.resolver, Logger: slog.New(slog.DiscardHandler)}
	env.provider.addUser("owner", "owner@example.com")
	_, err := env.service.AssignRole(context.Background(), "owner", RoleAdmin, AssignOptions{BranchID: "b1"})
	require.NoError(t, err)

	h := gatedHandler(t, env, mw.RequireAll(AllPermissions()...))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, gatedRequest("owner"))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequireAllDeniesWithoutUserHeader(t *testing.T) {
	env := newTestEnv(t)
	mw := Middleware{Resolver: env.resolver, Logger: slog.New(slog.DiscardHandler)}

	h := gatedHandler(t, env, mw.RequireAll(PermViewCustomers))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, gatedRequest(""))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireAnyDeniesDefaultRoleOutsideItsGrants(t *testing.T) {
	env := newTestEnv(t)
	mw := Middleware{Resolver: env.resolver, Logger: slog.New(slog.DiscardHandler)}
	env.provider.addUser("temp", "temp@example.com")

	// No mapping: resolves to the staff baseline, which cannot manage roles.
	h := gatedHandler(t, env, mw.RequireAny(PermManageRoles, PermManageSettings))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, gatedRequest("temp"))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	h = gatedHandler(t, env, mw.RequireAny(PermViewAppointments))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, gatedRequest("temp"))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}
