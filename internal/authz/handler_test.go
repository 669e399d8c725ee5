package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawsuite/pawsuite/internal/identity"
)

type stubScheduler struct {
	taskID    string
	err       error
	calls     int
	pageToken string
}

func (s *stubScheduler) EnqueueClaimsSync(ctx context.Context, pageToken string) (string, error) {
	s.calls++
	s.pageToken = pageToken
	if s.err != nil {
		return "", s.err
	}
	return s.taskID, nil
}

func newTestServer(t *testing.T) (*testEnv, *httptest.Server) {
	t.Helper()
	return newTestServerWith(t, nil)
}

func newTestServerWith(t *testing.T, scheduler SyncScheduler) (*testEnv, *httptest.Server) {
	t.Helper()
	env := newTestEnv(t)
	handler := NewHandler(slog.New(slog.DiscardHandler), env.service, env.resolver, env.sync, scheduler, Middleware{
		Resolver: env.resolver,
		Logger:   slog.New(slog.DiscardHandler),
	})
	router := chi.NewRouter()
	router.Route("/authz", handler.MountRoutes)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	env.provider.addUser("admin-1", "admin@example.com")
	_, err := env.service.AssignRole(context.Background(), "admin-1", RoleAdmin, AssignOptions{BranchID: "b1"})
	require.NoError(t, err)
	return env, srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, actor string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(HeaderUserID, actor)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandlerResolve(t *testing.T) {
	env, srv := newTestServer(t)
	env.provider.addUser("u1", "u1@example.com")
	_, err := env.service.AssignRole(context.Background(), "u1", RoleManager, AssignOptions{BranchID: "b1"})
	require.NoError(t, err)

	resp := doJSON(t, srv, http.MethodPost, "/authz/resolve", "", map[string]string{
		"user_id": "u1", "branch_id": "b1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody[Resolution](t, resp)
	assert.Equal(t, RoleManager, res.Role)
	assert.Equal(t, "b1", res.BranchID)
}

func TestHandlerResolveValidation(t *testing.T) {
	_, srv := newTestServer(t)
	resp := doJSON(t, srv, http.MethodPost, "/authz/resolve", "", map[string]string{"branch_id": "b1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerAssignRole(t *testing.T) {
	env, srv := newTestServer(t)
	env.provider.addUser("u1", "u1@example.com")

	resp := doJSON(t, srv, http.MethodPost, "/authz/assignments", "admin-1", map[string]any{
		"user_id": "u1", "role": RoleReceptionist, "branch_id": "b2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody[Resolution](t, resp)
	assert.Equal(t, RoleReceptionist, res.Role)
	assert.Equal(t, "b2", res.BranchID)
}

func TestHandlerAssignRoleUnknownRole(t *testing.T) {
	env, srv := newTestServer(t)
	env.provider.addUser("u1", "u1@example.com")

	resp := doJSON(t, srv, http.MethodPost, "/authz/assignments", "admin-1", map[string]any{
		"user_id": "u1", "role": "ghost",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlerAssignRoleForbiddenForStaff(t *testing.T) {
	env, srv := newTestServer(t)
	env.provider.addUser("u1", "u1@example.com")
	env.provider.addUser("grunt", "grunt@example.com")

	resp := doJSON(t, srv, http.MethodPost, "/authz/assignments", "grunt", map[string]any{
		"user_id": "u1", "role": RoleManager,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandlerAssignRoleMissingActor(t *testing.T) {
	_, srv := newTestServer(t)
	resp := doJSON(t, srv, http.MethodPost, "/authz/assignments", "", map[string]any{
		"user_id": "u1", "role": RoleManager,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandlerRoleEndpoints(t *testing.T) {
	_, srv := newTestServer(t)

	resp := doJSON(t, srv, http.MethodPost, "/authz/roles", "admin-1", map[string]any{
		"name":        "senior_groomer",
		"description": "Senior groomer",
		"permissions": []string{"view_pets", "manage_pets"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodGet, "/authz/roles", "admin-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	roles := decodeBody[map[string]Role](t, resp)
	assert.Len(t, roles, 5)
	assert.Contains(t, roles, "senior_groomer")

	resp = doJSON(t, srv, http.MethodPut, "/authz/roles/senior_groomer", "admin-1", map[string]any{
		"permissions": []string{"view_pets"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	role := decodeBody[Role](t, resp)
	assert.Equal(t, []Permission{PermViewPets}, role.Permissions)
}

func TestHandlerUpdateSystemRoleConflicts(t *testing.T) {
	_, srv := newTestServer(t)
	resp := doJSON(t, srv, http.MethodPut, "/authz/roles/admin", "admin-1", map[string]any{
		"permissions": []string{"view_pets"},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandlerListUsers(t *testing.T) {
	env, srv := newTestServer(t)
	env.provider.addUser("u1", "u1@example.com")

	resp := doJSON(t, srv, http.MethodGet, "/authz/users?page_size=10", "admin-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[UserList](t, resp)
	assert.Len(t, list.Users, 2)
}

func TestHandlerSyncOne(t *testing.T) {
	env, srv := newTestServer(t)
	ctx := context.Background()
	env.provider.addUser("u1", "u1@example.com")

	env.provider.setClaimsErr = identity.ErrUnavailable
	_, err := env.service.AssignRole(ctx, "u1", RoleManager, AssignOptions{BranchID: "b1"})
	require.NoError(t, err)
	env.provider.setClaimsErr = nil

	resp := doJSON(t, srv, http.MethodPost, "/authz/sync/users/u1?dry_run=true", "admin-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dry := decodeBody[map[string]bool](t, resp)
	assert.True(t, dry["drift"])

	resp = doJSON(t, srv, http.MethodPost, "/authz/sync/users/u1", "admin-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	repair := decodeBody[map[string]bool](t, resp)
	assert.True(t, repair["repaired"])

	resp = doJSON(t, srv, http.MethodPost, "/authz/sync/users/u1?dry_run=true", "admin-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dry = decodeBody[map[string]bool](t, resp)
	assert.False(t, dry["drift"])
}

func TestHandlerSyncAll(t *testing.T) {
	env, srv := newTestServer(t)
	env.provider.addUser("u1", "u1@example.com")

	resp := doJSON(t, srv, http.MethodPost, "/authz/sync", "admin-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decodeBody[SyncReport](t, resp)
	assert.Equal(t, 2, report.Scanned)
}

func TestHandlerSyncAllEnqueuesWhenSchedulerConfigured(t *testing.T) {
	sched := &stubScheduler{taskID: "task-1"}
	_, srv := newTestServerWith(t, sched)

	resp := doJSON(t, srv, http.MethodPost, "/authz/sync?page_token=abc", "admin-1", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "task-1", body["task_id"])
	assert.Equal(t, 1, sched.calls)
	assert.Equal(t, "abc", sched.pageToken)
}

func TestHandlerSyncAllInlineOverridesScheduler(t *testing.T) {
	sched := &stubScheduler{taskID: "task-1"}
	env, srv := newTestServerWith(t, sched)
	env.provider.addUser("u1", "u1@example.com")

	resp := doJSON(t, srv, http.MethodPost, "/authz/sync?inline=true", "admin-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decodeBody[SyncReport](t, resp)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 0, sched.calls)
}

func TestHandlerSyncAllQueueFailure(t *testing.T) {
	sched := &stubScheduler{err: context.DeadlineExceeded}
	_, srv := newTestServerWith(t, sched)

	resp := doJSON(t, srv, http.MethodPost, "/authz/sync", "admin-1", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
