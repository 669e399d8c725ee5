package authz

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawsuite/pawsuite/internal/identity"
)

func TestSyncOneRepairsDriftedClaims(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.addUser("u1", "u1@example.com")

	// Simulate the claims write failing at assignment time.
	env.provider.setClaimsErr = identity.ErrUnavailable
	_, err := env.service.AssignRole(ctx, "u1", RoleManager, AssignOptions{BranchID: "b1"})
	require.NoError(t, err)
	env.provider.setClaimsErr = nil

	repaired, err := env.sync.SyncOne(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, repaired)

	claims, err := env.provider.GetClaims(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, RoleManager, claims.Role)
	assert.Equal(t, "b1", claims.BranchID)
	assert.ElementsMatch(t, PermissionStrings(mustRolePerms(t, RoleManager)), claims.Permissions)
}

func TestSyncOneNoOpWhenConsistent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.addUser("u1", "u1@example.com")
	_, err := env.service.AssignRole(ctx, "u1", RoleManager, AssignOptions{BranchID: "b1"})
	require.NoError(t, err)

	writes := env.provider.setClaimsCalls
	repaired, err := env.sync.SyncOne(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, repaired)
	assert.Equal(t, writes, env.provider.setClaimsCalls, "consistent user must not be written")
}

func TestSyncOneRevokesCredentialsOnDowngrade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.addUser("u1", "u1@example.com")

	_, err := env.service.AssignRole(ctx, "u1", RoleManager, AssignOptions{BranchID: "b1"})
	require.NoError(t, err)

	// Downgrade with the claims write failing, leaving stale manager claims.
	env.provider.setClaimsErr = identity.ErrUnavailable
	_, err = env.service.AssignRole(ctx, "u1", RoleStaff, AssignOptions{BranchID: "b1"})
	require.NoError(t, err)
	env.provider.setClaimsErr = nil

	repaired, err := env.sync.SyncOne(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, repaired)
	assert.Contains(t, env.provider.revoked, "u1", "over-privileged credentials must be revoked")
}

func TestSyncOneUpgradeDoesNotRevoke(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.addUser("u1", "u1@example.com")

	_, err := env.service.AssignRole(ctx, "u1", RoleStaff, AssignOptions{BranchID: "b1"})
	require.NoError(t, err)

	env.provider.setClaimsErr = identity.ErrUnavailable
	_, err = env.service.AssignRole(ctx, "u1", RoleManager, AssignOptions{BranchID: "b1"})
	require.NoError(t, err)
	env.provider.setClaimsErr = nil

	repaired, err := env.sync.SyncOne(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, repaired)
	assert.NotContains(t, env.provider.revoked, "u1")
}

func TestSyncOneUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.sync.SyncOne(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCheckOneReportsDriftWithoutRepairing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.addUser("u1", "u1@example.com")

	env.provider.setClaimsErr = identity.ErrUnavailable
	_, err := env.service.AssignRole(ctx, "u1", RoleManager, AssignOptions{BranchID: "b1"})
	require.NoError(t, err)
	env.provider.setClaimsErr = nil

	err = env.sync.CheckOne(ctx, "u1")
	assert.ErrorIs(t, err, ErrSyncDrift)

	claims, err := env.provider.GetClaims(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, claims.Role, "dry run must not write")

	_, err = env.sync.SyncOne(ctx, "u1")
	require.NoError(t, err)
	assert.NoError(t, env.sync.CheckOne(ctx, "u1"))
}

func TestSyncAllWalksEveryPage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.sync.SetPageSize(2)

	env.provider.setClaimsErr = identity.ErrUnavailable
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("u%d", i)
		env.provider.addUser(id, fmt.Sprintf("%d@example.com", i))
		_, err := env.service.AssignRole(ctx, id, RoleReceptionist, AssignOptions{BranchID: "b1"})
		require.NoError(t, err)
	}
	env.provider.setClaimsErr = nil

	report, err := env.sync.SyncAll(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 5, report.Repaired)
	assert.Equal(t, 0, report.Failed)
	assert.Empty(t, report.NextPageToken)

	// A second sweep finds nothing to do.
	report, err = env.sync.SyncAll(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 0, report.Repaired)
}

func TestSyncAllReturnsResumeTokenOnListFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.addUser("u1", "u1@example.com")
	env.provider.listErr = identity.ErrUnavailable

	report, err := env.sync.SyncAll(ctx, "resume-here")
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	require.NotNil(t, report)
	assert.Equal(t, "resume-here", report.NextPageToken)
}

func mustRolePerms(t *testing.T, name string) []Permission {
	t.Helper()
	def, ok := SystemRoleDefault(name)
	require.True(t, ok)
	return def.Permissions
}
