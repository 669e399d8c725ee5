package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCacheUnderTest(t *testing.T, ttl time.Duration) (*PermissionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPermissionCache(client, ttl), mr
}

func countingLoader(perms []Permission) (func(context.Context) ([]Permission, error), *int) {
	calls := 0
	return func(ctx context.Context) ([]Permission, error) {
		calls++
		return perms, nil
	}, &calls
}

func TestPermissionCachePopulatesOnMiss(t *testing.T) {
	cache, _ := newCacheUnderTest(t, time.Minute)
	loader, calls := countingLoader([]Permission{PermViewPets})
	ctx := context.Background()

	got, err := cache.Permissions(ctx, "groomer", loader)
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermViewPets}, got)

	got, err = cache.Permissions(ctx, "groomer", loader)
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermViewPets}, got)
	assert.Equal(t, 1, *calls, "second read must hit the cache")
}

func TestPermissionCacheServesStaleUntilTTL(t *testing.T) {
	cache, mr := newCacheUnderTest(t, time.Minute)
	ctx := context.Background()

	first, _ := countingLoader([]Permission{PermViewPets})
	_, err := cache.Permissions(ctx, "groomer", first)
	require.NoError(t, err)

	// The definition changes, but the cached entry is still live.
	second, calls := countingLoader([]Permission{PermViewPets, PermManagePets})
	got, err := cache.Permissions(ctx, "groomer", second)
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermViewPets}, got)
	assert.Equal(t, 0, *calls)

	mr.FastForward(time.Minute + time.Second)

	got, err = cache.Permissions(ctx, "groomer", second)
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermViewPets, PermManagePets}, got)
	assert.Equal(t, 1, *calls)
}

func TestPermissionCacheKeysAreDistinctPerRole(t *testing.T) {
	cache, _ := newCacheUnderTest(t, time.Minute)
	ctx := context.Background()

	staff, _ := countingLoader([]Permission{PermViewAppointments})
	manager, _ := countingLoader([]Permission{PermManageStaff})

	got, err := cache.Permissions(ctx, "staff", staff)
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermViewAppointments}, got)

	got, err = cache.Permissions(ctx, "manager", manager)
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermManageStaff}, got)
}

func TestPermissionCacheFallsThroughOnOutage(t *testing.T) {
	cache, mr := newCacheUnderTest(t, time.Minute)
	mr.Close()

	loader, calls := countingLoader([]Permission{PermViewPets})
	got, err := cache.Permissions(context.Background(), "groomer", loader)
	require.NoError(t, err, "a cache outage must not fail authorization")
	assert.Equal(t, []Permission{PermViewPets}, got)
	assert.Equal(t, 1, *calls)
}

func TestPermissionCacheNilClientCallsLoader(t *testing.T) {
	cache := NewPermissionCache(nil, 0)
	loader, calls := countingLoader([]Permission{PermViewPets})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := cache.Permissions(ctx, "groomer", loader)
		require.NoError(t, err)
		assert.Equal(t, []Permission{PermViewPets}, got)
	}
	assert.Equal(t, 3, *calls)
}

func TestPermissionCachePropagatesLoaderError(t *testing.T) {
	cache, _ := newCacheUnderTest(t, time.Minute)
	wantErr := errors.New("catalog read failed")

	_, err := cache.Permissions(context.Background(), "groomer", func(ctx context.Context) ([]Permission, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}
